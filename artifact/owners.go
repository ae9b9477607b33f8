package artifact

import (
	"sort"
	"sync"
)

// Slot says whether an owner's collection holds one artifact or many.
type Slot int

const (
	// SlotMulti collections accumulate artifacts.
	SlotMulti Slot = iota
	// SlotSingle collections hold at most one artifact; storing replaces it.
	SlotSingle
)

func (s Slot) String() string {
	if s == SlotSingle {
		return "single"
	}
	return "multi"
}

// OwnerOption declares collections for an owner type.
type OwnerOption func(slots map[string]Slot) *ConfigurationError

// One declares single-slot collections.
func One(collections ...string) OwnerOption {
	return declare(SlotSingle, collections)
}

// Many declares multi-slot collections.
func Many(collections ...string) OwnerOption {
	return declare(SlotMulti, collections)
}

func declare(slot Slot, collections []string) OwnerOption {
	return func(slots map[string]Slot) *ConfigurationError {
		for _, c := range collections {
			if prev, ok := slots[c]; ok && prev != slot {
				return &ConfigurationError{Collection: c, Reason: "declared as both single and multi"}
			}
			slots[c] = slot
		}
		return nil
	}
}

// Owners is the closed set of owner types artifacts may be attached to,
// each with its declared collections.
type Owners struct {
	mu    sync.RWMutex
	types map[string]map[string]Slot
}

// NewOwners creates an empty registry.
func NewOwners() *Owners {
	return &Owners{types: make(map[string]map[string]Slot)}
}

// Register declares an owner type. Registering the same type again merges
// the declarations. Conflicting declarations panic with *ConfigurationError.
func (o *Owners) Register(ownerType string, opts ...OwnerOption) {
	if ownerType == "" {
		panic(&ConfigurationError{Reason: "owner type is empty"})
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	slots, ok := o.types[ownerType]
	if !ok {
		slots = make(map[string]Slot)
		o.types[ownerType] = slots
	}
	for _, opt := range opts {
		if err := opt(slots); err != nil {
			err.OwnerType = ownerType
			panic(err)
		}
	}
}

// Lookup returns the slot mode of an owner's collection.
func (o *Owners) Lookup(ownerType, collection string) (Slot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	slots, ok := o.types[ownerType]
	if !ok {
		return 0, false
	}
	slot, ok := slots[collection]
	return slot, ok
}

// Types returns the registered owner types, sorted.
func (o *Owners) Types() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.types))
	for t := range o.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// slot returns the declared slot mode or panics.
func (o *Owners) slot(ownerType, collection string) Slot {
	o.mu.RLock()
	slots, registered := o.types[ownerType]
	slot, declared := slots[collection]
	o.mu.RUnlock()
	if !registered {
		panic(&ConfigurationError{OwnerType: ownerType, Reason: "owner type is not registered"})
	}
	if !declared {
		panic(&ConfigurationError{OwnerType: ownerType, Collection: collection, Reason: "collection is not declared"})
	}
	return slot
}

// require panics unless the owner declared collection with the given slot.
func (o *Owners) require(ownerType, collection string, want Slot) {
	if got := o.slot(ownerType, collection); got != want {
		panic(&ConfigurationError{
			OwnerType:  ownerType,
			Collection: collection,
			Reason:     "declared as " + got.String() + ", used as " + want.String(),
		})
	}
}

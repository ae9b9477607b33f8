package disk

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps disk names to backends and holds the current settings
// snapshot. Settings can be swapped at runtime (config reload); every
// capability lookup resolves against a single snapshot.
type Registry struct {
	mu       sync.RWMutex
	disks    map[string]Disk
	settings atomic.Pointer[Settings]
}

// NewRegistry creates an empty Registry using settings.
func NewRegistry(settings Settings) *Registry {
	r := &Registry{disks: make(map[string]Disk)}
	r.UpdateSettings(settings)
	return r
}

// Register adds or replaces the backend for name.
func (r *Registry) Register(name string, d Disk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disks[name] = d
}

// Disk returns the backend registered under name.
func (r *Registry) Disk(name string) (Disk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDisk, name)
	}
	return d, nil
}

// Names returns the registered disk names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.disks))
	for name := range r.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Settings returns a copy of the current settings snapshot.
func (r *Registry) Settings() Settings {
	return r.settings.Load().Clone()
}

// UpdateSettings atomically replaces the settings snapshot.
func (r *Registry) UpdateSettings(s Settings) {
	cp := s.Clone()
	r.settings.Store(&cp)
}

// Default returns the name of the default disk.
func (r *Registry) Default() string {
	return r.settings.Load().Default
}

// Capability resolves the named disk against the current settings snapshot.
func (r *Registry) Capability(name string) (Capability, error) {
	d, err := r.Disk(name)
	if err != nil {
		return Capability{Disk: name}, err
	}
	return Resolve(r.Settings(), name, d.Features()), nil
}

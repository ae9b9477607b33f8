// Package lock provides keyed mutual exclusion across goroutines, processes
// or hosts, depending on the backend.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker obtains exclusive locks on string keys.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done. The
	// returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	// TryAcquire takes the lock only if it is free.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// InMemoryLock serializes holders of the same key within one process.
// The ttl argument is ignored; a lock is held until released.
type InMemoryLock struct {
	mu   sync.Mutex
	keys map[string]*memoryEntry
}

type memoryEntry struct {
	held chan struct{}
	refs int
}

// NewInMemoryLock creates an empty InMemoryLock.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{keys: make(map[string]*memoryEntry)}
}

// ref returns the entry for key, counting the caller as a holder or waiter.
func (l *InMemoryLock) ref(key string) *memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &memoryEntry{held: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *InMemoryLock) unref(key string, e *memoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

func (l *InMemoryLock) releaser(key string, e *memoryEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.held
			l.unref(key, e)
		})
	}
}

func (l *InMemoryLock) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	e := l.ref(key)
	select {
	case e.held <- struct{}{}:
		return l.releaser(key, e), nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
	}
}

func (l *InMemoryLock) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	e := l.ref(key)
	select {
	case e.held <- struct{}{}:
		return l.releaser(key, e), true, nil
	default:
		l.unref(key, e)
		return nil, false, nil
	}
}

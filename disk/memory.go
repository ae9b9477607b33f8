package disk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// MemoryDisk keeps objects in memory. It is the fake used in tests and the
// "memory" driver.
type MemoryDisk struct {
	noURLs
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryDisk creates an empty MemoryDisk.
func NewMemoryDisk() *MemoryDisk {
	return &MemoryDisk{objects: make(map[string]memoryObject)}
}

func (m *MemoryDisk) Put(_ context.Context, key string, r io.Reader, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read object data: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, modTime: time.Now()}
	return nil
}

func (m *MemoryDisk) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryDisk) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryDisk) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryDisk) Stat(_ context.Context, key string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return FileInfo{Key: key, Size: int64(len(obj.data)), ModTime: obj.modTime, ContentType: obj.contentType}, nil
}

// Keys returns every stored key, sorted.
func (m *MemoryDisk) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

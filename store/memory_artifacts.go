package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryArtifactStore is an in-memory ArtifactStore for tests and
// single-process deployments.
type MemoryArtifactStore struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]*Artifact
}

// NewMemoryArtifactStore creates an empty MemoryArtifactStore.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: make(map[uuid.UUID]*Artifact)}
}

func (s *MemoryArtifactStore) Create(_ context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, ok := s.artifacts[a.ID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.artifacts {
		if existing.Disk == a.Disk && existing.Path == a.Path {
			return ErrDuplicate
		}
	}
	cp := *a
	s.artifacts[a.ID] = &cp
	return nil
}

func (s *MemoryArtifactStore) Get(_ context.Context, id uuid.UUID) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryArtifactStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.artifacts[id]; !ok {
		return ErrNotFound
	}
	delete(s.artifacts, id)
	return nil
}

func (s *MemoryArtifactStore) List(_ context.Context, f ArtifactFilter) ([]*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Artifact
	for _, a := range s.artifacts {
		if !f.matches(a) {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

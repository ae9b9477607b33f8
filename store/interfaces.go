package store

import (
	"context"

	"github.com/google/uuid"
)

// ArtifactStore persists artifact metadata rows.
type ArtifactStore interface {
	// Create inserts a new row. It returns ErrDuplicate when another row
	// already claims the same (disk, path) or ID.
	Create(ctx context.Context, a *Artifact) error
	// Get returns the row with the given ID or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Artifact, error)
	// Delete removes the row with the given ID or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns rows matching the filter, oldest first.
	List(ctx context.Context, f ArtifactFilter) ([]*Artifact, error)
}

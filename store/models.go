package store

import (
	"time"

	"github.com/google/uuid"
)

// Owner is the polymorphic back-reference from an artifact to the entity it
// is attached to. The artifact does not own its parent.
type Owner struct {
	Type string `json:"owner_type"`
	ID   string `json:"owner_id"`
}

// String returns "type:id".
func (o Owner) String() string { return o.Type + ":" + o.ID }

// Artifact is the metadata row describing one stored object.
// Rows are immutable once created; they are only ever deleted.
type Artifact struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	Path       string    `json:"path"`
	Disk       string    `json:"disk"`
	Hash       string    `json:"file_hash"` // SHA256 hex digest
	Collection string    `json:"collection"`
	Size       int64     `json:"size"`
	Owner      Owner     `json:"owner"`
	CreatedAt  time.Time `json:"created_at"`
}

// ArtifactFilter narrows List results. Empty fields match everything.
type ArtifactFilter struct {
	OwnerType  string
	OwnerID    string
	Collection string
}

func (f ArtifactFilter) matches(a *Artifact) bool {
	if f.OwnerType != "" && a.Owner.Type != f.OwnerType {
		return false
	}
	if f.OwnerID != "" && a.Owner.ID != f.OwnerID {
		return false
	}
	if f.Collection != "" && a.Collection != f.Collection {
		return false
	}
	return true
}

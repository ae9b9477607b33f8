// Package artifact attaches uploaded files to arbitrary owners, stores their
// bytes on a configured disk, records metadata rows and derives the URLs a
// stored file may be reached under.
package artifact

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/artifacts/store"
)

// Artifact is a stored file's metadata record.
type Artifact = store.Artifact

// Owner is the polymorphic (type, id) reference an artifact is attached to.
type Owner = store.Owner

// DefaultCollection is used when a caller passes an empty collection.
const DefaultCollection = "default"

// Sentinel errors returned by Service.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrStorageWrite  = errors.New("storage write failed")
	ErrStorageDelete = errors.New("storage delete failed")
	ErrNotFound      = errors.New("artifact not found")
)

// BatchError reports a batch ingestion that stopped at Index. Artifacts in
// Stored were committed before the failure and are not rolled back.
type BatchError struct {
	Index  int
	Stored []*Artifact
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch item %d: %v (%d stored before failure)", e.Index, e.Err, len(e.Stored))
}

func (e *BatchError) Unwrap() error { return e.Err }

// ConfigurationError is raised (via panic) when code asks an owner type for
// a collection or slot mode it never declared.
type ConfigurationError struct {
	OwnerType  string
	Collection string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("artifact configuration: owner type %q: %s", e.OwnerType, e.Reason)
	}
	return fmt.Sprintf("artifact configuration: owner type %q collection %q: %s", e.OwnerType, e.Collection, e.Reason)
}

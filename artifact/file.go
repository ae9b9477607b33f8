package artifact

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const defaultMimeType = "application/octet-stream"

// File is an uploaded file waiting to be ingested.
type File struct {
	// Name is the client-supplied file name. Only its base is kept.
	Name string
	// ContentType is the declared MIME type, if any.
	ContentType string
	Reader      io.Reader
}

// NewFile wraps r as a File.
func NewFile(name, contentType string, r io.Reader) *File {
	return &File{Name: name, ContentType: contentType, Reader: r}
}

func (f *File) validate() error {
	switch {
	case f == nil:
		return fmt.Errorf("%w: file is nil", ErrInvalidInput)
	case f.Reader == nil:
		return fmt.Errorf("%w: file %q has no content", ErrInvalidInput, f.Name)
	case f.baseName() == "":
		return fmt.Errorf("%w: file name is empty", ErrInvalidInput)
	}
	return nil
}

func (f *File) baseName() string {
	name := filepath.Base(strings.ReplaceAll(f.Name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// mimeType returns the declared type, else one derived from the extension.
// A declared generic octet-stream type counts as undeclared.
func (f *File) mimeType() string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" && ct != defaultMimeType {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(f.baseName())); ct != "" {
		return ct
	}
	return defaultMimeType
}

// storageName returns a collision-resistant object name: 32 hex characters
// from a random UUID plus the original extension, or one registered for
// mimeType when the original name has none.
func storageName(f *File, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(f.baseName()))
	if ext == "" {
		if base, _, err := mime.ParseMediaType(mimeType); err == nil {
			if exts, _ := mime.ExtensionsByType(base); len(exts) > 0 {
				ext = exts[0]
			}
		}
	}
	id := uuid.New()
	return fmt.Sprintf("%x%s", id[:], ext)
}

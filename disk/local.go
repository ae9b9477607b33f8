package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// LocalDisk stores objects on the local filesystem under a root directory.
type LocalDisk struct {
	noURLs
	root string
}

// NewLocalDisk creates a LocalDisk rooted at the given directory.
// The directory is created if it does not exist.
func NewLocalDisk(root string) (*LocalDisk, error) {
	if root == "" {
		return nil, fmt.Errorf("local disk: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	return &LocalDisk{root: abs}, nil
}

// Root returns the absolute root path.
func (l *LocalDisk) Root() string { return l.root }

// resolve converts a disk key to an absolute filesystem path, rejecting keys
// that escape the root.
func (l *LocalDisk) resolve(key string) (string, error) {
	abs := filepath.Join(l.root, filepath.FromSlash(filepath.Clean("/"+key)))
	if abs == l.root || !strings.HasPrefix(abs, l.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %q escapes disk root", key)
	}
	return abs, nil
}

// Put writes to a temporary file beside the target and renames it into
// place, so a failed write never leaves a partial object at key.
func (l *LocalDisk) Put(_ context.Context, key string, r io.Reader, _ string) error {
	abs, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

func (l *LocalDisk) Get(_ context.Context, key string) (io.ReadCloser, error) {
	abs, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (l *LocalDisk) Exists(_ context.Context, key string) (bool, error) {
	abs, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	return !info.IsDir(), nil
}

func (l *LocalDisk) Delete(_ context.Context, key string) error {
	abs, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (l *LocalDisk) Stat(_ context.Context, key string) (FileInfo, error) {
	abs, err := l.resolve(key)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat file: %w", err)
	}
	return FileInfo{
		Key:         key,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
	}, nil
}

// Package storage holds checkpoint blobs. FileStore abstracts the backend
// so the registry works the same against a local directory and an S3
// bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidPath is returned for paths that are absolute or leave the
// store root.
var ErrInvalidPath = errors.New("storage: invalid path")

// FileStore is a flat namespace of files addressed by slash-separated
// relative paths. Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens path. A missing file yields an error wrapping
	// os.ErrNotExist. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens path for writing, replacing any previous content. The
	// new content becomes visible only after Close returns nil.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes path. Removing a missing file is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)
}

// Get reads the whole file at path.
func Get(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	r, err := fs.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Put writes data to path.
func Put(ctx context.Context, fs FileStore, path string, data []byte) error {
	w, err := fs.Write(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return w.Close()
}

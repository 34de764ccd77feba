package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Compile-time check that LocalStore implements BlobStore.
var _ BlobStore = (*LocalStore)(nil)

// LocalStore implements BlobStore on local disk. It backs development and
// tests; production deployments use S3Store.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "photocull-blobs")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

// Root returns the blob directory path.
func (s *LocalStore) Root() string {
	return s.root
}

// Put writes data to disk under the key and returns a file URL.
func (s *LocalStore) Put(ctx context.Context, key string, data io.Reader, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create blob path: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write blob file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close blob file: %w", err)
	}
	return "file://" + path, nil
}

// Get returns a reader over the blob's bytes.
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return f, nil
}

// Delete removes a single blob.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob file: %w", err)
	}
	return nil
}

// DeletePrefix removes every blob under the given key prefix.
func (s *LocalStore) DeletePrefix(_ context.Context, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return nil
	}
	if err := os.RemoveAll(s.path(prefix)); err != nil {
		return fmt.Errorf("remove blob prefix: %w", err)
	}
	return nil
}

// Presign returns the file URL; local blobs need no signing.
func (s *LocalStore) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "file://" + s.path(key), nil
}

// path maps a blob key onto the local filesystem.
func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

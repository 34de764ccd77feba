// Package storage provides blob and scratch-file storage capabilities.
// It defines the BlobStore interface (port) for hexagonal architecture and
// implementations for local disk and S3-compatible object stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BlobStore defines the interface for content storage. Originals live under
// jobs/{jobId}/original/ and enhanced renderings under jobs/{jobId}/enhanced/.
type BlobStore interface {
	// Put uploads data under the given key and returns a URL the content
	// can be fetched from.
	Put(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)

	// Get returns a reader over the blob's bytes.
	// The caller is responsible for closing the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a single blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every blob under the given key prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Presign returns a time-limited GET URL for the blob.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// OriginalKey returns the blob key for an original media file.
func OriginalKey(jobID, filename string) string {
	return fmt.Sprintf("jobs/%s/original/%s", jobID, filename)
}

// EnhancedKey returns the blob key for an enhanced rendering.
func EnhancedKey(jobID, filename string) string {
	return fmt.Sprintf("jobs/%s/enhanced/enhanced_%s", jobID, filename)
}

// JobPrefix returns the key prefix holding all of a job's blobs.
func JobPrefix(jobID string) string {
	return fmt.Sprintf("jobs/%s/", jobID)
}

// Scratch manages the scratch files owned by upload sessions.
type Scratch struct {
	dir string
}

// NewScratch creates a scratch area rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewScratch(dir string) (*Scratch, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "photocull")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// Create allocates a scratch file for the given job.
func (s *Scratch) Create(jobID string) (*os.File, error) {
	f, err := os.Create(s.Path(jobID))
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	return f, nil
}

// Path returns the scratch file path for a job.
func (s *Scratch) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+".archive")
}

// Remove deletes a scratch file. Removing a missing file is not an error.
func (s *Scratch) Remove(jobID string) error {
	err := os.Remove(s.Path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove scratch file: %w", err)
	}
	return nil
}

// Exists reports whether a job's scratch file is present.
func (s *Scratch) Exists(jobID string) bool {
	_, err := os.Stat(s.Path(jobID))
	return err == nil
}

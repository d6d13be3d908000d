// Package storage persists finished export archives and signs download links for them.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a stored archive no longer exists.
var ErrObjectNotFound = errors.New("storage: object not found")

// ArchiveStore is implemented by every export backend.
type ArchiveStore interface {
	Save(ctx context.Context, key string, r io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	CleanupOlderThan(ctx context.Context, ttl time.Duration) ([]string, error)
}

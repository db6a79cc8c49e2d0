// Package store defines the key-value blob store used for per-channel
// settings and conversation history.
//
// The store is deliberately opaque to the voice pipeline: callers put and get
// byte blobs under string keys and interpret them themselves. Implementations
// live in sub-packages ([postgres] for production, [mem] for tests and
// development without a database).
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete when no blob exists under the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a key-value blob store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put stores value under key, replacing any existing blob.
	Put(ctx context.Context, key string, value []byte) error

	// Get returns the blob stored under key, or [ErrNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob under key, returning [ErrNotFound] when there
	// was none.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

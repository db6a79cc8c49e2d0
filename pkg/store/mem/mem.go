// Package mem provides an in-memory [store.Store] implementation for tests
// and for running without a database.
package mem

import (
	"context"
	"sync"

	"github.com/hexlantern/sibyl/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a map-backed blob store. The zero value is not usable; create one
// with [New]. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

// Put implements [store.Store]. The value is copied, so callers may reuse
// the slice.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), value...)
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// Delete implements [store.Store].
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() error { return nil }

// Package postgres provides the PostgreSQL-backed [store.Store]
// implementation used in production deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexlantern/sibyl/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a blob store backed by a single PostgreSQL table. All operations
// are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database at dsn and ensures the
// blobs table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// migrate ensures the blobs table exists. Idempotent.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		CREATE TABLE IF NOT EXISTS blobs (
		    key        text PRIMARY KEY,
		    value      bytea NOT NULL,
		    updated_at timestamptz NOT NULL DEFAULT now()
		)`
	_, err := pool.Exec(ctx, q)
	return err
}

// Put implements [store.Store] as an upsert.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	const q = `
		INSERT INTO blobs (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("postgres store: put %q: %w", key, err)
	}
	return nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM blobs WHERE key = $1`

	var value []byte
	err := s.pool.QueryRow(ctx, q, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %q: %w", key, err)
	}
	return value, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM blobs WHERE key = $1`

	tag, err := s.pool.Exec(ctx, q, key)
	if err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Close implements [store.Store]. It releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

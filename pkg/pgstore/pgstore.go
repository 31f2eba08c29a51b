// Package pgstore implements the ocelot.Store interface on PostgreSQL
// using pgx. It also provides a durable ocelot.KeyValueCache backed by
// a table, so Tiger Cache bitmaps survive restarts.
//
// The adapter owns the tables created by Migrate: relation tuples with
// alive-rows-only partial indexes, per-zone revision counters bumped
// via atomic upserts, the global resource-ID mapping, directory grants,
// and the cache tier.
package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocelot-io/ocelot"
)

// Store is the PostgreSQL ocelot.Store implementation. Safe for
// concurrent use; all concurrency control is delegated to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool to the database. The caller owns the returned
// store and should Close it on shutdown.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. The caller retains ownership of
// the pool's lifecycle.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the ocelot DDL. Idempotent; safe to run on every
// startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply ocelot schema: %w", err)
	}
	return nil
}

// Cache returns the durable KeyValueCache tier backed by the
// ocelot_cache table.
func (s *Store) Cache() ocelot.KeyValueCache {
	return &tableCache{pool: s.pool}
}

var _ ocelot.Store = (*Store)(nil)

package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ocelot-io/ocelot"
)

// tableCache implements ocelot.KeyValueCache on the ocelot_cache
// table. Used as the durable cache tier: Tiger Cache entries stored
// here survive restarts, with expired rows filtered on read.
type tableCache struct {
	pool *pgxpool.Pool
}

func (c *tableCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.pool.QueryRow(ctx, `
		SELECT value FROM ocelot_cache
		WHERE cache_key = $1 AND (expires_at IS NULL OR expires_at >= now())`,
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

func (c *tableCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := c.pool.Exec(ctx, `
		INSERT INTO ocelot_cache (cache_key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *tableCache) Delete(ctx context.Context, key string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM ocelot_cache WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeletePattern translates the '*' wildcard pattern to a LIKE pattern,
// escaping LIKE metacharacters in the literal parts.
func (c *tableCache) DeletePattern(ctx context.Context, pattern string) error {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(pattern)
	like := strings.ReplaceAll(escaped, "*", "%")
	if _, err := c.pool.Exec(ctx, `DELETE FROM ocelot_cache WHERE cache_key LIKE $1`, like); err != nil {
		return fmt.Errorf("cache delete pattern: %w", err)
	}
	return nil
}

func (c *tableCache) Ping(ctx context.Context) error {
	var one int
	if err := c.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("cache ping: %w", err)
	}
	return nil
}

var _ ocelot.KeyValueCache = (*tableCache)(nil)

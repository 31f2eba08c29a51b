package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// IncrementRevision atomically bumps and returns the zone's revision
// counter. The upsert-increment is a single statement, so concurrent
// callers across processes observe strictly increasing values without
// any in-process coordination. Gaps can appear if a caller's
// transaction aborts after the increment; gaps are fine,
// non-monotonicity is not.
func (s *Store) IncrementRevision(ctx context.Context, zoneID string) (int64, error) {
	var rev int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ocelot_sequences (zone_id, revision)
		VALUES ($1, 1)
		ON CONFLICT (zone_id)
		DO UPDATE SET revision = ocelot_sequences.revision + 1
		RETURNING revision`,
		zoneID,
	).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("increment revision: %w", err)
	}
	return rev, nil
}

// CurrentRevision reads the zone's counter. Zones that have never been
// written read as 0, never as an error.
func (s *Store) CurrentRevision(ctx context.Context, zoneID string) (int64, error) {
	var rev int64
	err := s.pool.QueryRow(ctx,
		`SELECT revision FROM ocelot_sequences WHERE zone_id = $1`, zoneID,
	).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

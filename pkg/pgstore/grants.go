package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ocelot-io/ocelot"
)

const grantColumns = `id, subject_type, subject_id, permission, directory, resource_type,
	zone_id, grant_revision, include_future_files, state,
	expanded_count, total_count, error_message, created_at`

func scanGrant(row pgx.Row) (ocelot.DirectoryGrant, error) {
	var g ocelot.DirectoryGrant
	err := row.Scan(
		&g.ID, &g.Subject.Type, &g.Subject.ID, &g.Permission, &g.Directory, &g.ResourceType,
		&g.ZoneID, &g.GrantRevision, &g.IncludeFutureFiles, &g.State,
		&g.ExpandedCount, &g.TotalCount, &g.ErrorMessage, &g.CreatedAt,
	)
	return g, err
}

// CreateGrant stores a new grant row.
func (s *Store) CreateGrant(ctx context.Context, g ocelot.DirectoryGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ocelot_grants (
			id, subject_type, subject_id, permission, directory, resource_type,
			zone_id, grant_revision, include_future_files, state,
			expanded_count, total_count, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		g.ID, g.Subject.Type, g.Subject.ID, g.Permission, g.Directory, g.ResourceType,
		g.ZoneID, g.GrantRevision, g.IncludeFutureFiles, g.State,
		g.ExpandedCount, g.TotalCount, g.ErrorMessage, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

// Grant returns the grant by ID, or ocelot.ErrGrantNotFound.
func (s *Store) Grant(ctx context.Context, id string) (ocelot.DirectoryGrant, error) {
	g, err := scanGrant(s.pool.QueryRow(ctx,
		`SELECT `+grantColumns+` FROM ocelot_grants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ocelot.DirectoryGrant{}, ocelot.ErrGrantNotFound
	}
	if err != nil {
		return ocelot.DirectoryGrant{}, fmt.Errorf("read grant: %w", err)
	}
	return g, nil
}

// DeleteGrant removes the grant, or returns ocelot.ErrGrantNotFound.
func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ocelot_grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ocelot.ErrGrantNotFound
	}
	return nil
}

// ClaimPendingGrant atomically moves the oldest pending grant to
// in_progress and returns it. SKIP LOCKED lets concurrent workers
// claim distinct grants without blocking each other.
func (s *Store) ClaimPendingGrant(ctx context.Context) (ocelot.DirectoryGrant, bool, error) {
	g, err := scanGrant(s.pool.QueryRow(ctx, `
		UPDATE ocelot_grants SET state = 'in_progress'
		WHERE id = (
			SELECT id FROM ocelot_grants
			WHERE state = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+grantColumns))
	if errors.Is(err, pgx.ErrNoRows) {
		return ocelot.DirectoryGrant{}, false, nil
	}
	if err != nil {
		return ocelot.DirectoryGrant{}, false, fmt.Errorf("claim pending grant: %w", err)
	}
	return g, true, nil
}

// UpdateGrantProgress persists batch progress.
func (s *Store) UpdateGrantProgress(ctx context.Context, id string, expanded, total int64) error {
	return s.updateGrant(ctx, id, `
		UPDATE ocelot_grants SET expanded_count = $2, total_count = $3 WHERE id = $1`,
		id, expanded, total)
}

// CompleteGrant moves the grant to completed.
func (s *Store) CompleteGrant(ctx context.Context, id string) error {
	return s.updateGrant(ctx, id, `
		UPDATE ocelot_grants SET state = 'completed', error_message = '' WHERE id = $1`, id)
}

// FailGrant moves the grant to failed with the message.
func (s *Store) FailGrant(ctx context.Context, id, message string) error {
	return s.updateGrant(ctx, id, `
		UPDATE ocelot_grants SET state = 'failed', error_message = $2 WHERE id = $1`, id, message)
}

func (s *Store) updateGrant(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update grant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ocelot.ErrGrantNotFound
	}
	return nil
}

// GrantsForAncestors returns grants in the zone rooted at any of the
// given directories, any state.
func (s *Store) GrantsForAncestors(ctx context.Context, zoneID string, resourceType ocelot.ObjectType, dirs []string) ([]ocelot.DirectoryGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantColumns+` FROM ocelot_grants
		WHERE zone_id = $1 AND resource_type = $2 AND directory = ANY($3)`,
		zoneID, resourceType, dirs,
	)
	if err != nil {
		return nil, fmt.Errorf("read ancestor grants: %w", err)
	}
	return collectGrants(rows)
}

// GrantsForSubject returns the zone's grants for one subject and
// permission, any state.
func (s *Store) GrantsForSubject(ctx context.Context, zoneID string, subject ocelot.Object, permission ocelot.Relation, resourceType ocelot.ObjectType) ([]ocelot.DirectoryGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+grantColumns+` FROM ocelot_grants
		WHERE zone_id = $1 AND resource_type = $2
		  AND subject_type = $3 AND subject_id = $4 AND permission = $5`,
		zoneID, resourceType, subject.Type, subject.ID, permission,
	)
	if err != nil {
		return nil, fmt.Errorf("read subject grants: %w", err)
	}
	return collectGrants(rows)
}

func collectGrants(rows pgx.Rows) ([]ocelot.DirectoryGrant, error) {
	defer rows.Close()
	var out []ocelot.DirectoryGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

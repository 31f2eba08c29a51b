package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/ocelot-io/ocelot"
)

// EnsureResource returns the mapping for (resourceType, key), creating
// it on first reference. Existing rows are found with a plain select:
// an upsert would consume an identity value on every call, and this is
// on the hot path of bitmap re-derivation, so re-ensuring must never
// advance the sequence. Insert races lose to ON CONFLICT DO NOTHING
// and settle with a re-read of the winner's row.
func (s *Store) EnsureResource(ctx context.Context, resourceType ocelot.ObjectType, key string, createdRevision int64) (ocelot.Resource, error) {
	res, found, err := s.LookupResource(ctx, resourceType, key)
	if err != nil {
		return ocelot.Resource{}, err
	}
	if found {
		return res, nil
	}

	res = ocelot.Resource{Type: resourceType, Key: key}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO ocelot_resources (resource_type, resource_key, created_revision)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_type, resource_key) DO NOTHING
		RETURNING id, created_revision`,
		resourceType, key, createdRevision,
	).Scan(&id, &res.CreatedRevision)
	if errors.Is(err, pgx.ErrNoRows) {
		res, found, err = s.LookupResource(ctx, resourceType, key)
		if err != nil {
			return ocelot.Resource{}, err
		}
		if !found {
			return ocelot.Resource{}, fmt.Errorf("ensure resource: row for %q vanished after conflict", key)
		}
		return res, nil
	}
	if err != nil {
		return ocelot.Resource{}, fmt.Errorf("ensure resource: %w", err)
	}
	if id < 0 || id > math.MaxUint32 {
		return ocelot.Resource{}, fmt.Errorf("resource id %d overflows bitmap id space", id)
	}
	res.ID = uint32(id)
	return res, nil
}

// LookupResource returns the existing mapping, if any.
func (s *Store) LookupResource(ctx context.Context, resourceType ocelot.ObjectType, key string) (ocelot.Resource, bool, error) {
	res := ocelot.Resource{Type: resourceType, Key: key}
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_revision FROM ocelot_resources
		WHERE resource_type = $1 AND resource_key = $2`,
		resourceType, key,
	).Scan(&id, &res.CreatedRevision)
	if errors.Is(err, pgx.ErrNoRows) {
		return ocelot.Resource{}, false, nil
	}
	if err != nil {
		return ocelot.Resource{}, false, fmt.Errorf("lookup resource: %w", err)
	}
	res.ID = uint32(id)
	return res, true, nil
}

// ResourceKeys resolves IDs to keys ordered by ID, skipping unknown
// IDs.
func (s *Store) ResourceKeys(ctx context.Context, resourceType ocelot.ObjectType, ids []uint32) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	int64s := make([]int64, len(ids))
	for i, id := range ids {
		int64s[i] = int64(id)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT resource_key FROM ocelot_resources
		WHERE resource_type = $1 AND id = ANY($2)
		ORDER BY id`,
		resourceType, int64s,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve resource keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan resource key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListDescendants enumerates resources strictly below dir ordered by
// ID with a revision cap. Offsets are stable across calls because IDs
// are never reassigned and the cap excludes later insertions.
func (s *Store) ListDescendants(ctx context.Context, resourceType ocelot.ObjectType, dir string, maxRevision int64, offset, limit int) ([]ocelot.Resource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource_key, id, created_revision FROM ocelot_resources
		WHERE resource_type = $1
		  AND resource_key LIKE $2
		  AND ($3 = 0 OR created_revision <= $3)
		ORDER BY id
		OFFSET $4 LIMIT $5`,
		resourceType, descendantLikePattern(dir), maxRevision, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	defer rows.Close()

	var out []ocelot.Resource
	for rows.Next() {
		res := ocelot.Resource{Type: resourceType}
		var id int64
		if err := rows.Scan(&res.Key, &id, &res.CreatedRevision); err != nil {
			return nil, fmt.Errorf("scan descendant: %w", err)
		}
		res.ID = uint32(id)
		out = append(out, res)
	}
	return out, rows.Err()
}

// CountDescendants returns the total ListDescendants would enumerate.
func (s *Store) CountDescendants(ctx context.Context, resourceType ocelot.ObjectType, dir string, maxRevision int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM ocelot_resources
		WHERE resource_type = $1
		  AND resource_key LIKE $2
		  AND ($3 = 0 OR created_revision <= $3)`,
		resourceType, descendantLikePattern(dir), maxRevision,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count descendants: %w", err)
	}
	return count, nil
}

// descendantLikePattern builds the LIKE pattern matching strict
// descendants of dir, escaping LIKE metacharacters in the path.
func descendantLikePattern(dir string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(dir)
	if dir == "/" {
		return escaped + "%"
	}
	return escaped + "/%"
}

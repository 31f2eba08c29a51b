package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ocelot-io/ocelot"
)

// WriteTuple upserts on the full tuple key, refreshing expiry and
// revision for an existing fact.
func (s *Store) WriteTuple(ctx context.Context, t ocelot.Tuple) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ocelot_tuples (
			subject_type, subject_id, subject_relation, relation,
			object_type, object_id, zone_id, expires_at, created_revision
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject_type, subject_id, subject_relation, relation, object_type, object_id, zone_id)
		DO UPDATE SET expires_at = EXCLUDED.expires_at, created_revision = EXCLUDED.created_revision`,
		t.Subject.Type, t.Subject.ID, t.SubjectRelation, t.Relation,
		t.Object.Type, t.Object.ID, t.ZoneID, t.ExpiresAt, t.CreatedRevision,
	)
	if err != nil {
		return fmt.Errorf("write tuple: %w", err)
	}
	return nil
}

// DeleteTuple hard-deletes the tuple, or returns
// ocelot.ErrTupleNotFound.
func (s *Store) DeleteTuple(ctx context.Context, key ocelot.TupleKey) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM ocelot_tuples
		WHERE subject_type = $1 AND subject_id = $2 AND subject_relation = $3
		  AND relation = $4 AND object_type = $5 AND object_id = $6 AND zone_id = $7`,
		key.Subject.Type, key.Subject.ID, key.SubjectRelation,
		key.Relation, key.Object.Type, key.Object.ID, key.ZoneID,
	)
	if err != nil {
		return fmt.Errorf("delete tuple: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ocelot.ErrTupleNotFound
	}
	return nil
}

// ReadTuples returns alive tuples matching the filter. Expired rows
// are excluded at query time; the partial indexes cover the common
// never-expiring case.
func (s *Store) ReadTuples(ctx context.Context, filter ocelot.TupleFilter) ([]ocelot.Tuple, error) {
	var (
		conds = []string{"(expires_at IS NULL OR expires_at >= now())"}
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Subject != nil {
		conds = append(conds, "subject_type = "+arg(filter.Subject.Type))
		conds = append(conds, "subject_id = "+arg(filter.Subject.ID))
	}
	if filter.SubjectRelation != nil {
		conds = append(conds, "subject_relation = "+arg(*filter.SubjectRelation))
	}
	if filter.Relation != "" {
		conds = append(conds, "relation = "+arg(filter.Relation))
	}
	if filter.Object != nil {
		conds = append(conds, "object_type = "+arg(filter.Object.Type))
		conds = append(conds, "object_id = "+arg(filter.Object.ID))
	}
	if filter.ObjectType != "" && filter.Object == nil {
		conds = append(conds, "object_type = "+arg(filter.ObjectType))
	}
	if filter.ZoneID != "" {
		conds = append(conds, "zone_id = "+arg(filter.ZoneID))
	}
	if filter.UsersetOnly {
		conds = append(conds, "subject_relation <> ''")
	}
	if filter.MaxRevision > 0 {
		conds = append(conds, "created_revision <= "+arg(filter.MaxRevision))
	}

	query := `
		SELECT subject_type, subject_id, subject_relation, relation,
		       object_type, object_id, zone_id, expires_at, created_revision
		FROM ocelot_tuples
		WHERE ` + strings.Join(conds, " AND ")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read tuples: %w", err)
	}
	defer rows.Close()

	var out []ocelot.Tuple
	for rows.Next() {
		var (
			t         ocelot.Tuple
			expiresAt *time.Time
		)
		if err := rows.Scan(
			&t.Subject.Type, &t.Subject.ID, &t.SubjectRelation, &t.Relation,
			&t.Object.Type, &t.Object.ID, &t.ZoneID, &expiresAt, &t.CreatedRevision,
		); err != nil {
			return nil, fmt.Errorf("scan tuple: %w", err)
		}
		t.ExpiresAt = expiresAt
		out = append(out, t)
	}
	return out, rows.Err()
}

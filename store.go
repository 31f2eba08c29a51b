package ocelot

import (
	"context"
)

// TupleFilter selects tuples from a TupleStore. Zero-valued fields
// match everything. Implementations must always exclude expired tuples
// and, when MaxRevision is non-zero, tuples created after it.
type TupleFilter struct {
	// Subject matches the exact subject object when non-nil.
	Subject *Object

	// SubjectRelation matches the userset relation when non-nil. A
	// pointer to the empty relation matches only plain (non-userset)
	// tuples.
	SubjectRelation *Relation

	// Relation matches the tuple relation when non-empty.
	Relation Relation

	// Object matches the exact object when non-nil.
	Object *Object

	// ObjectType matches any object of the type when non-empty and
	// Object is nil. Used by list/materialization paths.
	ObjectType ObjectType

	// ZoneID restricts the search to one zone when non-empty. The
	// resolver usually leaves this empty and filters visibility itself
	// so that cross-zone-readable tuples stored in other zones are
	// found.
	ZoneID string

	// UsersetOnly selects only tuples with a subject relation set.
	UsersetOnly bool

	// MaxRevision bounds reads to tuples created at or before the
	// given zone revision. Zero means unpinned.
	MaxRevision int64
}

// Matches reports whether the tuple satisfies the filter, ignoring
// expiry (which needs a clock and belongs to the store). Shared by the
// in-memory store and tests.
func (f TupleFilter) Matches(t Tuple) bool {
	if f.Subject != nil && t.Subject != *f.Subject {
		return false
	}
	if f.SubjectRelation != nil && t.SubjectRelation != *f.SubjectRelation {
		return false
	}
	if f.Relation != "" && t.Relation != f.Relation {
		return false
	}
	if f.Object != nil && t.Object != *f.Object {
		return false
	}
	if f.ObjectType != "" && t.Object.Type != f.ObjectType {
		return false
	}
	if f.ZoneID != "" && t.ZoneID != f.ZoneID {
		return false
	}
	if f.UsersetOnly && t.SubjectRelation == "" {
		return false
	}
	if f.MaxRevision > 0 && t.CreatedRevision > f.MaxRevision {
		return false
	}
	return true
}

// TupleStore is the durable home of relation tuples. All other
// components reference tuples by query, never by direct handle.
//
// WriteTuple upserts on the tuple key: re-granting an existing fact
// refreshes its expiry and revision rather than duplicating it.
// ReadTuples must exclude expired tuples.
type TupleStore interface {
	WriteTuple(ctx context.Context, t Tuple) error
	DeleteTuple(ctx context.Context, key TupleKey) error
	ReadTuples(ctx context.Context, filter TupleFilter) ([]Tuple, error)
}

// SequenceStore owns the per-zone revision counters.
//
// IncrementRevision is atomic increment-and-return; concurrent callers
// in the same zone must observe strictly increasing values. Gaps are
// acceptable, non-monotonicity is not. CurrentRevision is a plain read
// returning 0 for zones that have never been written ("epoch zero").
type SequenceStore interface {
	IncrementRevision(ctx context.Context, zoneID string) (int64, error)
	CurrentRevision(ctx context.Context, zoneID string) (int64, error)
}

// Resource is one row of the global resource-ID mapping: a bijection
// from (type, key) to a dense integer used inside bitmaps. IDs are
// assigned lazily on first reference and never reassigned.
//
// CreatedRevision records the zone revision at registration so that
// revision-capped descendant enumeration can exclude files created
// after a directory grant.
type Resource struct {
	Type            ObjectType
	Key             string
	ID              uint32
	CreatedRevision int64
}

// ResourceStore owns the resource-ID mapping. The mapping is global,
// not zone-scoped: a path is the same object regardless of which zone
// is asking.
type ResourceStore interface {
	// EnsureResource returns the mapping for (resourceType, key),
	// creating it with the given revision if it does not exist.
	// Existing mappings keep their original ID and revision.
	EnsureResource(ctx context.Context, resourceType ObjectType, key string, createdRevision int64) (Resource, error)

	// LookupResource returns the existing mapping, if any.
	LookupResource(ctx context.Context, resourceType ObjectType, key string) (Resource, bool, error)

	// ResourceKeys resolves integer IDs back to string keys. Unknown
	// IDs are skipped.
	ResourceKeys(ctx context.Context, resourceType ObjectType, ids []uint32) ([]string, error)

	// ListDescendants enumerates resources strictly below dir, ordered
	// by ID, honoring a revision cap (0 = uncapped). Offset/limit
	// pagination keeps expansion batches resumable: IDs are never
	// reassigned and the cap is fixed per grant, so offsets are stable.
	ListDescendants(ctx context.Context, resourceType ObjectType, dir string, maxRevision int64, offset, limit int) ([]Resource, error)

	// CountDescendants returns the total matching ListDescendants.
	CountDescendants(ctx context.Context, resourceType ObjectType, dir string, maxRevision int64) (int64, error)
}

// GrantStore persists directory grants and their expansion state.
type GrantStore interface {
	CreateGrant(ctx context.Context, g DirectoryGrant) error

	// Grant returns the grant by ID, or ErrGrantNotFound.
	Grant(ctx context.Context, id string) (DirectoryGrant, error)

	DeleteGrant(ctx context.Context, id string) error

	// ClaimPendingGrant atomically moves the oldest pending grant to
	// in_progress and returns it. The second result is false when no
	// pending grant exists. Recovery from a crashed worker is moving
	// the grant back to pending; its persisted progress makes the
	// re-claim resume rather than restart.
	ClaimPendingGrant(ctx context.Context) (DirectoryGrant, bool, error)

	UpdateGrantProgress(ctx context.Context, id string, expanded, total int64) error
	CompleteGrant(ctx context.Context, id string) error
	FailGrant(ctx context.Context, id, message string) error

	// GrantsForAncestors returns grants in the zone whose directory is
	// one of the given paths, any state. Callers filter by subject,
	// permission, and state.
	GrantsForAncestors(ctx context.Context, zoneID string, resourceType ObjectType, dirs []string) ([]DirectoryGrant, error)

	// GrantsForSubject returns the zone's grants for one subject and
	// permission, any state.
	GrantsForSubject(ctx context.Context, zoneID string, subject Object, permission Relation, resourceType ObjectType) ([]DirectoryGrant, error)
}

// Store is the full persistence surface the engine needs. The engine
// is written against this narrow interface so any transactional
// key-sorted backend can satisfy it; pkg/pgstore and pkg/memstore are
// the bundled implementations.
type Store interface {
	TupleStore
	SequenceStore
	ResourceStore
	GrantStore
}

// Package memstore provides an in-memory implementation of the
// ocelot.Store interface. It backs the engine's unit tests and is
// usable as an embedded store for single-process deployments where
// durability is not required.
//
// All operations are guarded by a single mutex; the semantics match
// pkg/pgstore (upsert on tuple key, atomic sequence increments,
// claim-oldest-pending for grants, alive-rows-only tuple reads).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ocelot-io/ocelot"
)

// Store is the in-memory ocelot.Store implementation.
type Store struct {
	mu        sync.Mutex
	tuples    map[ocelot.TupleKey]ocelot.Tuple
	sequences map[string]int64
	resources map[ocelot.ObjectType]map[string]ocelot.Resource
	grants    map[string]ocelot.DirectoryGrant
	nextID    uint32
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry filtering.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		tuples:    make(map[ocelot.TupleKey]ocelot.Tuple),
		sequences: make(map[string]int64),
		resources: make(map[ocelot.ObjectType]map[string]ocelot.Resource),
		grants:    make(map[string]ocelot.DirectoryGrant),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteTuple upserts on the tuple key, refreshing expiry and revision
// for an existing fact.
func (s *Store) WriteTuple(_ context.Context, t ocelot.Tuple) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuples[t.Key()] = t
	return nil
}

// DeleteTuple removes the tuple, or returns ocelot.ErrTupleNotFound.
func (s *Store) DeleteTuple(_ context.Context, key ocelot.TupleKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tuples[key]; !ok {
		return ocelot.ErrTupleNotFound
	}
	delete(s.tuples, key)
	return nil
}

// ReadTuples returns alive tuples matching the filter.
func (s *Store) ReadTuples(_ context.Context, filter ocelot.TupleFilter) ([]ocelot.Tuple, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []ocelot.Tuple
	for _, t := range s.tuples {
		if t.Expired(now) {
			continue
		}
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// IncrementRevision atomically bumps and returns the zone's counter.
func (s *Store) IncrementRevision(_ context.Context, zoneID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[zoneID]++
	return s.sequences[zoneID], nil
}

// CurrentRevision returns the zone's counter, 0 if never written.
func (s *Store) CurrentRevision(_ context.Context, zoneID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequences[zoneID], nil
}

// EnsureResource returns the mapping, creating it on first reference.
func (s *Store) EnsureResource(_ context.Context, resourceType ocelot.ObjectType, key string, createdRevision int64) (ocelot.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.resources[resourceType]
	if !ok {
		byKey = make(map[string]ocelot.Resource)
		s.resources[resourceType] = byKey
	}
	if res, ok := byKey[key]; ok {
		return res, nil
	}
	s.nextID++
	res := ocelot.Resource{
		Type:            resourceType,
		Key:             key,
		ID:              s.nextID,
		CreatedRevision: createdRevision,
	}
	byKey[key] = res
	return res, nil
}

// LookupResource returns the existing mapping, if any.
func (s *Store) LookupResource(_ context.Context, resourceType ocelot.ObjectType, key string) (ocelot.Resource, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceType][key]
	return res, ok, nil
}

// ResourceKeys resolves IDs back to keys, skipping unknown IDs. The
// result is ordered by ID.
func (s *Store) ResourceKeys(_ context.Context, resourceType ocelot.ObjectType, ids []uint32) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var matched []ocelot.Resource
	for _, res := range s.resources[resourceType] {
		if _, ok := want[res.ID]; ok {
			matched = append(matched, res)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	keys := make([]string, len(matched))
	for i, res := range matched {
		keys[i] = res.Key
	}
	return keys, nil
}

// ListDescendants returns resources strictly below dir ordered by ID,
// honoring the revision cap and offset/limit pagination.
func (s *Store) ListDescendants(_ context.Context, resourceType ocelot.ObjectType, dir string, maxRevision int64, offset, limit int) ([]ocelot.Resource, error) {
	all := s.descendants(resourceType, dir, maxRevision)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CountDescendants returns the total ListDescendants would enumerate.
func (s *Store) CountDescendants(_ context.Context, resourceType ocelot.ObjectType, dir string, maxRevision int64) (int64, error) {
	return int64(len(s.descendants(resourceType, dir, maxRevision))), nil
}

func (s *Store) descendants(resourceType ocelot.ObjectType, dir string, maxRevision int64) []ocelot.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ocelot.Resource
	for _, res := range s.resources[resourceType] {
		if !ocelot.DescendantOf(res.Key, dir) {
			continue
		}
		if maxRevision > 0 && res.CreatedRevision > maxRevision {
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateGrant stores a new grant row.
func (s *Store) CreateGrant(_ context.Context, g ocelot.DirectoryGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.ID] = g
	return nil
}

// Grant returns the grant by ID, or ocelot.ErrGrantNotFound.
func (s *Store) Grant(_ context.Context, id string) (ocelot.DirectoryGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ocelot.DirectoryGrant{}, ocelot.ErrGrantNotFound
	}
	return g, nil
}

// DeleteGrant removes the grant, or returns ocelot.ErrGrantNotFound.
func (s *Store) DeleteGrant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return ocelot.ErrGrantNotFound
	}
	delete(s.grants, id)
	return nil
}

// ClaimPendingGrant moves the oldest pending grant to in_progress.
func (s *Store) ClaimPendingGrant(_ context.Context) (ocelot.DirectoryGrant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *ocelot.DirectoryGrant
	for id := range s.grants {
		g := s.grants[id]
		if g.State != ocelot.GrantPending {
			continue
		}
		if oldest == nil || g.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &g
		}
	}
	if oldest == nil {
		return ocelot.DirectoryGrant{}, false, nil
	}
	oldest.State = ocelot.GrantInProgress
	s.grants[oldest.ID] = *oldest
	return *oldest, true, nil
}

// UpdateGrantProgress persists batch progress.
func (s *Store) UpdateGrantProgress(_ context.Context, id string, expanded, total int64) error {
	return s.mutateGrant(id, func(g *ocelot.DirectoryGrant) {
		g.ExpandedCount = expanded
		g.TotalCount = total
	})
}

// CompleteGrant moves the grant to completed.
func (s *Store) CompleteGrant(_ context.Context, id string) error {
	return s.mutateGrant(id, func(g *ocelot.DirectoryGrant) {
		g.State = ocelot.GrantCompleted
		g.ErrorMessage = ""
	})
}

// FailGrant moves the grant to failed with the message.
func (s *Store) FailGrant(_ context.Context, id, message string) error {
	return s.mutateGrant(id, func(g *ocelot.DirectoryGrant) {
		g.State = ocelot.GrantFailed
		g.ErrorMessage = message
	})
}

func (s *Store) mutateGrant(id string, fn func(*ocelot.DirectoryGrant)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return ocelot.ErrGrantNotFound
	}
	fn(&g)
	s.grants[id] = g
	return nil
}

// GrantsForAncestors returns grants in the zone rooted at any of the
// given directories.
func (s *Store) GrantsForAncestors(_ context.Context, zoneID string, resourceType ocelot.ObjectType, dirs []string) ([]ocelot.DirectoryGrant, error) {
	want := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		want[d] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ocelot.DirectoryGrant
	for _, g := range s.grants {
		if g.ZoneID != zoneID || g.ResourceType != resourceType {
			continue
		}
		if _, ok := want[g.Directory]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

// GrantsForSubject returns the zone's grants for one subject and
// permission.
func (s *Store) GrantsForSubject(_ context.Context, zoneID string, subject ocelot.Object, permission ocelot.Relation, resourceType ocelot.ObjectType) ([]ocelot.DirectoryGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ocelot.DirectoryGrant
	for _, g := range s.grants {
		if g.ZoneID != zoneID || g.ResourceType != resourceType {
			continue
		}
		if g.Subject == subject && g.Permission == permission {
			out = append(out, g)
		}
	}
	return out, nil
}

var _ ocelot.Store = (*Store)(nil)

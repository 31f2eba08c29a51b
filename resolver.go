package ocelot

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// CheckRequest asks whether Subject holds Permission on Object within
// ZoneID. An empty ZoneID means the ambient zone.
//
// ConsistencyToken, when set, pins every lookup to the token's zone
// revision: tuples and grants created after it are not observed. This
// is what lets directory-grant expansion avoid the "new enemy"
// problem.
type CheckRequest struct {
	Subject          Object
	Permission       Relation
	Object           Object
	ZoneID           string
	ConsistencyToken string
}

// visitKey identifies one node of the expansion graph for cycle
// detection. The visited set is explicit state passed through the
// traversal, not implicit call-stack state.
type visitKey struct {
	Subject  Object
	Relation Relation
	Object   Object
}

// Resolver walks relation tuples to answer permission checks. It
// evaluates, in order: direct tuples (honoring cross-zone-readable
// tuples stored in other zones), userset/group expansion bounded by a
// visited set and depth limit, and completed directory grants on the
// object's ancestor paths.
//
// The resolver holds no locks and performs no blocking work beyond
// store calls; it is safe for concurrent use. Store failures propagate
// wrapped in ErrResolution - they are never silently resolved to a
// deny. Cycle-guard exhaustion resolves to false and is logged.
type Resolver struct {
	store    Store
	guard    *ZoneGuard
	maxDepth int
	log      *zap.Logger
}

// NewResolver builds a resolver over the store and zone guard.
func NewResolver(store Store, guard *ZoneGuard, maxDepth int, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if maxDepth <= 0 {
		maxDepth = DefaultConfig().MaxDepth
	}
	return &Resolver{store: store, guard: guard, maxDepth: maxDepth, log: log}
}

// Check returns true if the request's subject holds the permission on
// the object. This is the authoritative, cache-bypassing path.
func (r *Resolver) Check(ctx context.Context, req CheckRequest) (bool, error) {
	zone := r.guard.Resolve(req.ZoneID)
	maxRev, err := ParseVersionToken(req.ConsistencyToken)
	if err != nil {
		return false, err
	}

	visited := make(map[visitKey]struct{})
	allowed, err := r.check(ctx, req.Subject, req.Permission, req.Object, zone, maxRev, visited, 0)
	if err != nil {
		return false, err
	}
	if allowed {
		return true, nil
	}
	return r.checkDirectoryGrants(ctx, req.Subject, req.Permission, req.Object, zone, maxRev)
}

// check is one node of the traversal: direct tuples first, then
// userset fan-out.
func (r *Resolver) check(ctx context.Context, subject Object, relation Relation, object Object, zone string, maxRev int64, visited map[visitKey]struct{}, depth int) (bool, error) {
	if depth > r.maxDepth {
		r.log.Warn("userset expansion depth exhausted",
			zap.String("subject", subject.String()),
			zap.String("relation", relation.String()),
			zap.String("object", object.String()))
		return false, nil
	}

	key := visitKey{Subject: subject, Relation: relation, Object: object}
	if _, seen := visited[key]; seen {
		return false, nil
	}
	visited[key] = struct{}{}

	// One read fetches direct and userset tuples for the object; the
	// zone filter stays open so cross-zone-readable tuples stored in
	// other zones are found, then visibility is applied per tuple.
	tuples, err := r.store.ReadTuples(ctx, TupleFilter{
		Relation:    relation,
		Object:      &object,
		MaxRevision: maxRev,
	})
	if err != nil {
		return false, fmt.Errorf("%w: read tuples for %s on %s: %v", ErrResolution, relation, object, err)
	}

	var usersets []Tuple
	for _, t := range tuples {
		if !r.guard.TupleVisible(t, zone) {
			continue
		}
		if t.SubjectRelation == "" {
			if t.Subject == subject {
				return true, nil
			}
			continue
		}
		usersets = append(usersets, t)
	}

	// Userset references: the tuple's subject is "everyone holding
	// SubjectRelation on Subject", so recurse into the group object.
	for _, t := range usersets {
		ok, err := r.check(ctx, subject, t.SubjectRelation, t.Subject, zone, maxRev, visited, depth+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}

// checkDirectoryGrants walks the object's ancestor directories looking
// for a completed grant that covers it. Grants pinned to their
// revision (include_future_files=false) exclude objects registered
// after the grant; that cutoff is the "new enemy" defense.
func (r *Resolver) checkDirectoryGrants(ctx context.Context, subject Object, permission Relation, object Object, zone string, maxRev int64) (bool, error) {
	ancestors := AncestorPaths(object.ID)
	if len(ancestors) == 0 {
		return false, nil
	}

	grants, err := r.store.GrantsForAncestors(ctx, zone, object.Type, ancestors)
	if err != nil {
		return false, fmt.Errorf("%w: read grants for %s: %v", ErrResolution, object, err)
	}
	if len(grants) == 0 {
		return false, nil
	}

	var objectRev int64
	res, found, err := r.store.LookupResource(ctx, object.Type, object.ID)
	if err != nil {
		return false, fmt.Errorf("%w: lookup resource %s: %v", ErrResolution, object, err)
	}
	if found {
		objectRev = res.CreatedRevision
	}

	for _, g := range grants {
		if g.State != GrantCompleted {
			continue
		}
		if g.Subject != subject || g.Permission != permission {
			continue
		}
		if maxRev > 0 && g.GrantRevision > maxRev {
			// Grant landed after the pinned snapshot.
			continue
		}
		if g.IncludeFutureFiles {
			return true, nil
		}
		if found && objectRev <= g.GrantRevision {
			return true, nil
		}
	}
	return false, nil
}

// SubjectClosure returns the userset references reachable from the
// subject via membership tuples: for a tuple (alice, member, group:eng)
// the closure contains (group:eng, member). Nested groups are followed
// breadth-first under the same visited-set and depth discipline as
// Check. Used by bitmap materialization.
func (r *Resolver) SubjectClosure(ctx context.Context, subject Object, zone string, maxRev int64) ([]SubjectRef, error) {
	type frontier struct {
		obj   Object
		depth int
	}

	seen := make(map[SubjectRef]struct{})
	var out []SubjectRef
	queue := []frontier{{obj: subject}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth > r.maxDepth {
			r.log.Warn("subject closure depth exhausted", zap.String("subject", subject.String()))
			break
		}

		memberships, err := r.store.ReadTuples(ctx, TupleFilter{
			Subject:     &cur.obj,
			MaxRevision: maxRev,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: read memberships for %s: %v", ErrResolution, cur.obj, err)
		}
		for _, t := range memberships {
			if !r.guard.TupleVisible(t, zone) {
				continue
			}
			ref := SubjectRef{Object: t.Object, Relation: t.Relation}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
			queue = append(queue, frontier{obj: t.Object, depth: cur.depth + 1})
		}
	}
	return out, nil
}

// SubjectRef names a userset: everyone holding Relation on Object.
type SubjectRef struct {
	Object   Object
	Relation Relation
}

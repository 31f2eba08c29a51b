package ocelot

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine is the facade callers use: tuple writes, permission checks,
// list-filter queries, and directory grants. It wires the zone guard,
// revision sequencer, resolver, and both cache tiers.
//
// Engines hold no global lock. Every operation is a single atomic
// store call or a bounded sequence of independent ones; reads are
// either snapshot-pinned via a consistency token or accept best-effort
// cache freshness.
type Engine struct {
	store    Store
	cfg      Config
	guard    *ZoneGuard
	seq      *Sequencer
	resolver *Resolver
	checks   *CheckCache
	tiger    *TigerCache
	log      *zap.Logger

	checkKV KeyValueCache
	tigerKV KeyValueCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration. Zero fields keep
// their defaults, except EnforceZoneIsolation which is taken as-is.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithCheckCache enables the check-result cache on the given backend.
func WithCheckCache(kv KeyValueCache) Option {
	return func(e *Engine) {
		e.checkKV = kv
	}
}

// WithTigerCache enables the Tiger Cache on the given backend.
func WithTigerCache(kv KeyValueCache) Option {
	return func(e *Engine) {
		e.tigerKV = kv
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// NewEngine builds an engine over the store. Without cache options
// every check resolves against the store; with them, cached decisions
// and bitmaps are consulted first.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.guard = NewZoneGuard(e.cfg, e.log)
	e.seq = NewSequencer(store)
	e.resolver = NewResolver(store, e.guard, e.cfg.MaxDepth, e.log)
	if e.checkKV != nil {
		e.checks = NewCheckCache(e.checkKV, e.cfg.GrantTTL, e.cfg.DenyTTL, e.log)
	}
	if e.tigerKV != nil {
		e.tiger = NewTigerCache(e.tigerKV, e.cfg.TigerTTL, e.log)
	}
	return e
}

// Resolver exposes the authoritative, cache-bypassing check path.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Guard exposes the zone isolation guard.
func (e *Engine) Guard() *ZoneGuard { return e.guard }

// Sequencer exposes the revision sequencer.
func (e *Engine) Sequencer() *Sequencer { return e.seq }

// TigerCache returns the Tiger Cache, or nil when not configured.
func (e *Engine) TigerCache() *TigerCache { return e.tiger }

// WriteTupleRequest creates one relation tuple. SubjectZoneID and
// ObjectZoneID default to ZoneID, which defaults to the ambient zone.
type WriteTupleRequest struct {
	Subject         Object
	SubjectRelation Relation
	Relation        Relation
	Object          Object
	ZoneID          string
	SubjectZoneID   string
	ObjectZoneID    string
	ExpiresAt       *time.Time
}

// WriteTuple validates zone placement, stamps the tuple with a fresh
// zone revision, persists it, and invalidates affected cache entries.
// Returns the zone the tuple was stored under (the object's zone for
// cross-zone writes).
func (e *Engine) WriteTuple(ctx context.Context, req WriteTupleRequest) (string, error) {
	wz, err := e.guard.ValidateWriteZones(req.ZoneID, req.SubjectZoneID, req.ObjectZoneID, req.Relation)
	if err != nil {
		return "", err
	}

	rev, err := e.store.IncrementRevision(ctx, wz.EffectiveZone)
	if err != nil {
		return "", fmt.Errorf("increment revision for zone %q: %w", wz.EffectiveZone, err)
	}

	t := Tuple{
		Subject:         req.Subject,
		SubjectRelation: req.SubjectRelation,
		Relation:        req.Relation,
		Object:          req.Object,
		ZoneID:          wz.EffectiveZone,
		ExpiresAt:       req.ExpiresAt,
		CreatedRevision: rev,
	}
	if err := e.store.WriteTuple(ctx, t); err != nil {
		return "", fmt.Errorf("write tuple %s %s %s: %w", t.Subject, t.Relation, t.Object, err)
	}

	e.invalidateForMutation(ctx, wz.EffectiveZone, req.Subject, req.Object)
	return wz.EffectiveZone, nil
}

// RevokeTuple deletes the tuple identified by the key, bumps the zone
// revision, and invalidates affected cache entries. The key's zone
// resolves through the same guard rules as the original write so that
// cross-zone tuples are found under the object's zone.
func (e *Engine) RevokeTuple(ctx context.Context, key TupleKey) error {
	wz, err := e.guard.ValidateWriteZones(key.ZoneID, "", "", key.Relation)
	if err != nil {
		return err
	}
	key.ZoneID = wz.EffectiveZone

	if err := e.store.DeleteTuple(ctx, key); err != nil {
		return err
	}
	if _, err := e.store.IncrementRevision(ctx, key.ZoneID); err != nil {
		return fmt.Errorf("increment revision for zone %q: %w", key.ZoneID, err)
	}

	e.invalidateForMutation(ctx, key.ZoneID, key.Subject, key.Object)
	return nil
}

// invalidateForMutation drops cache entries affected by a tuple write
// or revoke: the exact (subject, object) decisions first, then the
// broader subject- and object-scoped decisions, then the subject's
// bitmaps for the object's resource type. Cache invalidation failures
// are logged, not fatal - entries self-expire via TTL.
func (e *Engine) invalidateForMutation(ctx context.Context, zoneID string, subject, object Object) {
	if e.checks != nil {
		if err := e.checks.InvalidateSubjectObject(ctx, zoneID, subject, object); err != nil {
			e.log.Warn("check cache invalidation failed", zap.Error(err))
		}
		if err := e.checks.InvalidateSubject(ctx, zoneID, subject); err != nil {
			e.log.Warn("check cache invalidation failed", zap.Error(err))
		}
		if err := e.checks.InvalidateObject(ctx, zoneID, object); err != nil {
			e.log.Warn("check cache invalidation failed", zap.Error(err))
		}
	}
	if e.tiger != nil {
		// The subject's own bitmaps are stale; so are bitmaps of any
		// userset the object participates in, which are dropped
		// zone-wide for the resource type.
		if err := e.tiger.Invalidate(ctx, TigerPattern{ZoneID: zoneID, Subject: &subject}); err != nil {
			e.log.Warn("tiger cache invalidation failed", zap.Error(err))
		}
		if err := e.tiger.Invalidate(ctx, TigerPattern{ZoneID: zoneID, ResourceType: object.Type}); err != nil {
			e.log.Warn("tiger cache invalidation failed", zap.Error(err))
		}
	}
}

// Check decides whether the subject holds the permission on the
// object. Consulted in order: check-result cache, Tiger bitmap (fresh
// revisions only, positive hits only), then the authoritative
// resolver, whose result is written back to the check cache.
//
// Requests carrying a consistency token bypass both caches: cached
// state has no revision pinning.
//
// A store failure propagates as an error and must never be treated as
// "allowed" by callers.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (bool, error) {
	req.ZoneID = e.guard.Resolve(req.ZoneID)
	pinned := req.ConsistencyToken != ""

	key := CheckKey{ZoneID: req.ZoneID, Subject: req.Subject, Permission: req.Permission, Object: req.Object}
	if e.checks != nil && !pinned {
		if allowed, ok := e.checks.Get(ctx, key); ok {
			return allowed, nil
		}
	}

	if e.tiger != nil && !pinned {
		if allowed, ok := e.tigerFastPath(ctx, req); ok && allowed {
			if e.checks != nil {
				e.checks.Set(ctx, key, true)
			}
			return true, nil
		}
	}

	allowed, err := e.resolver.Check(ctx, req)
	if err != nil {
		return false, err
	}
	if e.checks != nil && !pinned {
		e.checks.Set(ctx, key, allowed)
	}
	return allowed, nil
}

// tigerFastPath answers a check from a materialized bitmap when the
// object has a resource mapping and the bitmap's revision matches the
// current zone revision. Only positive answers are trusted: a bitmap
// may be mid-expansion, so a clear bit still goes to the resolver.
func (e *Engine) tigerFastPath(ctx context.Context, req CheckRequest) (allowed, ok bool) {
	res, found, err := e.store.LookupResource(ctx, req.Object.Type, req.Object.ID)
	if err != nil || !found {
		return false, false
	}
	bm, rev, hit, err := e.tiger.GetBitmap(ctx, TigerKey{
		ZoneID:       req.ZoneID,
		Subject:      req.Subject,
		Permission:   req.Permission,
		ResourceType: req.Object.Type,
	})
	if err != nil || !hit {
		return false, false
	}
	cur, err := e.store.CurrentRevision(ctx, req.ZoneID)
	if err != nil || rev != cur {
		return false, false
	}
	return bm.Contains(res.ID), true
}

// ListPermitted returns the keys of every resource of the given type
// the subject holds the permission on in the zone. Served from a
// revision-fresh Tiger bitmap when available, otherwise materialized
// from the store and written back.
func (e *Engine) ListPermitted(ctx context.Context, subject Object, permission Relation, resourceType ObjectType, zoneID string) ([]string, error) {
	zoneID = e.guard.Resolve(zoneID)

	cur, err := e.store.CurrentRevision(ctx, zoneID)
	if err != nil {
		return nil, fmt.Errorf("read revision for zone %q: %w", zoneID, err)
	}

	key := TigerKey{ZoneID: zoneID, Subject: subject, Permission: permission, ResourceType: resourceType}
	if e.tiger != nil {
		bm, rev, hit, err := e.tiger.GetBitmap(ctx, key)
		if err != nil {
			e.log.Warn("tiger cache read failed, falling back to resolution", zap.Error(err))
		} else if hit && rev == cur {
			return e.store.ResourceKeys(ctx, resourceType, bm.ToArray())
		}
	}

	bm, err := e.MaterializeBitmap(ctx, subject, permission, resourceType, zoneID, cur)
	if err != nil {
		return nil, err
	}
	if e.tiger != nil {
		if err := e.tiger.SetBitmap(ctx, key, bm, cur); err != nil {
			e.log.Warn("tiger cache write-back failed", zap.Error(err))
		}
	}
	return e.store.ResourceKeys(ctx, resourceType, bm.ToArray())
}

// MaterializeBitmap derives the full permitted set for one Tiger key
// from the authoritative store: direct tuples, userset grants for
// every group in the subject's closure, and completed directory
// grants. maxRev is the zone revision the bitmap is being materialized
// at; directory-grant descendants honor each grant's own cutoff.
func (e *Engine) MaterializeBitmap(ctx context.Context, subject Object, permission Relation, resourceType ObjectType, zoneID string, maxRev int64) (*roaring.Bitmap, error) {
	bm := roaring.New()

	addTuples := func(tuples []Tuple) error {
		for _, t := range tuples {
			if !e.guard.TupleVisible(t, zoneID) {
				continue
			}
			res, err := e.store.EnsureResource(ctx, resourceType, t.Object.ID, t.CreatedRevision)
			if err != nil {
				return fmt.Errorf("ensure resource %s: %w", t.Object.ID, err)
			}
			bm.Add(res.ID)
		}
		return nil
	}

	// Direct grants to the subject.
	none := Relation("")
	direct, err := e.store.ReadTuples(ctx, TupleFilter{
		Subject:         &subject,
		SubjectRelation: &none,
		Relation:        permission,
		ObjectType:      resourceType,
		MaxRevision:     maxRev,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read direct tuples: %v", ErrResolution, err)
	}
	if err := addTuples(direct); err != nil {
		return nil, err
	}

	// Userset grants: tuples granting the permission to a group the
	// subject (transitively) belongs to.
	closure, err := e.resolver.SubjectClosure(ctx, subject, zoneID, maxRev)
	if err != nil {
		return nil, err
	}
	for _, ref := range closure {
		rel := ref.Relation
		granted, err := e.store.ReadTuples(ctx, TupleFilter{
			Subject:         &ref.Object,
			SubjectRelation: &rel,
			Relation:        permission,
			ObjectType:      resourceType,
			MaxRevision:     maxRev,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: read userset tuples: %v", ErrResolution, err)
		}
		if err := addTuples(granted); err != nil {
			return nil, err
		}
	}

	// Completed directory grants.
	grants, err := e.store.GrantsForSubject(ctx, zoneID, subject, permission, resourceType)
	if err != nil {
		return nil, fmt.Errorf("%w: read directory grants: %v", ErrResolution, err)
	}
	for _, g := range grants {
		if g.State != GrantCompleted {
			continue
		}
		cutoff := g.GrantRevision
		if g.IncludeFutureFiles {
			cutoff = maxRev
		}
		if err := e.addDescendants(ctx, bm, resourceType, g.Directory, cutoff); err != nil {
			return nil, err
		}
	}

	return bm, nil
}

// addDescendants streams descendant resource IDs into the bitmap in
// batches.
func (e *Engine) addDescendants(ctx context.Context, bm *roaring.Bitmap, resourceType ObjectType, dir string, cutoff int64) error {
	offset := 0
	for {
		batch, err := e.store.ListDescendants(ctx, resourceType, dir, cutoff, offset, e.cfg.ExpandBatchSize)
		if err != nil {
			return fmt.Errorf("%w: list descendants of %q: %v", ErrResolution, dir, err)
		}
		for _, res := range batch {
			bm.Add(res.ID)
		}
		if len(batch) < e.cfg.ExpandBatchSize {
			return nil
		}
		offset += len(batch)
	}
}

// CreateGrantRequest creates a directory grant.
type CreateGrantRequest struct {
	Subject            Object
	Permission         Relation
	Directory          string
	ResourceType       ObjectType
	ZoneID             string
	IncludeFutureFiles bool
}

// CreateDirectoryGrant persists a pending grant stamped with the
// current zone revision and returns its ID. Expansion is asynchronous;
// poll GrantStatus for progress. ResourceType defaults to "file".
func (e *Engine) CreateDirectoryGrant(ctx context.Context, req CreateGrantRequest) (string, error) {
	zoneID := e.guard.Resolve(req.ZoneID)
	if req.ResourceType == "" {
		req.ResourceType = "file"
	}

	rev, err := e.seq.ZoneRevisionForGrant(ctx, zoneID)
	if err != nil {
		return "", err
	}

	g := DirectoryGrant{
		ID:                 uuid.NewString(),
		Subject:            req.Subject,
		Permission:         req.Permission,
		Directory:          req.Directory,
		ResourceType:       req.ResourceType,
		ZoneID:             zoneID,
		GrantRevision:      rev,
		IncludeFutureFiles: req.IncludeFutureFiles,
		State:              GrantPending,
		CreatedAt:          time.Now().UTC(),
	}
	if err := e.store.CreateGrant(ctx, g); err != nil {
		return "", fmt.Errorf("create directory grant: %w", err)
	}

	e.log.Info("directory grant created",
		zap.String("grant_id", g.ID),
		zap.String("subject", g.Subject.String()),
		zap.String("permission", g.Permission.String()),
		zap.String("directory", g.Directory),
		zap.String("zone", zoneID),
		zap.Int64("grant_revision", rev))
	return g.ID, nil
}

// GrantStatus returns expansion progress for a grant.
func (e *Engine) GrantStatus(ctx context.Context, grantID string) (GrantStatus, error) {
	g, err := e.store.Grant(ctx, grantID)
	if err != nil {
		return GrantStatus{}, err
	}
	return GrantStatus{
		State:         g.State,
		ExpandedCount: g.ExpandedCount,
		TotalCount:    g.TotalCount,
		ErrorMessage:  g.ErrorMessage,
	}, nil
}

// RevokeDirectoryGrant deletes a grant and clears its bitmap
// contribution. The bits it set cannot be subtracted directly (another
// grant or tuple may also cover them), so the affected bitmap is
// re-derived from the remaining authoritative state. This cascade is
// correctness-critical, not best-effort: a re-derivation failure is
// returned after the entry has been dropped, so a later read rebuilds
// rather than trusting stale bits.
func (e *Engine) RevokeDirectoryGrant(ctx context.Context, grantID string) error {
	g, err := e.store.Grant(ctx, grantID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteGrant(ctx, grantID); err != nil {
		return err
	}
	if _, err := e.store.IncrementRevision(ctx, g.ZoneID); err != nil {
		return fmt.Errorf("increment revision for zone %q: %w", g.ZoneID, err)
	}

	if e.checks != nil {
		if err := e.checks.InvalidateSubject(ctx, g.ZoneID, g.Subject); err != nil {
			e.log.Warn("check cache invalidation failed", zap.Error(err))
		}
	}
	if e.tiger == nil {
		return nil
	}

	key := g.TigerKey()
	if err := e.tiger.Delete(ctx, key); err != nil {
		return fmt.Errorf("drop bitmap for revoked grant %s: %w", grantID, err)
	}
	cur, err := e.store.CurrentRevision(ctx, g.ZoneID)
	if err != nil {
		return fmt.Errorf("read revision for zone %q: %w", g.ZoneID, err)
	}
	bm, err := e.MaterializeBitmap(ctx, g.Subject, g.Permission, g.ResourceType, g.ZoneID, cur)
	if err != nil {
		return err
	}
	return e.tiger.SetBitmap(ctx, key, bm, cur)
}

// RegisterResource records a new file or directory in the global
// resource-ID mapping and synchronously flips its bit in the bitmap of
// every completed ancestor grant with IncludeFutureFiles set.
// Virtual-filesystem callers invoke this on every file creation.
//
// Registration bumps the zone revision and stamps the resource with
// the new value, so a file registered after a pinned grant always
// carries a strictly later revision than the grant.
func (e *Engine) RegisterResource(ctx context.Context, resourceType ObjectType, key, zoneID string) (uint32, error) {
	zoneID = e.guard.Resolve(zoneID)

	rev, err := e.store.IncrementRevision(ctx, zoneID)
	if err != nil {
		return 0, fmt.Errorf("increment revision for zone %q: %w", zoneID, err)
	}
	res, err := e.store.EnsureResource(ctx, resourceType, key, rev)
	if err != nil {
		return 0, fmt.Errorf("register resource %q: %w", key, err)
	}

	if e.tiger == nil {
		return res.ID, nil
	}
	ancestors := AncestorPaths(key)
	if len(ancestors) == 0 {
		return res.ID, nil
	}
	grants, err := e.store.GrantsForAncestors(ctx, zoneID, resourceType, ancestors)
	if err != nil {
		return res.ID, fmt.Errorf("read ancestor grants for %q: %w", key, err)
	}
	for _, g := range grants {
		if g.State != GrantCompleted || !g.IncludeFutureFiles {
			continue
		}
		if err := e.tiger.AddBits(ctx, g.TigerKey(), []uint32{res.ID}, g.GrantRevision); err != nil {
			e.log.Warn("bitmap update for new file failed",
				zap.String("grant_id", g.ID), zap.String("key", key), zap.Error(err))
		}
	}
	return res.ID, nil
}

package ocelot

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"go.uber.org/zap"
)

// tigerKeyPrefix namespaces Tiger Cache entries within the shared
// key-value cache.
const tigerKeyPrefix = "tiger"

// TigerKey identifies one materialized bitmap: the set of resource IDs
// of one type that a subject holds a permission on within a zone.
type TigerKey struct {
	ZoneID       string
	Subject      Object
	Permission   Relation
	ResourceType ObjectType
}

func (k TigerKey) cacheKey() string {
	return strings.Join([]string{
		tigerKeyPrefix, cacheKeySegment(k.ZoneID),
		cacheKeySegment(k.Subject.Type.String()), cacheKeySegment(k.Subject.ID),
		cacheKeySegment(k.Permission.String()),
		cacheKeySegment(k.ResourceType.String()),
	}, ":")
}

// TigerPattern is a partial TigerKey for wildcard invalidation. Empty
// fields match everything, so dropping every entry for a subject, a
// permission, or an entire zone is one pattern delete.
type TigerPattern struct {
	ZoneID       string
	Subject      *Object
	Permission   Relation
	ResourceType ObjectType
}

func (p TigerPattern) pattern() string {
	parts := []string{tigerKeyPrefix, orStar(p.ZoneID)}
	if p.Subject != nil {
		parts = append(parts, cacheKeySegment(p.Subject.Type.String()), cacheKeySegment(p.Subject.ID))
	} else {
		parts = append(parts, "*", "*")
	}
	parts = append(parts, orStar(p.Permission.String()), orStar(p.ResourceType.String()))
	return strings.Join(parts, ":")
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return cacheKeySegment(s)
}

// TigerCache holds materialized roaring bitmaps of permitted resource
// IDs, each paired with the zone revision at materialization. Callers
// must compare the returned revision against the current zone revision
// (or their own consistency token) before trusting a bitmap for a
// precision-sensitive decision, and must treat a miss as requiring
// full resolution plus a write-back.
//
// Writers always replace the whole (revision, bitmap) value in one
// cache Set - bytes visible to readers are never patched in place.
// Concurrent writes are last-write-wins; that is safe because every
// write is either a full re-derivation at a known revision or a
// monotonic bit-set at the grant's pinned revision.
type TigerCache struct {
	kv  KeyValueCache
	ttl time.Duration
	log *zap.Logger
}

// NewTigerCache wraps a KeyValueCache. A ttl of 0 means entries never
// expire; use that for durable cache tiers.
func NewTigerCache(kv KeyValueCache, ttl time.Duration, log *zap.Logger) *TigerCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &TigerCache{kv: kv, ttl: ttl, log: log}
}

// GetBitmap returns the cached bitmap and its materialization
// revision. A malformed entry is logged, dropped, and reported as a
// miss - corrupt cache bytes are never trusted.
func (t *TigerCache) GetBitmap(ctx context.Context, key TigerKey) (*roaring.Bitmap, int64, bool, error) {
	raw, found, err := t.kv.Get(ctx, key.cacheKey())
	if err != nil {
		return nil, 0, false, fmt.Errorf("tiger cache read: %w", err)
	}
	if !found {
		return nil, 0, false, nil
	}

	bm, rev, err := decodeBitmap(raw)
	if err != nil {
		t.log.Warn("dropping corrupt tiger cache entry",
			zap.String("key", key.cacheKey()), zap.Error(err))
		_ = t.kv.Delete(ctx, key.cacheKey())
		return nil, 0, false, nil
	}
	return bm, rev, true, nil
}

// SetBitmap stores a bitmap stamped with the zone revision it was
// materialized at.
func (t *TigerCache) SetBitmap(ctx context.Context, key TigerKey, bm *roaring.Bitmap, revision int64) error {
	raw, err := encodeBitmap(bm, revision)
	if err != nil {
		return fmt.Errorf("encode bitmap: %w", err)
	}
	if err := t.kv.Set(ctx, key.cacheKey(), raw, t.ttl); err != nil {
		return fmt.Errorf("tiger cache write: %w", err)
	}
	return nil
}

// AddBits sets the given resource IDs in the bitmap, creating the
// entry at fallbackRevision if absent. Setting an already-set bit is a
// no-op, which is what makes expansion batches idempotent and safe to
// replay after a resume.
func (t *TigerCache) AddBits(ctx context.Context, key TigerKey, ids []uint32, fallbackRevision int64) error {
	if len(ids) == 0 {
		return nil
	}
	bm, rev, found, err := t.GetBitmap(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		bm, rev = roaring.New(), fallbackRevision
	}
	bm.AddMany(ids)
	return t.SetBitmap(ctx, key, bm, rev)
}

// RemoveBits clears the given resource IDs from the bitmap, if the
// entry exists.
func (t *TigerCache) RemoveBits(ctx context.Context, key TigerKey, ids []uint32) error {
	bm, rev, found, err := t.GetBitmap(ctx, key)
	if err != nil || !found {
		return err
	}
	for _, id := range ids {
		bm.Remove(id)
	}
	return t.SetBitmap(ctx, key, bm, rev)
}

// Invalidate drops every entry matching the partial key.
func (t *TigerCache) Invalidate(ctx context.Context, p TigerPattern) error {
	return t.kv.DeletePattern(ctx, p.pattern())
}

// Delete drops a single entry.
func (t *TigerCache) Delete(ctx context.Context, key TigerKey) error {
	return t.kv.Delete(ctx, key.cacheKey())
}

// Bitmap wire format: 8-byte big-endian revision, then the roaring
// serialization. The pair is always written and read as a unit.

func encodeBitmap(bm *roaring.Bitmap, revision int64) ([]byte, error) {
	body, err := bm.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(out, uint64(revision))
	copy(out[8:], body)
	return out, nil
}

func decodeBitmap(raw []byte) (*roaring.Bitmap, int64, error) {
	if len(raw) < 8 {
		return nil, 0, fmt.Errorf("%w: truncated bitmap value (%d bytes)", ErrCacheCorrupt, len(raw))
	}
	rev := int64(binary.BigEndian.Uint64(raw))
	bm := roaring.New()
	if err := bm.UnmarshalBinary(raw[8:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return bm, rev, nil
}

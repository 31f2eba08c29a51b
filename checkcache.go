package ocelot

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// checkKeyPrefix namespaces check-result entries within the shared
// key-value cache.
const checkKeyPrefix = "check"

// CheckKey identifies one cached decision.
type CheckKey struct {
	ZoneID     string
	Subject    Object
	Permission Relation
	Object     Object
}

func (k CheckKey) cacheKey() string {
	return strings.Join([]string{
		checkKeyPrefix, cacheKeySegment(k.ZoneID),
		cacheKeySegment(k.Subject.Type.String()), cacheKeySegment(k.Subject.ID),
		cacheKeySegment(k.Permission.String()),
		cacheKeySegment(k.Object.Type.String()), cacheKeySegment(k.Object.ID),
	}, ":")
}

// CheckCache stores resolved allow/deny decisions with asymmetric
// TTLs: grants live for grantTTL, denials for the much shorter
// denyTTL. A just-revoked grant's stale "true" cannot outlive the
// grant window, while a stale "false" self-heals almost immediately
// after the grant lands.
//
// Cache failures are never authorization failures: read errors count
// as misses, write errors are logged and dropped.
type CheckCache struct {
	kv       KeyValueCache
	grantTTL time.Duration
	denyTTL  time.Duration
	log      *zap.Logger
}

// NewCheckCache wraps a KeyValueCache with decision TTL policy.
func NewCheckCache(kv KeyValueCache, grantTTL, denyTTL time.Duration, log *zap.Logger) *CheckCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckCache{kv: kv, grantTTL: grantTTL, denyTTL: denyTTL, log: log}
}

// Get returns a cached decision and whether one was found.
func (c *CheckCache) Get(ctx context.Context, key CheckKey) (allowed, ok bool) {
	raw, found, err := c.kv.Get(ctx, key.cacheKey())
	if err != nil {
		c.log.Warn("check cache read failed", zap.Error(err))
		return false, false
	}
	if !found {
		return false, false
	}
	switch string(raw) {
	case "1":
		return true, true
	case "0":
		return false, true
	default:
		// Malformed entry: drop it and treat as a miss.
		c.log.Warn("dropping corrupt check cache entry", zap.String("key", key.cacheKey()))
		_ = c.kv.Delete(ctx, key.cacheKey())
		return false, false
	}
}

// Set stores a decision under the TTL for its polarity.
func (c *CheckCache) Set(ctx context.Context, key CheckKey, allowed bool) {
	val, ttl := "0", c.denyTTL
	if allowed {
		val, ttl = "1", c.grantTTL
	}
	if err := c.kv.Set(ctx, key.cacheKey(), []byte(val), ttl); err != nil {
		c.log.Warn("check cache write failed", zap.Error(err))
	}
}

// InvalidateSubjectObject drops every decision for the exact
// (subject, object) pair in the zone, all permissions. This is the
// most specific invalidation and should run on every tuple write
// before any broader fallback.
func (c *CheckCache) InvalidateSubjectObject(ctx context.Context, zoneID string, subject, object Object) error {
	pattern := strings.Join([]string{
		checkKeyPrefix, cacheKeySegment(zoneID),
		cacheKeySegment(subject.Type.String()), cacheKeySegment(subject.ID),
		"*",
		cacheKeySegment(object.Type.String()), cacheKeySegment(object.ID),
	}, ":")
	return c.kv.DeletePattern(ctx, pattern)
}

// InvalidateSubject drops every decision for the subject in the zone.
func (c *CheckCache) InvalidateSubject(ctx context.Context, zoneID string, subject Object) error {
	pattern := strings.Join([]string{
		checkKeyPrefix, cacheKeySegment(zoneID),
		cacheKeySegment(subject.Type.String()), cacheKeySegment(subject.ID),
		"*",
	}, ":")
	return c.kv.DeletePattern(ctx, pattern)
}

// InvalidateObject drops every decision about the object in the zone.
func (c *CheckCache) InvalidateObject(ctx context.Context, zoneID string, object Object) error {
	pattern := strings.Join([]string{
		checkKeyPrefix, cacheKeySegment(zoneID), "*",
		cacheKeySegment(object.Type.String()), cacheKeySegment(object.ID),
	}, ":")
	return c.kv.DeletePattern(ctx, pattern)
}

// Clear drops every cached decision in every zone.
func (c *CheckCache) Clear(ctx context.Context) error {
	return c.kv.DeletePattern(ctx, checkKeyPrefix+":*")
}

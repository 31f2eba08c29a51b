package ocelot

import (
	"context"
	"strings"
	"time"
)

// KeyValueCache is the capability interface both cache tiers are built
// on. Implementations must be safe for concurrent use. pkg/memcache is
// the bundled in-process implementation; distributed or durable caches
// (Redis, a Postgres table) satisfy the same contract.
//
// DeletePattern removes every key matching a glob-style pattern where
// '*' matches any run of characters. It is what makes wildcard
// invalidation cheap: revoking one relation drops every entry for a
// subject, object, or zone without enumerating them.
type KeyValueCache interface {
	// Get returns the value and true, or (nil, false) on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a single key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes all keys matching the '*' wildcard
	// pattern.
	DeletePattern(ctx context.Context, pattern string) error

	// Ping reports backend health.
	Ping(ctx context.Context) error
}

// cacheKeySegment escapes one caller-controlled value for use as a
// ':'-separated cache key segment. Object IDs may themselves contain
// ':' (ParseObject allows it) and '*' is the DeletePattern wildcard, so
// both are percent-escaped: distinct keys stay distinct and stored
// segments never act as wildcards.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A", "*", "%2A")

func cacheKeySegment(s string) string {
	return segmentEscaper.Replace(s)
}

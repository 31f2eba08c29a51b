// Package memcache provides an in-process implementation of the
// ocelot.KeyValueCache interface: a mutex-guarded map with per-entry
// TTL and '*'-wildcard pattern deletion.
//
// It is safe for concurrent use but scoped to a single process. For
// distributed deployments, back the caches with a shared store
// implementing the same interface.
package memcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ocelot-io/ocelot"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// Cache is the in-memory KeyValueCache implementation. Expired
// entries are dropped lazily on read; the map otherwise grows within
// its TTL window.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Tests use it to exercise TTL
// expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		items: make(map[string]entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value and true, or (nil, false) for missing or
// expired keys.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores a copy of the value. A ttl of 0 means no expiry.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// DeletePattern removes every key matching the '*' wildcard pattern.
func (c *Cache) DeletePattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.items {
		if matchPattern(pattern, k) {
			delete(c.items, k)
		}
	}
	return nil
}

// Ping always succeeds for the in-memory backend.
func (c *Cache) Ping(context.Context) error {
	return nil
}

// Size returns the number of entries, expired or not. Useful for
// monitoring cache growth in tests.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// matchPattern reports whether s matches a glob pattern where '*'
// matches any run of characters (including separators). Segments
// between wildcards must appear in order.
func matchPattern(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	last := segments[len(segments)-1]
	middle := segments[1 : len(segments)-1]
	for _, seg := range middle {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return strings.HasSuffix(s, last)
}

var _ ocelot.KeyValueCache = (*Cache)(nil)

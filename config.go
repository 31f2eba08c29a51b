package ocelot

import "time"

// Config is the engine's tuning surface. Zero values are replaced by
// the defaults from DefaultConfig, except EnforceZoneIsolation which
// must be set deliberately (DefaultConfig enables it).
type Config struct {
	// DefaultZone is the ambient zone for requests that do not name
	// one.
	DefaultZone string

	// EnforceZoneIsolation rejects cross-zone writes for relations
	// outside the allow-list. Disabling it is a migration
	// kill-switch: defaults are still resolved, violations are logged
	// instead of rejected.
	EnforceZoneIsolation bool

	// CrossZoneRelations is the allow-list of relations that may cross
	// zone boundaries.
	CrossZoneRelations []Relation

	// GrantTTL and DenyTTL are the check-result cache lifetimes.
	// Denials are cached for less time so a fresh grant self-heals
	// almost immediately, while a revoked grant's stale "true" dies
	// within GrantTTL.
	GrantTTL time.Duration
	DenyTTL  time.Duration

	// TigerTTL bounds the lifetime of materialized bitmaps in the
	// ephemeral cache tier. Zero means no expiry (durable tiers).
	TigerTTL time.Duration

	// MaxDepth bounds recursive userset expansion.
	MaxDepth int

	// ExpandBatchSize is the number of descendants processed per
	// expansion batch; progress persists after each batch.
	ExpandBatchSize int

	// ExpandConcurrency is the number of grants expanded in parallel
	// by the worker.
	ExpandConcurrency int

	// ExpandPollInterval is how long the worker sleeps when no pending
	// grant is available.
	ExpandPollInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultZone:          DefaultZone,
		EnforceZoneIsolation: true,
		CrossZoneRelations:   DefaultCrossZoneRelations,
		GrantTTL:             5 * time.Minute,
		DenyTTL:              15 * time.Second,
		TigerTTL:             time.Hour,
		MaxDepth:             25,
		ExpandBatchSize:      500,
		ExpandConcurrency:    4,
		ExpandPollInterval:   2 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig. The boolean
// EnforceZoneIsolation is left alone: false is a legal, explicit
// setting.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultZone == "" {
		c.DefaultZone = def.DefaultZone
	}
	if c.CrossZoneRelations == nil {
		c.CrossZoneRelations = def.CrossZoneRelations
	}
	if c.GrantTTL == 0 {
		c.GrantTTL = def.GrantTTL
	}
	if c.DenyTTL == 0 {
		c.DenyTTL = def.DenyTTL
	}
	if c.TigerTTL == 0 {
		c.TigerTTL = def.TigerTTL
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.ExpandBatchSize == 0 {
		c.ExpandBatchSize = def.ExpandBatchSize
	}
	if c.ExpandConcurrency == 0 {
		c.ExpandConcurrency = def.ExpandConcurrency
	}
	if c.ExpandPollInterval == 0 {
		c.ExpandPollInterval = def.ExpandPollInterval
	}
	return c
}

package ocelot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Expander is the background worker that materializes directory grants
// into Tiger Cache bitmaps. It claims pending grants, enumerates
// descendants of the grant's directory in batches, and sets the
// corresponding bits, persisting progress after every batch.
//
// Expansion is resumable: a claimed grant continues from its persisted
// expanded count, and because bits are set (never toggled) replaying a
// batch is idempotent. A grant that fails moves to the failed state
// with its error message; the worker pool keeps running.
type Expander struct {
	store Store
	tiger *TigerCache
	cfg   Config
	log   *zap.Logger
}

// NewExpander builds a worker over the store and Tiger Cache.
func NewExpander(store Store, tiger *TigerCache, cfg Config, log *zap.Logger) *Expander {
	if log == nil {
		log = zap.NewNop()
	}
	return &Expander{store: store, tiger: tiger, cfg: cfg.withDefaults(), log: log}
}

// Run polls for pending grants with cfg.ExpandConcurrency workers
// until the context is canceled. Grant failures are recorded on the
// grant and do not stop the pool; only context cancellation returns.
func (x *Expander) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < x.cfg.ExpandConcurrency; i++ {
		g.Go(func() error {
			for {
				worked, err := x.ExpandOnce(ctx)
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err != nil {
					x.log.Error("grant expansion failed", zap.Error(err))
				}
				if !worked {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(x.cfg.ExpandPollInterval):
					}
				}
			}
		})
	}
	return g.Wait()
}

// ExpandOnce claims and expands a single grant. Returns false when no
// pending grant was available. An expansion failure is recorded on the
// grant and returned wrapped in ErrExpansion.
func (x *Expander) ExpandOnce(ctx context.Context) (bool, error) {
	grant, ok, err := x.store.ClaimPendingGrant(ctx)
	if err != nil {
		return false, fmt.Errorf("claim pending grant: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := x.expand(ctx, grant); err != nil {
		if failErr := x.store.FailGrant(ctx, grant.ID, err.Error()); failErr != nil {
			x.log.Error("recording grant failure failed",
				zap.String("grant_id", grant.ID), zap.Error(failErr))
		}
		return true, fmt.Errorf("%w: grant %s: %v", ErrExpansion, grant.ID, err)
	}
	return true, nil
}

// expand walks the grant's descendants and sets their bits.
//
// The enumeration cutoff is the grant revision for pinned grants. For
// include-future grants it is the zone revision at expansion start:
// files created during or after expansion are picked up synchronously
// by RegisterResource, so a fixed cutoff keeps offsets stable without
// losing anything.
func (x *Expander) expand(ctx context.Context, grant DirectoryGrant) error {
	// Bits set below are stamped with the grant revision and cover only
	// this grant's descendants, not the subject's direct or userset
	// tuples. Bumping the zone revision first keeps such partial
	// bitmaps stale: readers never trust them as the complete permitted
	// set, and the next list re-materializes from the store.
	if _, err := x.store.IncrementRevision(ctx, grant.ZoneID); err != nil {
		return fmt.Errorf("bump revision for zone %q: %w", grant.ZoneID, err)
	}

	cutoff := grant.GrantRevision
	if grant.IncludeFutureFiles {
		cur, err := x.store.CurrentRevision(ctx, grant.ZoneID)
		if err != nil {
			return fmt.Errorf("read revision for zone %q: %w", grant.ZoneID, err)
		}
		cutoff = cur
	}

	total, err := x.store.CountDescendants(ctx, grant.ResourceType, grant.Directory, cutoff)
	if err != nil {
		return fmt.Errorf("count descendants of %q: %w", grant.Directory, err)
	}

	key := grant.TigerKey()
	expanded := grant.ExpandedCount
	for expanded < total {
		batch, err := x.store.ListDescendants(ctx, grant.ResourceType, grant.Directory, cutoff, int(expanded), x.cfg.ExpandBatchSize)
		if err != nil {
			return fmt.Errorf("list descendants of %q at offset %d: %w", grant.Directory, expanded, err)
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]uint32, len(batch))
		for i, res := range batch {
			ids[i] = res.ID
		}
		if err := x.tiger.AddBits(ctx, key, ids, grant.GrantRevision); err != nil {
			return fmt.Errorf("set bits for %q: %w", grant.Directory, err)
		}

		expanded += int64(len(batch))
		if err := x.store.UpdateGrantProgress(ctx, grant.ID, expanded, total); err != nil {
			return fmt.Errorf("persist progress for grant %s: %w", grant.ID, err)
		}
	}

	if err := x.store.CompleteGrant(ctx, grant.ID); err != nil {
		return fmt.Errorf("complete grant %s: %w", grant.ID, err)
	}
	x.log.Info("directory grant expanded",
		zap.String("grant_id", grant.ID),
		zap.String("directory", grant.Directory),
		zap.Int64("expanded", expanded),
		zap.Int64("total", total))
	return nil
}

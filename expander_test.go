package ocelot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/pkg/memcache"
	"github.com/ocelot-io/ocelot/pkg/memstore"
)

func newExpanderFixture(t *testing.T) (*memstore.Store, *ocelot.TigerCache, *ocelot.Expander) {
	t.Helper()
	store := memstore.New()
	tiger := ocelot.NewTigerCache(memcache.New(), 0, nil)
	cfg := ocelot.DefaultConfig()
	cfg.ExpandBatchSize = 2 // force multiple batches
	return store, tiger, ocelot.NewExpander(store, tiger, cfg, nil)
}

func seedFiles(t *testing.T, store *memstore.Store, dir string, revision int64, names ...string) []uint32 {
	t.Helper()
	ids := make([]uint32, len(names))
	for i, name := range names {
		res, err := store.EnsureResource(context.Background(), "file", dir+"/"+name, revision)
		require.NoError(t, err)
		ids[i] = res.ID
	}
	return ids
}

func TestExpandOnceNoPendingGrant(t *testing.T) {
	_, _, x := newExpanderFixture(t)

	worked, err := x.ExpandOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestExpandOnceFullExpansion(t *testing.T) {
	ctx := context.Background()
	store, tiger, x := newExpanderFixture(t)

	ids := seedFiles(t, store, "/docs", 3, "a.txt", "b.txt", "c.txt", "d.txt", "e.txt")
	seedFiles(t, store, "/other", 3, "x.txt")

	grant := ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 5,
		State: ocelot.GrantPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateGrant(ctx, grant))

	worked, err := x.ExpandOnce(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	got, err := store.Grant(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ocelot.GrantCompleted, got.State)
	assert.Equal(t, int64(5), got.ExpandedCount)
	assert.Equal(t, int64(5), got.TotalCount)

	bm, rev, found, err := tiger.GetBitmap(ctx, grant.TigerKey())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(5), rev, "bitmap is stamped with the grant revision")
	for _, id := range ids {
		assert.True(t, bm.Contains(id))
	}
	assert.Equal(t, uint64(5), bm.GetCardinality(), "files outside the directory stay clear")
}

func TestExpandLeavesPartialBitmapStale(t *testing.T) {
	ctx := context.Background()
	store, tiger, x := newExpanderFixture(t)

	seedFiles(t, store, "/docs", 1, "a.txt")
	for i := 0; i < 2; i++ {
		_, err := store.IncrementRevision(ctx, "acme")
		require.NoError(t, err)
	}

	grant := ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 2,
		State: ocelot.GrantPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateGrant(ctx, grant))

	_, err := x.ExpandOnce(ctx)
	require.NoError(t, err)

	// The expanded bitmap holds only the grant's descendants, so its
	// revision must lag the zone's. A reader comparing revisions then
	// re-materializes instead of serving it as the complete set.
	_, rev, found, err := tiger.GetBitmap(ctx, grant.TigerKey())
	require.NoError(t, err)
	require.True(t, found)
	cur, err := store.CurrentRevision(ctx, "acme")
	require.NoError(t, err)
	assert.Less(t, rev, cur)
}

func TestExpandExcludesFilesAfterGrantRevision(t *testing.T) {
	ctx := context.Background()
	store, tiger, x := newExpanderFixture(t)

	early := seedFiles(t, store, "/docs", 3, "early.txt")
	late := seedFiles(t, store, "/docs", 9, "late.txt")

	require.NoError(t, store.CreateGrant(ctx, ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 5,
		State: ocelot.GrantPending, CreatedAt: time.Now(),
	}))

	_, err := x.ExpandOnce(ctx)
	require.NoError(t, err)

	key := ocelot.TigerKey{ZoneID: "acme", Subject: alice, Permission: "viewer", ResourceType: "file"}
	bm, _, found, err := tiger.GetBitmap(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, bm.Contains(early[0]))
	assert.False(t, bm.Contains(late[0]), "files created after the grant revision are excluded")
}

func TestExpandIncludeFutureFilesUsesCurrentRevision(t *testing.T) {
	ctx := context.Background()
	store, tiger, x := newExpanderFixture(t)

	late := seedFiles(t, store, "/docs", 9, "late.txt")
	for i := 0; i < 9; i++ {
		_, err := store.IncrementRevision(ctx, "acme")
		require.NoError(t, err)
	}

	require.NoError(t, store.CreateGrant(ctx, ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 5, IncludeFutureFiles: true,
		State: ocelot.GrantPending, CreatedAt: time.Now(),
	}))

	_, err := x.ExpandOnce(ctx)
	require.NoError(t, err)

	key := ocelot.TigerKey{ZoneID: "acme", Subject: alice, Permission: "viewer", ResourceType: "file"}
	bm, _, found, err := tiger.GetBitmap(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, bm.Contains(late[0]), "include-future grants enumerate up to the zone's current revision")
}

func TestExpandResumesFromPersistedProgress(t *testing.T) {
	ctx := context.Background()
	store, tiger, x := newExpanderFixture(t)

	ids := seedFiles(t, store, "/docs", 1, "a.txt", "b.txt", "c.txt", "d.txt", "e.txt")

	// Simulate a worker that died after two files: progress persisted,
	// first batch's bits already set.
	key := ocelot.TigerKey{ZoneID: "acme", Subject: alice, Permission: "viewer", ResourceType: "file"}
	require.NoError(t, tiger.AddBits(ctx, key, ids[:2], 5))
	require.NoError(t, store.CreateGrant(ctx, ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 5,
		State: ocelot.GrantPending, ExpandedCount: 2, CreatedAt: time.Now(),
	}))

	_, err := x.ExpandOnce(ctx)
	require.NoError(t, err)

	got, err := store.Grant(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ocelot.GrantCompleted, got.State)
	assert.Equal(t, int64(5), got.ExpandedCount)

	bm, _, found, err := tiger.GetBitmap(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(5), bm.GetCardinality())
	for _, id := range ids {
		assert.True(t, bm.Contains(id))
	}
}

// flakyStore fails descendant listing.
type flakyStore struct {
	*memstore.Store
}

func (f flakyStore) ListDescendants(context.Context, ocelot.ObjectType, string, int64, int, int) ([]ocelot.Resource, error) {
	return nil, errors.New("descendant scan failed")
}

func TestExpandFailureMarksGrantFailed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tiger := ocelot.NewTigerCache(memcache.New(), 0, nil)
	x := ocelot.NewExpander(flakyStore{Store: store}, tiger, ocelot.DefaultConfig(), nil)

	seedFiles(t, store, "/docs", 1, "a.txt")
	require.NoError(t, store.CreateGrant(ctx, ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 5,
		State: ocelot.GrantPending, CreatedAt: time.Now(),
	}))

	worked, err := x.ExpandOnce(ctx)
	assert.True(t, worked)
	require.Error(t, err)
	assert.True(t, ocelot.IsExpansionErr(err))

	got, err := store.Grant(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, ocelot.GrantFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "descendant scan failed")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := memstore.New()
	tiger := ocelot.NewTigerCache(memcache.New(), 0, nil)
	cfg := ocelot.DefaultConfig()
	cfg.ExpandPollInterval = 5 * time.Millisecond
	x := ocelot.NewExpander(store, tiger, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- x.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

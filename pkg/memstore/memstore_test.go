package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/pkg/memstore"
)

var (
	alice  = ocelot.Object{Type: "user", ID: "alice"}
	bob    = ocelot.Object{Type: "user", ID: "bob"}
	report = ocelot.Object{Type: "file", ID: "/docs/report.pdf"}
)

func TestWriteTupleUpserts(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	tup := ocelot.Tuple{
		Subject: alice, Relation: "viewer", Object: report,
		ZoneID: "acme", CreatedRevision: 1,
	}
	require.NoError(t, s.WriteTuple(ctx, tup))

	// Same key again with a newer revision replaces, not duplicates.
	tup.CreatedRevision = 2
	require.NoError(t, s.WriteTuple(ctx, tup))

	got, err := s.ReadTuples(ctx, ocelot.TupleFilter{ZoneID: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].CreatedRevision)
}

func TestDeleteTuple(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	tup := ocelot.Tuple{Subject: alice, Relation: "viewer", Object: report, ZoneID: "acme"}
	require.NoError(t, s.WriteTuple(ctx, tup))
	require.NoError(t, s.DeleteTuple(ctx, tup.Key()))

	err := s.DeleteTuple(ctx, tup.Key())
	assert.ErrorIs(t, err, ocelot.ErrTupleNotFound)
}

func TestReadTuplesFilters(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	group := ocelot.Object{Type: "group", ID: "eng"}
	tuples := []ocelot.Tuple{
		{Subject: alice, Relation: "viewer", Object: report, ZoneID: "acme", CreatedRevision: 1},
		{Subject: bob, Relation: "viewer", Object: report, ZoneID: "acme", CreatedRevision: 2},
		{Subject: group, SubjectRelation: "member", Relation: "viewer", Object: report, ZoneID: "acme", CreatedRevision: 3},
		{Subject: alice, Relation: "viewer", Object: report, ZoneID: "beta", CreatedRevision: 1},
	}
	for _, tup := range tuples {
		require.NoError(t, s.WriteTuple(ctx, tup))
	}

	got, err := s.ReadTuples(ctx, ocelot.TupleFilter{Object: &report, ZoneID: "acme"})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.ReadTuples(ctx, ocelot.TupleFilter{Subject: &alice, ZoneID: "acme"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ReadTuples(ctx, ocelot.TupleFilter{ZoneID: "acme", UsersetOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ocelot.Relation("member"), got[0].SubjectRelation)

	// Revision cap excludes later tuples; 0 means no cap.
	got, err = s.ReadTuples(ctx, ocelot.TupleFilter{ZoneID: "acme", MaxRevision: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = s.ReadTuples(ctx, ocelot.TupleFilter{ZoneID: "acme", MaxRevision: 0})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestReadTuplesSkipsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := memstore.New(memstore.WithClock(func() time.Time { return now }))

	expiry := now.Add(time.Minute)
	require.NoError(t, s.WriteTuple(ctx, ocelot.Tuple{
		Subject: alice, Relation: "viewer", Object: report, ZoneID: "acme", ExpiresAt: &expiry,
	}))

	got, err := s.ReadTuples(ctx, ocelot.TupleFilter{ZoneID: "acme"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	now = now.Add(2 * time.Minute)
	got, err = s.ReadTuples(ctx, ocelot.TupleFilter{ZoneID: "acme"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSequences(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	rev, err := s.CurrentRevision(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	for want := int64(1); want <= 3; want++ {
		rev, err = s.IncrementRevision(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, want, rev)
	}

	// Independent per zone.
	rev, err = s.IncrementRevision(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
}

func TestEnsureResourceStableIDs(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	first, err := s.EnsureResource(ctx, "file", "/docs/a.txt", 1)
	require.NoError(t, err)

	// Re-ensuring returns the same mapping, ignoring the new revision.
	again, err := s.EnsureResource(ctx, "file", "/docs/a.txt", 9)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	other, err := s.EnsureResource(ctx, "file", "/docs/b.txt", 1)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	res, found, err := s.LookupResource(ctx, "file", "/docs/a.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first, res)

	_, found, err = s.LookupResource(ctx, "file", "/missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResourceKeys(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	a, _ := s.EnsureResource(ctx, "file", "/a.txt", 1)
	b, _ := s.EnsureResource(ctx, "file", "/b.txt", 1)

	keys, err := s.ResourceKeys(ctx, "file", []uint32{b.ID, a.ID, 9999})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.txt", "/b.txt"}, keys, "ordered by ID, unknown IDs skipped")
}

func TestListDescendants(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	var ids []uint32
	for i, key := range []string{"/docs/a.txt", "/docs/b.txt", "/docs/sub/c.txt"} {
		res, err := s.EnsureResource(ctx, "file", key, int64(i+1))
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	_, err := s.EnsureResource(ctx, "file", "/other/x.txt", 1)
	require.NoError(t, err)

	count, err := s.CountDescendants(ctx, "file", "/docs", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Revision cap.
	count, err = s.CountDescendants(ctx, "file", "/docs", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Pagination is stable and ordered by ID.
	page, err := s.ListDescendants(ctx, "file", "/docs", 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	page, err = s.ListDescendants(ctx, "file", "/docs", 0, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)

	page, err = s.ListDescendants(ctx, "file", "/docs", 0, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	// Root covers everything.
	count, err = s.CountDescendants(ctx, "file", "/", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestGrantLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Grant(ctx, "missing")
	assert.ErrorIs(t, err, ocelot.ErrGrantNotFound)

	base := time.Now()
	older := ocelot.DirectoryGrant{
		ID: "older", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", State: ocelot.GrantPending,
		CreatedAt: base,
	}
	newer := older
	newer.ID = "newer"
	newer.CreatedAt = base.Add(time.Second)
	require.NoError(t, s.CreateGrant(ctx, newer))
	require.NoError(t, s.CreateGrant(ctx, older))

	// Claim takes the oldest pending grant and marks it in progress.
	claimed, ok, err := s.ClaimPendingGrant(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "older", claimed.ID)
	assert.Equal(t, ocelot.GrantInProgress, claimed.State)

	require.NoError(t, s.UpdateGrantProgress(ctx, "older", 2, 5))
	require.NoError(t, s.CompleteGrant(ctx, "older"))
	got, err := s.Grant(ctx, "older")
	require.NoError(t, err)
	assert.Equal(t, ocelot.GrantCompleted, got.State)
	assert.Equal(t, int64(2), got.ExpandedCount)
	assert.Equal(t, int64(5), got.TotalCount)

	claimed, ok, err = s.ClaimPendingGrant(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newer", claimed.ID)

	require.NoError(t, s.FailGrant(ctx, "newer", "boom"))
	got, err = s.Grant(ctx, "newer")
	require.NoError(t, err)
	assert.Equal(t, ocelot.GrantFailed, got.State)
	assert.Equal(t, "boom", got.ErrorMessage)

	// Nothing pending remains.
	_, ok, err = s.ClaimPendingGrant(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteGrant(ctx, "older"))
	assert.ErrorIs(t, s.DeleteGrant(ctx, "older"), ocelot.ErrGrantNotFound)
}

func TestGrantQueries(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	mk := func(id, dir string, subject ocelot.Object) ocelot.DirectoryGrant {
		return ocelot.DirectoryGrant{
			ID: id, Subject: subject, Permission: "viewer", Directory: dir,
			ResourceType: "file", ZoneID: "acme", State: ocelot.GrantCompleted,
			CreatedAt: time.Now(),
		}
	}
	require.NoError(t, s.CreateGrant(ctx, mk("g1", "/docs", alice)))
	require.NoError(t, s.CreateGrant(ctx, mk("g2", "/", alice)))
	require.NoError(t, s.CreateGrant(ctx, mk("g3", "/docs", bob)))
	require.NoError(t, s.CreateGrant(ctx, mk("g4", "/other", alice)))

	grants, err := s.GrantsForAncestors(ctx, "acme", "file", []string{"/docs", "/"})
	require.NoError(t, err)
	assert.Len(t, grants, 3)

	grants, err = s.GrantsForSubject(ctx, "acme", alice, "viewer", "file")
	require.NoError(t, err)
	assert.Len(t, grants, 3)

	grants, err = s.GrantsForSubject(ctx, "beta", alice, "viewer", "file")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

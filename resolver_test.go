package ocelot_test

import (
	"context"
	"errors"
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
	eng    = ocelot.Object{Type: "group", ID: "eng"}
	core   = ocelot.Object{Type: "group", ID: "core"}
)

func mustWrite(t *testing.T, e *ocelot.Engine, req ocelot.WriteTupleRequest) {
	t.Helper()
	_, err := e.WriteTuple(context.Background(), req)
	require.NoError(t, err)
}

func check(t *testing.T, e *ocelot.Engine, req ocelot.CheckRequest) bool {
	t.Helper()
	allowed, err := e.Check(context.Background(), req)
	require.NoError(t, err)
	return allowed
}

func TestCheckDirectTuple(t *testing.T) {
	e := ocelot.NewEngine(memstore.New())

	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: alice, Relation: "viewer", Object: report, ZoneID: "acme",
	})

	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: bob, Permission: "viewer", Object: report, ZoneID: "acme",
	}), "no tuple means deny")
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "editor", Object: report, ZoneID: "acme",
	}), "permissions do not imply each other")
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "beta",
	}), "ordinary tuples are invisible from other zones")
}

func TestCheckUsersetExpansion(t *testing.T) {
	e := ocelot.NewEngine(memstore.New())

	// alice is a member of group:eng; members of group:eng can view the
	// report.
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: alice, Relation: "member", Object: eng, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: eng, SubjectRelation: "member", Relation: "viewer", Object: report, ZoneID: "acme",
	})

	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: bob, Permission: "viewer", Object: report, ZoneID: "acme",
	}), "non-members stay denied")
}

func TestCheckNestedGroups(t *testing.T) {
	e := ocelot.NewEngine(memstore.New())

	// alice -> group:core -> group:eng -> viewer on report.
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: alice, Relation: "member", Object: core, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: core, SubjectRelation: "member", Relation: "member", Object: eng, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: eng, SubjectRelation: "member", Relation: "viewer", Object: report, ZoneID: "acme",
	})

	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
}

func TestCheckCyclicGroupsTerminate(t *testing.T) {
	e := ocelot.NewEngine(memstore.New())

	// group:eng and group:core contain each other. No path reaches the
	// report, and the visited set must terminate the walk.
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: eng, SubjectRelation: "member", Relation: "member", Object: core, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: core, SubjectRelation: "member", Relation: "member", Object: eng, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: eng, SubjectRelation: "member", Relation: "viewer", Object: report, ZoneID: "acme",
	})

	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
}

func TestCheckExpiredTuple(t *testing.T) {
	e := ocelot.NewEngine(memstore.New())

	past := time.Now().Add(-time.Minute)
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: alice, Relation: "viewer", Object: report, ZoneID: "acme", ExpiresAt: &past,
	})

	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
}

func TestCheckConsistencyTokenPinning(t *testing.T) {
	e := ocelot.NewEngine(memstore.New())

	// Revision 1: alice's grant. Revision 2: bob's grant.
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: alice, Relation: "viewer", Object: report, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: bob, Relation: "viewer", Object: report, ZoneID: "acme",
	})

	// Pinned to v1, bob's later grant is not observed.
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: bob, Permission: "viewer", Object: report, ZoneID: "acme", ConsistencyToken: "v1",
	}))
	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme", ConsistencyToken: "v1",
	}))
	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: bob, Permission: "viewer", Object: report, ZoneID: "acme", ConsistencyToken: "v2",
	}))

	_, err := e.Check(context.Background(), ocelot.CheckRequest{
		Subject: bob, Permission: "viewer", Object: report, ZoneID: "acme", ConsistencyToken: "bogus",
	})
	assert.Error(t, err, "malformed tokens are rejected, not ignored")
}

// brokenStore fails every tuple read.
type brokenStore struct {
	ocelot.Store
}

var errStoreDown = errors.New("store down")

func (b brokenStore) ReadTuples(context.Context, ocelot.TupleFilter) ([]ocelot.Tuple, error) {
	return nil, errStoreDown
}

func TestCheckStoreFailurePropagates(t *testing.T) {
	e := ocelot.NewEngine(brokenStore{Store: memstore.New()})

	allowed, err := e.Check(context.Background(), ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	})
	require.Error(t, err)
	assert.False(t, allowed, "failures must never read as allowed")
	assert.True(t, ocelot.IsResolutionErr(err))
}

func TestCheckDirectoryGrantResolution(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := ocelot.NewEngine(store)

	// Resource exists at revision 3, grant lands at revision 5.
	_, err := store.EnsureResource(ctx, "file", report.ID, 3)
	require.NoError(t, err)
	grant := ocelot.DirectoryGrant{
		ID: "g1", Subject: alice, Permission: "viewer", Directory: "/docs",
		ResourceType: "file", ZoneID: "acme", GrantRevision: 5,
		State: ocelot.GrantCompleted, CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateGrant(ctx, grant))

	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: bob, Permission: "viewer", Object: report, ZoneID: "acme",
	}))

	// A file registered after the grant is excluded: the grant is
	// pinned to its revision.
	late := ocelot.Object{Type: "file", ID: "/docs/late.pdf"}
	_, err = store.EnsureResource(ctx, "file", late.ID, 9)
	require.NoError(t, err)
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: late, ZoneID: "acme",
	}))

	// Unless the grant opted into future files.
	future := grant
	future.ID = "g2"
	future.IncludeFutureFiles = true
	require.NoError(t, store.CreateGrant(ctx, future))
	assert.True(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: late, ZoneID: "acme",
	}))
}

func TestCheckDirectoryGrantStates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	e := ocelot.NewEngine(store)

	_, err := store.EnsureResource(ctx, "file", report.ID, 0)
	require.NoError(t, err)

	for i, state := range []ocelot.GrantState{ocelot.GrantPending, ocelot.GrantInProgress, ocelot.GrantFailed} {
		require.NoError(t, store.CreateGrant(ctx, ocelot.DirectoryGrant{
			ID: string(rune('a' + i)), Subject: alice, Permission: "viewer", Directory: "/docs",
			ResourceType: "file", ZoneID: "acme", GrantRevision: 1,
			State: state, CreatedAt: time.Now(),
		}))
	}

	// Only completed grants resolve.
	assert.False(t, check(t, e, ocelot.CheckRequest{
		Subject: alice, Permission: "viewer", Object: report, ZoneID: "acme",
	}))
}

func TestSubjectClosure(t *testing.T) {
	ctx := context.Background()
	e := ocelot.NewEngine(memstore.New())

	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: alice, Relation: "member", Object: core, ZoneID: "acme",
	})
	mustWrite(t, e, ocelot.WriteTupleRequest{
		Subject: core, SubjectRelation: "member", Relation: "member", Object: eng, ZoneID: "acme",
	})

	refs, err := e.Resolver().SubjectClosure(ctx, alice, "acme", 0)
	require.NoError(t, err)
	assert.Contains(t, refs, ocelot.SubjectRef{Object: core, Relation: "member"})
	assert.Contains(t, refs, ocelot.SubjectRef{Object: eng, Relation: "member"})
}

// Package ocelot implements relationship-based access control (ReBAC)
// for a multi-tenant virtual filesystem.
//
// # Model
//
// Access-control facts are relation tuples: "subject has relation R to
// object O in zone Z". Both sides of a tuple are typed objects - in FGA
// terms there is no special subject type:
//
//	user := ocelot.Object{Type: "user", ID: "alice"}
//	file := ocelot.Object{Type: "file", ID: "/docs/a.txt"}
//
// Zones are tenant isolation boundaries. Tuples never cross zones
// unless the relation is on the cross-zone allow-list, in which case
// the tuple lives in the object's zone and is readable from any zone.
//
// # Basic Usage
//
//	store := memstore.New()
//	engine := ocelot.NewEngine(store)
//	zone, _ := engine.WriteTuple(ctx, ocelot.WriteTupleRequest{
//	    Subject:  user,
//	    Relation: "viewer",
//	    Object:   file,
//	    ZoneID:   "acme",
//	})
//	ok, _ := engine.Check(ctx, ocelot.CheckRequest{
//	    Subject:    user,
//	    Permission: "viewer",
//	    Object:     file,
//	    ZoneID:     "acme",
//	})
//
// # Consistency
//
// Every zone carries a monotonic revision counter. Writes bump it;
// reads may be pinned to a version token ("v<N>") so that tuples
// created after the token are not observed. Directory-grant expansion
// uses the same mechanism to defend against the "new enemy" problem.
//
// # Caching
//
// Two acceleration tiers sit in front of the resolver: a short-TTL
// check-result cache (asymmetric TTLs for grants vs. denials) and the
// Tiger Cache, a materialized roaring bitmap of permitted resource IDs
// per (subject, permission, resource type, zone). Both are optional
// and wired through the KeyValueCache interface:
//
//	engine := ocelot.NewEngine(store,
//	    ocelot.WithCheckCache(memcache.New()),
//	    ocelot.WithTigerCache(memcache.New()),
//	)
package ocelot

import (
	"fmt"
	"strings"
	"time"
)

// ObjectType represents the type of an object.
type ObjectType string

// String returns the string representation of the object type.
func (ot ObjectType) String() string {
	return string(ot)
}

// Object represents a typed resource identifier. Subjects and objects
// are both Objects; a user, a group, and a file are all the same kind
// of value.
//
// Objects are value types and safe to copy. The canonical string form
// is "type:id", used in logging and cache keys.
type Object struct {
	Type ObjectType
	ID   string
}

// String returns the canonical representation "type:id".
func (o Object) String() string {
	return o.Type.String() + ":" + o.ID
}

// ParseObject parses the canonical "type:id" form. The ID may itself
// contain colons; only the first separates the type.
func ParseObject(s string) (Object, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return Object{}, fmt.Errorf("malformed object %q: want type:id", s)
	}
	return Object{Type: ObjectType(typ), ID: id}, nil
}

// Relation represents a typed relation identifier. Relations can be
// permissions (viewer, editor) or roles (owner, member); ocelot treats
// them uniformly.
type Relation string

// String returns the canonical representation of the relation.
func (r Relation) String() string {
	return string(r)
}

// Tuple is one immutable access-control fact. Tuples are created by a
// grant, logically deleted by a revoke or by expiry, and never mutated
// in place.
//
// SubjectRelation, when set, makes the tuple a userset reference: the
// subject is "everyone holding SubjectRelation on Subject" rather than
// Subject itself. This is how group membership grants work.
//
// CreatedRevision is the zone revision at write time. Reads pinned to
// a consistency token only observe tuples whose CreatedRevision is at
// or below the token's revision.
type Tuple struct {
	Subject         Object
	SubjectRelation Relation
	Relation        Relation
	Object          Object
	ZoneID          string
	ExpiresAt       *time.Time
	CreatedRevision int64
}

// Key returns the identifying portion of the tuple. Two tuples with
// the same key describe the same fact.
func (t Tuple) Key() TupleKey {
	return TupleKey{
		Subject:         t.Subject,
		SubjectRelation: t.SubjectRelation,
		Relation:        t.Relation,
		Object:          t.Object,
		ZoneID:          t.ZoneID,
	}
}

// Expired reports whether the tuple is past its expiry at the given
// instant. Tuples without an expiry never expire.
func (t Tuple) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// TupleKey uniquely identifies a tuple for writes and revokes.
type TupleKey struct {
	Subject         Object
	SubjectRelation Relation
	Relation        Relation
	Object          Object
	ZoneID          string
}

// AncestorPaths returns the ancestor directories of a slash-separated
// path, nearest first, ending with the root "/". Paths that do not
// start with "/" have no ancestors.
//
//	AncestorPaths("/docs/a/b.txt") -> ["/docs/a", "/docs", "/"]
func AncestorPaths(path string) []string {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return nil
	}
	var out []string
	p := path
	for {
		idx := strings.LastIndexByte(p, '/')
		if idx <= 0 {
			out = append(out, "/")
			return out
		}
		p = p[:idx]
		out = append(out, p)
	}
}

// DescendantOf reports whether path is strictly below dir.
func DescendantOf(path, dir string) bool {
	if dir == "/" {
		return strings.HasPrefix(path, "/") && path != "/"
	}
	return strings.HasPrefix(path, dir+"/")
}

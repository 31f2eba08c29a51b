package ocelot

import "time"

// GrantState is the expansion state of a directory grant.
//
// State machine: pending -> in_progress -> {completed, failed}. A
// failed grant stays queryable but its bitmap contribution is partial
// and unreliable until retried.
type GrantState string

const (
	GrantPending    GrantState = "pending"
	GrantInProgress GrantState = "in_progress"
	GrantCompleted  GrantState = "completed"
	GrantFailed     GrantState = "failed"
)

// DirectoryGrant applies a permission to every descendant of a
// directory. The grant row is created synchronously; bit-flipping in
// the Tiger Cache happens asynchronously in the Expander.
//
// GrantRevision is the zone revision at grant time. Grants with
// IncludeFutureFiles=false are pinned to it and deliberately exclude
// files registered later - the "new enemy" defense. Grants with
// IncludeFutureFiles=true additionally pick up new files at
// registration time via Engine.RegisterResource.
type DirectoryGrant struct {
	ID                 string
	Subject            Object
	Permission         Relation
	Directory          string
	ResourceType       ObjectType
	ZoneID             string
	GrantRevision      int64
	IncludeFutureFiles bool

	State         GrantState
	ExpandedCount int64
	TotalCount    int64
	ErrorMessage  string

	CreatedAt time.Time
}

// TigerKey returns the bitmap key this grant contributes bits to.
func (g DirectoryGrant) TigerKey() TigerKey {
	return TigerKey{
		ZoneID:       g.ZoneID,
		Subject:      g.Subject,
		Permission:   g.Permission,
		ResourceType: g.ResourceType,
	}
}

// GrantStatus is the caller-facing view of expansion progress.
type GrantStatus struct {
	State         GrantState
	ExpandedCount int64
	TotalCount    int64
	ErrorMessage  string
}

package ocelot

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes of the engine. Permission
// denials are not errors: checks return (false, nil) for denied
// access. These errors mean the engine could not produce a definitive
// decision, and the authorization boundary must fail closed - absence
// of a definitive allow is deny, never the other way around.
var (
	// ErrResolution is returned when the backing store fails during a
	// permission check. It always propagates to the caller; the
	// resolver never coerces a store failure into allow or deny.
	ErrResolution = errors.New("ocelot: permission resolution failed")

	// ErrExpansion is returned when a directory-grant expansion batch
	// fails. The grant moves to the failed state with a message; the
	// worker pool itself keeps running.
	ErrExpansion = errors.New("ocelot: directory grant expansion failed")

	// ErrCacheCorrupt is returned internally when a cached bitmap or
	// decision cannot be decoded. Corrupt entries are logged, dropped,
	// and treated as cache misses - never trusted.
	ErrCacheCorrupt = errors.New("ocelot: corrupt cache entry")

	// ErrGrantNotFound is returned when a directory grant ID does not
	// exist (or was already revoked).
	ErrGrantNotFound = errors.New("ocelot: directory grant not found")

	// ErrTupleNotFound is returned by RevokeTuple when no tuple
	// matches the given key.
	ErrTupleNotFound = errors.New("ocelot: relation tuple not found")
)

// ZoneIsolationError reports a rejected cross-zone write. It carries
// both zone IDs and is never auto-corrected: callers must either fix
// the zones or use a relation on the cross-zone allow-list.
type ZoneIsolationError struct {
	SubjectZone string
	ObjectZone  string
	Relation    Relation
}

func (e *ZoneIsolationError) Error() string {
	return fmt.Sprintf("ocelot: zone isolation violation: relation %q crosses zones %q -> %q",
		e.Relation, e.SubjectZone, e.ObjectZone)
}

// IsZoneIsolationErr returns true if err is or wraps a ZoneIsolationError.
func IsZoneIsolationErr(err error) bool {
	var zerr *ZoneIsolationError
	return errors.As(err, &zerr)
}

// IsResolutionErr returns true if err is or wraps ErrResolution.
func IsResolutionErr(err error) bool {
	return errors.Is(err, ErrResolution)
}

// IsExpansionErr returns true if err is or wraps ErrExpansion.
func IsExpansionErr(err error) bool {
	return errors.Is(err, ErrExpansion)
}

// IsCacheCorruptErr returns true if err is or wraps ErrCacheCorrupt.
func IsCacheCorruptErr(err error) bool {
	return errors.Is(err, ErrCacheCorrupt)
}

// IsGrantNotFoundErr returns true if err is or wraps ErrGrantNotFound.
func IsGrantNotFoundErr(err error) bool {
	return errors.Is(err, ErrGrantNotFound)
}

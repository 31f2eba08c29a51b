package ocelot

import (
	"go.uber.org/zap"
)

// DefaultZone is the well-known zone used when a request does not name
// one.
const DefaultZone = "default"

// DefaultCrossZoneRelations is the built-in allow-list of relations
// that may cross zone boundaries. Cross-zone tuples are stored under
// the object's zone and are readable from any zone.
var DefaultCrossZoneRelations = []Relation{"shared-viewer", "shared-editor"}

// WriteZones is the resolved zone placement of a tuple write.
type WriteZones struct {
	// EffectiveZone is where the tuple is stored: the common zone for
	// same-zone writes, the object's zone for cross-zone writes.
	EffectiveZone string
	SubjectZone   string
	ObjectZone    string
	CrossZone     bool
}

// ZoneGuard validates zone placement on every tuple write and answers
// cross-zone readability on the read path.
//
// Enforcement can be disabled as a migration kill-switch; defaults are
// still resolved but no isolation error is raised. The flag is
// explicit configuration, never a silent default, and disabled
// enforcement is logged at construction.
type ZoneGuard struct {
	defaultZone string
	enforce     bool
	crossZone   map[Relation]struct{}
	log         *zap.Logger
}

// NewZoneGuard builds a guard from engine configuration.
func NewZoneGuard(cfg Config, log *zap.Logger) *ZoneGuard {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[Relation]struct{}, len(cfg.CrossZoneRelations))
	for _, r := range cfg.CrossZoneRelations {
		allowed[r] = struct{}{}
	}
	if !cfg.EnforceZoneIsolation {
		log.Warn("zone isolation enforcement is disabled (migration kill-switch)")
	}
	return &ZoneGuard{
		defaultZone: cfg.DefaultZone,
		enforce:     cfg.EnforceZoneIsolation,
		crossZone:   allowed,
		log:         log,
	}
}

// DefaultZoneID returns the ambient zone used for unspecified zone IDs.
func (g *ZoneGuard) DefaultZoneID() string {
	return g.defaultZone
}

// Resolve returns zoneID, or the ambient zone when it is empty.
func (g *ZoneGuard) Resolve(zoneID string) string {
	if zoneID == "" {
		return g.defaultZone
	}
	return zoneID
}

// ValidateWriteZones resolves missing zone IDs and enforces zone
// isolation for a tuple write.
//
// Subject and object zones default to the tuple zone, which itself
// defaults to the ambient zone. When the zones differ the write is
// allowed only for relations on the cross-zone allow-list; the tuple
// is then stored under the object's zone and the write is logged.
// Otherwise a ZoneIsolationError carrying both zone IDs is returned.
//
// With enforcement disabled, defaults are still resolved but the
// isolation error is suppressed and the violation logged instead.
func (g *ZoneGuard) ValidateWriteZones(zoneID, subjectZone, objectZone string, relation Relation) (WriteZones, error) {
	effective := g.Resolve(zoneID)
	if subjectZone == "" {
		subjectZone = effective
	}
	if objectZone == "" {
		objectZone = effective
	}

	if subjectZone == objectZone {
		return WriteZones{
			EffectiveZone: objectZone,
			SubjectZone:   subjectZone,
			ObjectZone:    objectZone,
		}, nil
	}

	if g.IsCrossZoneReadable(relation) {
		g.log.Info("cross-zone tuple write",
			zap.String("relation", relation.String()),
			zap.String("subject_zone", subjectZone),
			zap.String("object_zone", objectZone))
		return WriteZones{
			EffectiveZone: objectZone,
			SubjectZone:   subjectZone,
			ObjectZone:    objectZone,
			CrossZone:     true,
		}, nil
	}

	if !g.enforce {
		g.log.Warn("zone isolation violation permitted by kill-switch",
			zap.String("relation", relation.String()),
			zap.String("subject_zone", subjectZone),
			zap.String("object_zone", objectZone))
		return WriteZones{
			EffectiveZone: objectZone,
			SubjectZone:   subjectZone,
			ObjectZone:    objectZone,
			CrossZone:     true,
		}, nil
	}

	return WriteZones{}, &ZoneIsolationError{
		SubjectZone: subjectZone,
		ObjectZone:  objectZone,
		Relation:    relation,
	}
}

// IsCrossZoneReadable reports whether tuples under the relation are
// visible to zones other than the one they are stored in. Pure lookup
// against the same allow-list used on the write path.
func (g *ZoneGuard) IsCrossZoneReadable(relation Relation) bool {
	_, ok := g.crossZone[relation]
	return ok
}

// TupleVisible reports whether a stored tuple may satisfy a check
// issued from the given zone.
func (g *ZoneGuard) TupleVisible(t Tuple, zoneID string) bool {
	return t.ZoneID == zoneID || g.IsCrossZoneReadable(t.Relation)
}

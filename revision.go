package ocelot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Sequencer produces per-zone consistency tokens ("zookies"). It is a
// thin facade over the store's atomic upsert-increment: monotonicity
// comes from the backing store, not from any in-process lock, so it is
// correct across multiple concurrent writer processes.
type Sequencer struct {
	store SequenceStore
}

// NewSequencer wraps a SequenceStore.
func NewSequencer(store SequenceStore) *Sequencer {
	return &Sequencer{store: store}
}

// IncrementVersionToken bumps the zone's revision and returns the new
// version token. Concurrent callers observe strictly increasing,
// gap-tolerant values.
func (s *Sequencer) IncrementVersionToken(ctx context.Context, zoneID string) (string, error) {
	rev, err := s.store.IncrementRevision(ctx, zoneID)
	if err != nil {
		return "", fmt.Errorf("increment revision for zone %q: %w", zoneID, err)
	}
	return FormatVersionToken(rev), nil
}

// ZoneRevisionForGrant returns the zone revision to stamp a new
// directory grant with. A zone that has never been written is first
// moved to revision 1: revision 0 is the stores' "no cap" filter
// value, so a grant revision must always be positive for its cutoff to
// hold.
func (s *Sequencer) ZoneRevisionForGrant(ctx context.Context, zoneID string) (int64, error) {
	rev, err := s.store.CurrentRevision(ctx, zoneID)
	if err != nil {
		return 0, fmt.Errorf("read revision for zone %q: %w", zoneID, err)
	}
	if rev == 0 {
		rev, err = s.store.IncrementRevision(ctx, zoneID)
		if err != nil {
			return 0, fmt.Errorf("initialize revision for zone %q: %w", zoneID, err)
		}
	}
	return rev, nil
}

// FormatVersionToken encodes a zone revision as a "v<N>" token.
func FormatVersionToken(rev int64) string {
	return "v" + strconv.FormatInt(rev, 10)
}

// ParseVersionToken decodes a "v<N>" token. The empty string parses to
// revision 0, meaning unpinned.
func ParseVersionToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	if !strings.HasPrefix(token, "v") {
		return 0, fmt.Errorf("malformed version token %q", token)
	}
	rev, err := strconv.ParseInt(token[1:], 10, 64)
	if err != nil || rev < 0 {
		return 0, fmt.Errorf("malformed version token %q", token)
	}
	return rev, nil
}

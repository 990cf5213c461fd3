package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustinober1/studysync/internal/card"
)

// Strategy selects how a local/remote conflict is resolved.
type Strategy string

const (
	// ServerWins keeps the remote document unchanged.
	ServerWins Strategy = "server-wins"

	// LocalWins pushes the local card unchanged.
	LocalWins Strategy = "local-wins"

	// LastWriteWins takes whichever side has the later updated_at,
	// field-for-field with no merge. This is the default.
	LastWriteWins Strategy = "last-write-wins"

	// Merge reconciles field by field: newer side for content and notes,
	// OR for suspension, union for tags, remote creation time preserved.
	Merge Strategy = "merge"
)

// ErrConflictResolution reports malformed merge input. This is a programming
// error, not a transient condition, and is never retried.
var ErrConflictResolution = errors.New("conflict resolution failed")

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case ServerWins, LocalWins, LastWriteWins, Merge:
		return Strategy(s), nil
	case "":
		return LastWriteWins, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Resolve computes the card to write back remotely when both sides hold a
// version of the same flashcard.
//
// local and remote must target the same id; the lookup that produced remote
// was keyed by local's id, so a mismatch means a caller bug.
func Resolve(local, remote *card.Card, strategy Strategy, now time.Time) (*card.Card, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("%w: nil input", ErrConflictResolution)
	}
	if local.ID == "" || remote.ID == "" || local.ID != remote.ID {
		return nil, fmt.Errorf("%w: id mismatch (%q vs %q)", ErrConflictResolution, local.ID, remote.ID)
	}

	switch strategy {
	case ServerWins:
		return remote.Clone(), nil

	case LocalWins:
		return local.Clone(), nil

	case LastWriteWins:
		if local.UpdatedAt.After(remote.UpdatedAt) {
			return local.Clone(), nil
		}
		return remote.Clone(), nil

	case Merge:
		return merge(local, remote, now), nil
	}

	return nil, fmt.Errorf("%w: unknown strategy %q", ErrConflictResolution, strategy)
}

// merge applies the field-level rules.
//
// ContentID, Scheduling and Notes all follow the same "which side is newer"
// decision. The scheduling payload is opaque and deliberately taken
// wholesale from one side; merging individual scheduler fields could
// produce an internally inconsistent scheduling state.
func merge(local, remote *card.Card, now time.Time) *card.Card {
	useLocal := local.UpdatedAt.After(remote.UpdatedAt)

	newer := remote
	if useLocal {
		newer = local
	}

	out := &card.Card{
		// Identity comes from the local side; it matches remote by
		// construction since the remote lookup was keyed by id.
		ID:     local.ID,
		UserID: local.UserID,

		ContentID:  newer.ContentID,
		Scheduling: cloneScheduling(newer.Scheduling),
		Notes:      newer.Notes,

		// A suspension on either side sticks.
		Suspended: local.Suspended || remote.Suspended,

		Tags: unionTags(local.Tags, remote.Tags),

		// The original creation time is authoritative and never moves.
		CreatedAt: remote.CreatedAt,
		UpdatedAt: now,
	}
	return out
}

func cloneScheduling(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// unionTags merges both tag sets, deduplicated, preserving first-seen order.
func unionTags(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, tags := range [][]string{a, b} {
		for _, t := range tags {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

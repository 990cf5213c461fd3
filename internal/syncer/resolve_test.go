package syncer

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dustinober1/studysync/internal/card"
)

var (
	older = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rnow  = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
)

func conflictPair() (*card.Card, *card.Card) {
	local := &card.Card{
		ID:         "c1",
		UserID:     "u1",
		ContentID:  "content-local",
		Scheduling: map[string]any{"dueDate": "2026-03-10T00:00:00Z", "interval": 7},
		Tags:       []string{"a", "b"},
		Notes:      "local notes",
		CreatedAt:  older,
		UpdatedAt:  newer,
	}
	remote := &card.Card{
		ID:         "c1",
		UserID:     "u1",
		ContentID:  "content-remote",
		Scheduling: map[string]any{"dueDate": "2026-03-04T00:00:00Z", "interval": 2},
		Tags:       []string{"b", "c"},
		Notes:      "remote notes",
		CreatedAt:  older,
		UpdatedAt:  older,
	}
	return local, remote
}

func TestParseStrategy(t *testing.T) {
	got, err := ParseStrategy("")
	if err != nil || got != LastWriteWins {
		t.Errorf("empty strategy = %v, %v; want last-write-wins, nil", got, err)
	}
	for _, s := range []string{"server-wins", "local-wins", "last-write-wins", "merge"} {
		if _, err := ParseStrategy(s); err != nil {
			t.Errorf("ParseStrategy(%q) errored: %v", s, err)
		}
	}
	if _, err := ParseStrategy("newest"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestResolveServerAndLocalWins(t *testing.T) {
	local, remote := conflictPair()

	got, err := Resolve(local, remote, ServerWins, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ContentID != "content-remote" || got.Notes != "remote notes" {
		t.Errorf("server-wins did not keep remote: %+v", got)
	}

	got, err = Resolve(local, remote, LocalWins, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ContentID != "content-local" || got.Notes != "local notes" {
		t.Errorf("local-wins did not keep local: %+v", got)
	}

	// Resolution returns a copy, never an aliased input.
	got.Scheduling["interval"] = 99
	if local.Scheduling["interval"] != 7 {
		t.Error("resolved card shares scheduling map with input")
	}
}

func TestResolveLastWriteWinsBothOrderings(t *testing.T) {
	local, remote := conflictPair()

	got, err := Resolve(local, remote, LastWriteWins, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Notes != "local notes" {
		t.Errorf("newer local lost: %+v", got)
	}

	// Flip the timestamps; the remote side must now win.
	local.UpdatedAt, remote.UpdatedAt = older, newer
	got, err = Resolve(local, remote, LastWriteWins, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Notes != "remote notes" {
		t.Errorf("newer remote lost: %+v", got)
	}

	// Ties go to the remote side.
	local.UpdatedAt = remote.UpdatedAt
	got, err = Resolve(local, remote, LastWriteWins, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Notes != "remote notes" {
		t.Errorf("tie did not favor remote: %+v", got)
	}
}

func TestMergeTakesNewerContent(t *testing.T) {
	local, remote := conflictPair()
	// Creation time always comes from the remote side, even when local
	// claims an earlier one.
	local.CreatedAt = older.Add(-24 * time.Hour)

	got, err := Resolve(local, remote, Merge, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ContentID != "content-local" || got.Notes != "local notes" {
		t.Errorf("merge did not take newer side's content: %+v", got)
	}
	// The scheduling blob comes wholesale from the newer side.
	if got.Scheduling["interval"] != 7 {
		t.Errorf("merge mixed scheduling payloads: %v", got.Scheduling)
	}
	if !got.CreatedAt.Equal(older) {
		t.Errorf("merge moved created_at: %v", got.CreatedAt)
	}
	if !got.UpdatedAt.Equal(rnow) {
		t.Errorf("merge updated_at = %v, want resolution time %v", got.UpdatedAt, rnow)
	}
}

func TestMergeSuspensionSticks(t *testing.T) {
	cases := []struct {
		local, remote, want bool
	}{
		{false, false, false},
		{true, false, true},
		{false, true, true},
		{true, true, true},
	}
	for _, tc := range cases {
		local, remote := conflictPair()
		local.Suspended = tc.local
		remote.Suspended = tc.remote
		got, err := Resolve(local, remote, Merge, rnow)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if got.Suspended != tc.want {
			t.Errorf("suspended(%v, %v) = %v, want %v", tc.local, tc.remote, got.Suspended, tc.want)
		}
	}
}

func TestMergeTagUnionCommutes(t *testing.T) {
	local, remote := conflictPair()

	ab, err := Resolve(local, remote, Merge, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Swap which side holds which tags; the resulting set must match.
	local2, remote2 := conflictPair()
	local2.Tags, remote2.Tags = remote.Tags, local.Tags
	ba, err := Resolve(local2, remote2, Merge, rnow)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !sameTagSet(ab.Tags, ba.Tags) {
		t.Errorf("tag union not commutative: %v vs %v", ab.Tags, ba.Tags)
	}

	want := map[string]bool{"a": true, "b": true, "c": true}
	got := make(map[string]bool)
	for _, tag := range ab.Tags {
		if got[tag] {
			t.Errorf("duplicate tag %q in union %v", tag, ab.Tags)
		}
		got[tag] = true
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tag union = %v, want a,b,c", ab.Tags)
	}
}

func sameTagSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int)
	for _, t := range a {
		set[t]++
	}
	for _, t := range b {
		set[t]--
	}
	for _, n := range set {
		if n != 0 {
			return false
		}
	}
	return true
}

func TestResolveRejectsMalformedInput(t *testing.T) {
	local, remote := conflictPair()

	if _, err := Resolve(nil, remote, Merge, rnow); !errors.Is(err, ErrConflictResolution) {
		t.Errorf("nil local: err = %v, want ErrConflictResolution", err)
	}
	if _, err := Resolve(local, nil, Merge, rnow); !errors.Is(err, ErrConflictResolution) {
		t.Errorf("nil remote: err = %v, want ErrConflictResolution", err)
	}

	remote.ID = "other"
	if _, err := Resolve(local, remote, Merge, rnow); !errors.Is(err, ErrConflictResolution) {
		t.Errorf("id mismatch: err = %v, want ErrConflictResolution", err)
	}

	remote.ID = local.ID
	if _, err := Resolve(local, remote, Strategy("bogus"), rnow); !errors.Is(err, ErrConflictResolution) {
		t.Errorf("unknown strategy: err = %v, want ErrConflictResolution", err)
	}
}

package syncer

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/dustinober1/studysync/internal/card"
	"github.com/dustinober1/studysync/internal/remote"
	"github.com/dustinober1/studysync/internal/store"
)

type fakeNet struct{ online bool }

func (f *fakeNet) IsConnected() bool { return f.online }

func setupEngine(t *testing.T) (*Engine, *store.Store, *remote.Memory) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	mem := remote.NewMemory()
	quiet := log.New(io.Discard, "", 0)
	eng := New(st, mem, &fakeNet{online: true}, quiet)
	eng.SetRetryInterval(0)
	return eng, st, mem
}

func pendingCard(t *testing.T, st *store.Store, id string, notes string) *card.Card {
	t.Helper()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &card.Card{
		ID:         id,
		UserID:     "u1",
		ContentID:  "content-" + id,
		Scheduling: map[string]any{"dueDate": "2026-03-05T10:00:00Z"},
		Notes:      notes,
		CreatedAt:  now,
		UpdatedAt:  now.Add(time.Hour),
	}
	if err := st.Update(ctx, c, card.StatusPending); err != nil {
		t.Fatalf("failed to stage pending card: %v", err)
	}
	if _, err := st.Enqueue(ctx, id, card.OpCreate, nil); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	return c
}

func TestDrainSkipsWhileOffline(t *testing.T) {
	eng, st, mem := setupEngine(t)
	eng.net = &fakeNet{online: false}
	pendingCard(t, st, "c1", "offline edit")

	res := eng.DrainQueue(context.Background(), LastWriteWins)
	if !res.Skipped {
		t.Error("expected drain to skip while offline")
	}
	if mem.PutCalls() != 0 {
		t.Errorf("offline drain made %d remote writes", mem.PutCalls())
	}
}

func TestDrainCreatesAbsentCard(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()
	pendingCard(t, st, "c1", "first edit")

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Skipped || res.Synced != 1 || res.Failed != 0 {
		t.Fatalf("drain result = %+v, want 1 synced", res)
	}

	got, err := mem.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("card not created remotely: %v", err)
	}
	if got.Notes != "first edit" {
		t.Errorf("remote notes = %q", got.Notes)
	}

	entry, err := st.Entry(ctx, "c1")
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry.Status != card.StatusSynced {
		t.Errorf("status after drain = %s, want synced", entry.Status)
	}
	depth, _ := st.QueueDepth(ctx)
	if depth != 0 {
		t.Errorf("queue depth after drain = %d, want 0", depth)
	}
}

func TestDrainResolvesConflictLastWriteWins(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()

	local := pendingCard(t, st, "c1", "newer local notes")

	stale := local.Clone()
	stale.Notes = "older remote notes"
	stale.UpdatedAt = local.UpdatedAt.Add(-time.Hour)
	if err := mem.Put(ctx, stale); err != nil {
		t.Fatalf("seeding remote failed: %v", err)
	}

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Synced != 1 {
		t.Fatalf("drain result = %+v, want 1 synced", res)
	}

	got, err := mem.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Notes != "newer local notes" {
		t.Errorf("remote notes = %q, want the newer local edit", got.Notes)
	}
}

func TestDrainPropagatesDelete(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()

	c := pendingCard(t, st, "c1", "to be deleted")
	if err := mem.Put(ctx, c); err != nil {
		t.Fatalf("seeding remote failed: %v", err)
	}

	// Local delete: entry gone, delete queued.
	if err := st.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := st.Enqueue(ctx, "c1", card.OpDelete, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Deleted != 1 || res.Failed != 0 {
		t.Fatalf("drain result = %+v, want 1 deleted", res)
	}
	if _, err := mem.Get(ctx, "c1"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("card survived remote delete: %v", err)
	}

	// A delete collapsed over earlier edits must win.
	depth, _ := st.QueueDepth(ctx)
	if depth != 0 {
		t.Errorf("queue depth after drain = %d, want 0", depth)
	}
}

func TestDrainDeleteCollapsesEarlierEdits(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()

	c := pendingCard(t, st, "c1", "edited then deleted")
	if _, err := st.Enqueue(ctx, "c1", card.OpUpdate, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := st.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := st.Enqueue(ctx, "c1", card.OpDelete, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := mem.Put(ctx, c); err != nil {
		t.Fatalf("seeding remote failed: %v", err)
	}

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Deleted != 1 || res.Synced != 0 {
		t.Fatalf("drain result = %+v, want only the delete", res)
	}
	if _, err := mem.Get(ctx, "c1"); !errors.Is(err, remote.ErrNotFound) {
		t.Error("delete did not win over earlier queued edits")
	}
}

func TestDrainLeavesFailuresPending(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()

	pendingCard(t, st, "c1", "will fail")
	mem.SetErr(errors.New("remote down"))

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Failed != 1 || res.Synced != 0 {
		t.Fatalf("drain result = %+v, want 1 failed", res)
	}

	depth, _ := st.QueueDepth(ctx)
	if depth != 1 {
		t.Errorf("failed item removed from queue: depth = %d", depth)
	}
	entry, err := st.Entry(ctx, "c1")
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if entry.Status != card.StatusPending {
		t.Errorf("failed card status = %s, want pending", entry.Status)
	}

	// Recovery: clear the failure and drain again.
	mem.SetErr(nil)
	res = eng.DrainQueue(ctx, LastWriteWins)
	if res.Synced != 1 || res.Failed != 0 {
		t.Fatalf("recovery drain result = %+v, want 1 synced", res)
	}
}

func TestDrainDefersRecentFailures(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()
	eng.SetRetryInterval(time.Hour)

	pendingCard(t, st, "c1", "flaky")
	mem.SetErr(errors.New("remote down"))

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Failed != 1 {
		t.Fatalf("drain result = %+v, want 1 failed", res)
	}

	// The remote recovered, but the card failed too recently to retry.
	mem.SetErr(nil)
	res = eng.DrainQueue(ctx, LastWriteWins)
	if res.Deferred != 1 || res.Synced != 0 {
		t.Fatalf("drain result = %+v, want 1 deferred", res)
	}

	eng.SetRetryInterval(0)
	res = eng.DrainQueue(ctx, LastWriteWins)
	if res.Synced != 1 {
		t.Fatalf("drain result = %+v, want 1 synced after back-off cleared", res)
	}
}

func TestDrainSweepsPendingEntriesWithoutQueueItems(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()

	// Pending entry with no queue item, as after an interrupted pass.
	c := pendingCard(t, st, "c1", "orphaned pending")
	if err := st.RemoveQueueItemsForCard(ctx, "c1"); err != nil {
		t.Fatalf("RemoveQueueItemsForCard failed: %v", err)
	}
	_ = c

	res := eng.DrainQueue(ctx, LastWriteWins)
	if res.Synced != 1 {
		t.Fatalf("drain result = %+v, want 1 synced", res)
	}
	if _, err := mem.Get(ctx, "c1"); err != nil {
		t.Errorf("swept entry never reached remote: %v", err)
	}
}

func TestDrainAtMostOnce(t *testing.T) {
	eng, st, mem := setupEngine(t)
	ctx := context.Background()

	pendingCard(t, st, "c1", "concurrent drain target")

	entered := make(chan struct{})
	release := make(chan struct{})
	var signaled bool
	mem.SetHook(func(op, id string) {
		if !signaled {
			signaled = true
			close(entered)
		}
		<-release
	})

	done := make(chan Result, 1)
	go func() {
		done <- eng.DrainQueue(ctx, LastWriteWins)
	}()

	// Wait until the first pass is inside a remote call, then try to start
	// a second pass. It must refuse.
	<-entered
	second := eng.DrainQueue(ctx, LastWriteWins)
	if !second.Skipped {
		t.Error("second concurrent drain was not skipped")
	}

	close(release)
	first := <-done
	if first.Synced != 1 {
		t.Fatalf("first drain result = %+v, want 1 synced", first)
	}
	if mem.PutCalls() != 1 {
		t.Errorf("remote Put called %d times, want exactly 1", mem.PutCalls())
	}
}

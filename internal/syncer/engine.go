// Package syncer reconciles pending local flashcard mutations with the
// remote document store.
//
// The engine is resilient: individual card failures are logged and left
// pending for a future pass, and at most one drain pass runs at a time. The
// sync queue in the local store is the durable work list, so a drain request
// that arrives mid-pass is dropped rather than queued; the next trigger
// (reconnect, explicit call) picks up whatever remains.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustinober1/studysync/internal/card"
	"github.com/dustinober1/studysync/internal/remote"
	"github.com/dustinober1/studysync/internal/store"
)

// Connectivity reports the current online state. The connectivity monitor
// satisfies this.
type Connectivity interface {
	IsConnected() bool
}

// Result summarizes one drain pass. Partial failure is expected and
// non-fatal; Failed counts cards left pending for a future pass.
type Result struct {
	// Skipped is true when the pass did not run (offline, or another pass
	// was already in flight).
	Skipped bool

	Synced   int
	Deleted  int
	Failed   int
	Deferred int // cards skipped because they failed too recently
	Duration time.Duration
}

// Engine drains the pending queue against the remote store.
type Engine struct {
	store  *store.Store
	remote remote.Store
	net    Connectivity
	logger *log.Logger

	draining atomic.Bool

	// retryAfter is the minimum interval before re-attempting a card that
	// failed, so repeated triggers don't turn into a tight retry loop.
	retryAfter time.Duration

	mu          sync.Mutex
	lastFailure map[string]time.Time
}

// New creates an Engine.
//
// If logger is nil, a default logger writing to stderr is used.
func New(st *store.Store, rs remote.Store, net Connectivity, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Engine{
		store:       st,
		remote:      rs,
		net:         net,
		logger:      logger,
		retryAfter:  5 * time.Second,
		lastFailure: make(map[string]time.Time),
	}
}

// SetRetryInterval overrides the minimum re-attempt interval for cards that
// failed in a previous pass. Zero disables the back-off.
func (e *Engine) SetRetryInterval(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryAfter = d
}

// DrainQueue runs one pass over all pending work.
//
// The pass is a no-op (Skipped) while offline or while another pass is in
// flight. Per-card failures are logged and the card stays pending; they
// never abort the pass.
func (e *Engine) DrainQueue(ctx context.Context, strategy Strategy) Result {
	if e.net != nil && !e.net.IsConnected() {
		return Result{Skipped: true}
	}
	if !e.draining.CompareAndSwap(false, true) {
		return Result{Skipped: true}
	}
	defer e.draining.Store(false)

	start := time.Now()
	var res Result

	items, err := e.store.PendingItems(ctx)
	if err != nil {
		e.logger.Printf("WARNING: failed to read sync queue: %v", err)
		res.Failed++
		res.Duration = time.Since(start)
		return res
	}

	// Queued mutations collapse per card: only the final operation kind
	// matters, because SyncOne pushes the card's current local state, not
	// the individual edits.
	type cardWork struct {
		items  []int64
		delete bool
	}
	order := make([]string, 0, len(items))
	work := make(map[string]*cardWork)
	for _, item := range items {
		w, ok := work[item.CardID]
		if !ok {
			w = &cardWork{}
			work[item.CardID] = w
			order = append(order, item.CardID)
		}
		w.items = append(w.items, item.LocalID)
		w.delete = item.Op == card.OpDelete
	}

	for _, id := range order {
		if !e.attemptAllowed(id) {
			res.Deferred++
			continue
		}
		w := work[id]
		if err := e.syncCard(ctx, id, w.delete, strategy, &res); err != nil {
			e.recordFailure(id)
			res.Failed++
			e.logger.Printf("WARNING: failed to sync card %s: %v (left pending)", id, err)
			continue
		}
		e.clearFailure(id)
		for _, localID := range w.items {
			if err := e.store.RemoveQueueItem(ctx, localID); err != nil {
				e.logger.Printf("WARNING: failed to remove queue item %d: %v", localID, err)
			}
		}
	}

	// Entries can be pending without a queue item (e.g. the item was
	// already consumed by an interrupted pass). Sweep them too.
	pending, err := e.store.PendingEntries(ctx)
	if err != nil {
		e.logger.Printf("WARNING: failed to read pending entries: %v", err)
		res.Failed++
	} else {
		for _, c := range pending {
			if _, handled := work[c.ID]; handled {
				continue
			}
			if !e.attemptAllowed(c.ID) {
				res.Deferred++
				continue
			}
			if err := e.SyncOne(ctx, c, strategy); err != nil {
				e.recordFailure(c.ID)
				res.Failed++
				e.logger.Printf("WARNING: failed to sync card %s: %v (left pending)", c.ID, err)
				continue
			}
			e.clearFailure(c.ID)
			if err := e.store.MarkSynced(ctx, c.ID); err != nil {
				e.logger.Printf("WARNING: failed to mark card %s synced: %v", c.ID, err)
			}
			res.Synced++
		}
	}

	res.Duration = time.Since(start)
	e.logger.Printf("Drain complete: synced=%d deleted=%d failed=%d deferred=%d in %v",
		res.Synced, res.Deleted, res.Failed, res.Deferred, res.Duration.Round(time.Millisecond))
	return res
}

// syncCard handles one card's collapsed queue work.
func (e *Engine) syncCard(ctx context.Context, id string, isDelete bool, strategy Strategy, res *Result) error {
	if isDelete {
		if err := e.remote.Delete(ctx, id); err != nil && !errors.Is(err, remote.ErrNotFound) {
			return err
		}
		// The local entry is normally gone already; clean up in case the
		// delete raced a refresh.
		if err := e.store.Delete(ctx, id); err != nil {
			e.logger.Printf("WARNING: failed to drop local entry %s: %v", id, err)
		}
		res.Deleted++
		return nil
	}

	local, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if local == nil {
		// Orphaned queue item; nothing left to push.
		return nil
	}
	if err := e.SyncOne(ctx, local, strategy); err != nil {
		return err
	}
	if err := e.store.MarkSynced(ctx, id); err != nil {
		e.logger.Printf("WARNING: failed to mark card %s synced: %v", id, err)
	}
	res.Synced++
	return nil
}

// SyncOne pushes one local card to the remote store, resolving against the
// remote version when one exists.
func (e *Engine) SyncOne(ctx context.Context, local *card.Card, strategy Strategy) error {
	current, err := e.remote.Get(ctx, local.ID)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		// Nothing to conflict with; create verbatim.
		if err := e.remote.Put(ctx, local); err != nil {
			return fmt.Errorf("create: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("fetch: %w", err)
	}

	resolved, err := Resolve(local, current, strategy, time.Now())
	if err != nil {
		// Malformed input is a programming error; surface it loudly
		// instead of retrying forever.
		return err
	}
	resolved.UpdatedAt = time.Now()

	if err := e.remote.Put(ctx, resolved); err != nil {
		return fmt.Errorf("write resolved: %w", err)
	}
	return nil
}

func (e *Engine) attemptAllowed(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryAfter <= 0 {
		return true
	}
	last, ok := e.lastFailure[id]
	return !ok || time.Since(last) >= e.retryAfter
}

func (e *Engine) recordFailure(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFailure[id] = time.Now()
}

func (e *Engine) clearFailure(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastFailure, id)
}

// Package deck is the offline-aware entry point for flashcard access.
//
// Callers never touch the local store or the remote document store
// directly. Reads prefer the cache and refresh from the remote store when
// online; writes land in the cache first (optimistic) and then attempt
// immediate remote propagation, falling back to the pending queue when the
// attempt fails or the device is offline.
//
// The service is constructed explicitly at the composition root and passed
// by reference to anything needing cache or sync access; there are no
// package-level instances.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/dustinober1/studysync/internal/card"
	"github.com/dustinober1/studysync/internal/remote"
	"github.com/dustinober1/studysync/internal/store"
	"github.com/dustinober1/studysync/internal/syncer"
)

// ErrUnauthenticated reports a user-scoped operation invoked with no user
// id available. It is returned before any I/O is attempted.
var ErrUnauthenticated = errors.New("deck: no authenticated user")

// Identity supplies the current caller's user id. The id is opaque here;
// an empty string means "not signed in".
type Identity interface {
	CurrentUserID() string
}

// StaticIdentity is an Identity with a fixed user id (CLI, tests).
type StaticIdentity string

// CurrentUserID implements Identity.
func (s StaticIdentity) CurrentUserID() string { return string(s) }

// Connectivity reports the current online state.
type Connectivity interface {
	IsConnected() bool
}

// Drainer runs background drain passes. The sync engine satisfies this.
type Drainer interface {
	DrainQueue(ctx context.Context, strategy syncer.Strategy) syncer.Result
}

// Service is the offline-aware access facade.
type Service struct {
	store    *store.Store
	remote   remote.Store
	net      Connectivity
	engine   Drainer
	identity Identity
	logger   *log.Logger

	// strategy used for the fire-and-forget drains spawned from reads.
	strategy syncer.Strategy
}

// Config wires the service's collaborators. Store, Remote, Net, Engine and
// Identity are required; Logger defaults to stderr and Strategy to
// last-write-wins.
type Config struct {
	Store    *store.Store
	Remote   remote.Store
	Net      Connectivity
	Engine   Drainer
	Identity Identity
	Logger   *log.Logger
	Strategy syncer.Strategy
}

// New creates the facade.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Remote == nil || cfg.Net == nil || cfg.Engine == nil || cfg.Identity == nil {
		return nil, fmt.Errorf("deck: store, remote, net, engine and identity are all required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[deck] ", log.LstdFlags)
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = syncer.LastWriteWins
	}
	return &Service{
		store:    cfg.Store,
		remote:   cfg.Remote,
		net:      cfg.Net,
		engine:   cfg.Engine,
		identity: cfg.Identity,
		logger:   logger,
		strategy: strategy,
	}, nil
}

func (s *Service) userID() (string, error) {
	uid := s.identity.CurrentUserID()
	if uid == "" {
		return "", ErrUnauthenticated
	}
	return uid, nil
}

// backgroundDrain spawns a best-effort drain pass. It deliberately uses a
// fresh context: the caller's request may complete long before the pass
// does. Concurrent spawns collapse inside the engine.
func (s *Service) backgroundDrain() {
	go s.engine.DrainQueue(context.Background(), s.strategy)
}

// UserCards returns the caller's flashcards.
//
// When online the remote set is fetched, the cache is overwritten with it,
// and a background drain is triggered; the fresh remote data is returned.
// When offline, or when the fetch fails, the cached set is returned as-is.
func (s *Service) UserCards(ctx context.Context) ([]*card.Card, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}

	cached, err := s.store.AllForUser(ctx, uid)
	if err != nil {
		return nil, err
	}

	if !s.net.IsConnected() {
		return cached, nil
	}

	fresh, err := s.remote.QueryByUser(ctx, uid)
	if err != nil {
		s.logger.Printf("Remote fetch failed, serving cache: %v", err)
		return cached, nil
	}

	if err := s.store.CacheMany(ctx, fresh); err != nil {
		s.logger.Printf("WARNING: failed to refresh cache: %v", err)
	}
	s.backgroundDrain()
	return fresh, nil
}

// GetCard returns one flashcard, or nil when it exists neither locally nor
// (if online) remotely.
func (s *Service) GetCard(ctx context.Context, id string) (*card.Card, error) {
	if _, err := s.userID(); err != nil {
		return nil, err
	}

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c != nil || !s.net.IsConnected() {
		return c, nil
	}

	fetched, err := s.remote.Get(ctx, id)
	if errors.Is(err, remote.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Printf("Remote fetch failed for %s: %v", id, err)
		return nil, nil
	}
	if err := s.store.CacheOne(ctx, fetched); err != nil {
		s.logger.Printf("WARNING: failed to cache card %s: %v", id, err)
	}
	return fetched, nil
}

// DueCards returns the caller's cards due at or before now, from cache.
func (s *Service) DueCards(ctx context.Context, now time.Time) ([]*card.Card, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return s.store.Due(ctx, uid, now)
}

// CardsByDomain returns the caller's cards for one exam domain, from cache.
func (s *Service) CardsByDomain(ctx context.Context, domainID string) ([]*card.Card, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return s.store.ByDomain(ctx, uid, domainID)
}

// CardsByTask returns the caller's cards for one exam task, from cache.
func (s *Service) CardsByTask(ctx context.Context, taskID string) ([]*card.Card, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	return s.store.ByTask(ctx, uid, taskID)
}

// CreateCard records a new flashcard.
//
// The card lands in the cache as pending immediately; when online a remote
// create is attempted within the call and, on success, the entry flips to
// synced. A remote failure is not surfaced: the optimistic local write
// already succeeded and the card stays queued.
func (s *Service) CreateCard(ctx context.Context, c *card.Card) (*card.Card, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	c = c.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.UserID = uid
	c.CreatedAt = now
	c.UpdatedAt = now

	qid, err := s.writePending(ctx, c, card.OpCreate)
	if err != nil {
		return nil, err
	}

	if s.net.IsConnected() {
		if err := s.remote.Put(ctx, c); err != nil {
			s.logger.Printf("Remote create failed for %s, left pending: %v", c.ID, err)
		} else {
			s.confirm(ctx, c.ID, qid)
		}
	}
	return c, nil
}

// UpdateCard applies a local edit.
//
// The full edited card is cached as pending; when online a partial remote
// update is attempted within the call. An absent remote document is left
// for the drain pass, which will create it.
func (s *Service) UpdateCard(ctx context.Context, c *card.Card) error {
	uid, err := s.userID()
	if err != nil {
		return err
	}

	c = c.Clone()
	c.UserID = uid
	c.UpdatedAt = time.Now()

	qid, err := s.writePending(ctx, c, card.OpUpdate)
	if err != nil {
		return err
	}

	if s.net.IsConnected() {
		fields, ferr := c.Fields()
		if ferr != nil {
			s.logger.Printf("WARNING: %v", ferr)
			return nil
		}
		if err := s.remote.Update(ctx, c.ID, fields); err != nil {
			s.logger.Printf("Remote update failed for %s, left pending: %v", c.ID, err)
		} else {
			s.confirm(ctx, c.ID, qid)
		}
	}
	return nil
}

// DeleteCard removes a flashcard locally and, when online, remotely.
// An unreachable remote leaves the delete queued for the next drain pass.
func (s *Service) DeleteCard(ctx context.Context, id string) error {
	if _, err := s.userID(); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	qid, err := s.store.Enqueue(ctx, id, card.OpDelete, nil)
	if err != nil {
		return err
	}

	if s.net.IsConnected() {
		if err := s.remote.Delete(ctx, id); err != nil && !errors.Is(err, remote.ErrNotFound) {
			s.logger.Printf("Remote delete failed for %s, left pending: %v", id, err)
		} else {
			if err := s.store.RemoveQueueItem(ctx, qid); err != nil {
				s.logger.Printf("WARNING: failed to remove queue item %d: %v", qid, err)
			}
		}
	}
	return nil
}

// BatchCreateCards records several new flashcards as one logical batch.
//
// The whole batch is cached pending, then (online) committed with a single
// atomic remote write. Only on success of that one write does the batch
// flip to synced; any failure leaves the entire batch pending so no
// partial-sync state exists within the batch.
func (s *Service) BatchCreateCards(ctx context.Context, cards []*card.Card) ([]*card.Card, error) {
	return s.batchWrite(ctx, cards, card.OpCreate)
}

// BatchUpdateCards applies several local edits as one logical batch, with
// the same all-or-nothing confirmation as BatchCreateCards.
func (s *Service) BatchUpdateCards(ctx context.Context, cards []*card.Card) error {
	_, err := s.batchWrite(ctx, cards, card.OpUpdate)
	return err
}

func (s *Service) batchWrite(ctx context.Context, cards []*card.Card, op card.Operation) ([]*card.Card, error) {
	uid, err := s.userID()
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, nil
	}

	now := time.Now()
	out := make([]*card.Card, len(cards))
	for i, c := range cards {
		c = c.Clone()
		if op == card.OpCreate {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.CreatedAt = now
		}
		c.UserID = uid
		c.UpdatedAt = now
		out[i] = c
	}

	if err := s.store.UpdateMany(ctx, out, card.StatusPending); err != nil {
		return nil, err
	}

	qids := make([]int64, len(out))
	for i, c := range out {
		fields, ferr := c.Fields()
		if ferr != nil {
			return nil, ferr
		}
		qid, err := s.store.Enqueue(ctx, c.ID, op, fields)
		if err != nil {
			return nil, err
		}
		qids[i] = qid
	}

	if s.net.IsConnected() {
		if err := s.remote.BatchPut(ctx, out); err != nil {
			s.logger.Printf("Remote batch write failed, whole batch left pending: %v", err)
		} else {
			for i, c := range out {
				s.confirm(ctx, c.ID, qids[i])
			}
		}
	}
	return out, nil
}

// PendingCount reports how many cache entries still await confirmation.
// Applications surface it as a "pending changes" indicator.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// Wipe clears the local cache and queue (logout/reset).
func (s *Service) Wipe(ctx context.Context) error {
	return s.store.Wipe(ctx)
}

// writePending caches the card as pending and records the mutation in the
// queue. Returns the queue item's local id.
func (s *Service) writePending(ctx context.Context, c *card.Card, op card.Operation) (int64, error) {
	if err := s.store.Update(ctx, c, card.StatusPending); err != nil {
		return 0, err
	}
	fields, err := c.Fields()
	if err != nil {
		return 0, err
	}
	return s.store.Enqueue(ctx, c.ID, op, fields)
}

// confirm marks the card synced and retires its queue item after a
// successful in-call remote write.
func (s *Service) confirm(ctx context.Context, id string, qid int64) {
	if err := s.store.MarkSynced(ctx, id); err != nil {
		s.logger.Printf("WARNING: failed to mark card %s synced: %v", id, err)
	}
	if err := s.store.RemoveQueueItem(ctx, qid); err != nil {
		s.logger.Printf("WARNING: failed to remove queue item %d: %v", qid, err)
	}
}

// Package store provides the local durable cache for flashcards.
//
// The store is an embedded SQLite database holding two tables:
//   - flashcards: cached cards wrapped with sync bookkeeping (cache entries)
//   - sync_queue: append-only queue of not-yet-confirmed local mutations
//
// The database runs in WAL mode so reads stay concurrent with writes. Each
// exported operation is atomic with respect to concurrent calls from the
// same process; multi-row paths run inside a transaction.
//
// Structural changes are gated on PRAGMA user_version so the on-device
// layout can be migrated forward across releases.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/dustinober1/studysync/internal/card"
)

// schemaVersion is the current on-device layout version (PRAGMA user_version).
const schemaVersion = 1

var (
	// ErrStorageUnavailable reports that the device database could not be
	// opened or reached.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTransactionFailed reports a write that failed mid-transaction;
	// the operation is not applied.
	ErrTransactionFailed = errors.New("transaction failed")
)

// Store wraps the embedded SQLite connection.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the local database at the given path.
//
// The caller MUST call Close when done. InitSchema must be called once
// before any card or queue operation.
//
// Example:
//
//	st, err := store.Open(".studysync/cards.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//	if err := st.InitSchema(ctx); err != nil {
//	    return err
//	}
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrStorageUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, pragma, err)
		}
	}

	return st, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates or migrates the on-device layout. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("%w: failed to read schema version: %v", ErrStorageUnavailable, err)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: database version %d is newer than supported %d", ErrStorageUnavailable, version, schemaVersion)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS flashcards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		domain_id TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL DEFAULT '',
		scheduling TEXT NOT NULL DEFAULT '{}',  -- opaque JSON payload
		suspended INTEGER NOT NULL DEFAULT 0,
		tags TEXT,  -- JSON array
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		-- Local sync bookkeeping
		sync_status TEXT NOT NULL DEFAULT 'synced',
		last_synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		card_id TEXT NOT NULL,
		op TEXT NOT NULL,  -- create, update, delete
		payload TEXT,      -- JSON object
		queued_at TEXT NOT NULL
	);

	-- Indexes for the equality and range queries the facade issues
	CREATE INDEX IF NOT EXISTS idx_cards_user ON flashcards(user_id);
	CREATE INDEX IF NOT EXISTS idx_cards_status ON flashcards(sync_status);
	CREATE INDEX IF NOT EXISTS idx_cards_domain ON flashcards(user_id, domain_id);
	CREATE INDEX IF NOT EXISTS idx_cards_task ON flashcards(user_id, task_id);
	CREATE INDEX IF NOT EXISTS idx_cards_due
	    ON flashcards(user_id, json_extract(scheduling, '$.dueDate'));

	CREATE INDEX IF NOT EXISTS idx_queue_card ON sync_queue(card_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}

	return nil
}

const upsertSQL = `
INSERT INTO flashcards (
	id, user_id, content_id, domain_id, task_id,
	scheduling, suspended, tags, notes,
	created_at, updated_at, sync_status, last_synced_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id = excluded.user_id,
	content_id = excluded.content_id,
	domain_id = excluded.domain_id,
	task_id = excluded.task_id,
	scheduling = excluded.scheduling,
	suspended = excluded.suspended,
	tags = excluded.tags,
	notes = excluded.notes,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	sync_status = excluded.sync_status,
	last_synced_at = excluded.last_synced_at
`

// upsertArgs serializes a card into the upsert parameter list.
func upsertArgs(c *card.Card, status card.SyncStatus, lastSynced *time.Time) ([]any, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid card: %w", err)
	}

	scheduling := c.Scheduling
	if scheduling == nil {
		scheduling = map[string]any{}
	}
	schedJSON, err := json.Marshal(scheduling)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scheduling: %w", err)
	}
	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	return []any{
		c.ID,
		c.UserID,
		c.ContentID,
		c.DomainID,
		c.TaskID,
		string(schedJSON),
		boolToInt(c.Suspended),
		string(tagsJSON),
		c.Notes,
		c.CreatedAt.Format(time.RFC3339Nano),
		c.UpdatedAt.Format(time.RFC3339Nano),
		string(status),
		timeToNullString(lastSynced),
	}, nil
}

// CacheOne upserts a card with status synced, stamped now.
// Any existing entry for the same id is overwritten.
func (s *Store) CacheOne(ctx context.Context, c *card.Card) error {
	now := time.Now()
	args, err := upsertArgs(c, card.StatusSynced, &now)
	if err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("failed to cache card %s: %w", c.ID, err)
	}
	return nil
}

// CacheMany upserts a batch of cards with status synced inside one
// transaction so readers never observe a partially refreshed set.
func (s *Store) CacheMany(ctx context.Context, cards []*card.Card) error {
	return s.upsertMany(ctx, cards, card.StatusSynced)
}

// UpdateMany upserts a batch with caller-supplied status in one transaction.
// The facade uses this for optimistic batch writes.
func (s *Store) UpdateMany(ctx context.Context, cards []*card.Card, status card.SyncStatus) error {
	return s.upsertMany(ctx, cards, status)
}

func (s *Store) upsertMany(ctx context.Context, cards []*card.Card, status card.SyncStatus) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", ErrTransactionFailed, err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range cards {
		var synced *time.Time
		if status == card.StatusSynced {
			synced = &now
		}
		args, err := upsertArgs(c, status, synced)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("%w: upsert card %s: %v", ErrTransactionFailed, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}
	return nil
}

// Update upserts a single card with the caller-supplied status.
// Local edits pass card.StatusPending.
func (s *Store) Update(ctx context.Context, c *card.Card, status card.SyncStatus) error {
	var synced *time.Time
	if status == card.StatusSynced {
		now := time.Now()
		synced = &now
	}
	args, err := upsertArgs(c, status, synced)
	if err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("failed to update card %s: %w", c.ID, err)
	}
	return nil
}

const selectCols = `
	id, user_id, content_id, domain_id, task_id,
	scheduling, suspended, tags, notes,
	created_at, updated_at, sync_status, last_synced_at
`

// Get returns the cached card, or nil if no entry exists.
func (s *Store) Get(ctx context.Context, id string) (*card.Card, error) {
	e, err := s.Entry(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}
	return e.Card, nil
}

// Entry returns the full cache entry including sync bookkeeping, or nil if
// no entry exists.
func (s *Store) Entry(ctx context.Context, id string) (*card.Entry, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT"+selectCols+"FROM flashcards WHERE id = ?", id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %s: %w", id, err)
	}
	return e, nil
}

// AllForUser returns every cached card owned by the user.
func (s *Store) AllForUser(ctx context.Context, userID string) ([]*card.Card, error) {
	return s.queryCards(ctx,
		"SELECT"+selectCols+"FROM flashcards WHERE user_id = ?", userID)
}

// Due returns the user's cards whose scheduling due time is at or before
// now. Ordering is unspecified; callers re-sort if they need one.
//
// The due timestamp is read with json_extract so the scheduling payload
// itself stays opaque. RFC 3339 strings compare correctly as text.
func (s *Store) Due(ctx context.Context, userID string, now time.Time) ([]*card.Card, error) {
	return s.queryCards(ctx,
		"SELECT"+selectCols+`FROM flashcards
		 WHERE user_id = ?
		   AND json_extract(scheduling, '$.dueDate') <= ?`,
		userID, now.UTC().Format(time.RFC3339))
}

// ByDomain returns the user's cards classified under the given domain.
func (s *Store) ByDomain(ctx context.Context, userID, domainID string) ([]*card.Card, error) {
	return s.queryCards(ctx,
		"SELECT"+selectCols+"FROM flashcards WHERE user_id = ? AND domain_id = ?",
		userID, domainID)
}

// ByTask returns the user's cards classified under the given task.
func (s *Store) ByTask(ctx context.Context, userID, taskID string) ([]*card.Card, error) {
	return s.queryCards(ctx,
		"SELECT"+selectCols+"FROM flashcards WHERE user_id = ? AND task_id = ?",
		userID, taskID)
}

// PendingEntries returns every cached card whose status is pending.
func (s *Store) PendingEntries(ctx context.Context) ([]*card.Card, error) {
	return s.queryCards(ctx,
		"SELECT"+selectCols+"FROM flashcards WHERE sync_status = ?",
		string(card.StatusPending))
}

// CountPending returns the number of pending cache entries.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM flashcards WHERE sync_status = ?",
		string(card.StatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending cards: %w", err)
	}
	return n, nil
}

// CountCards returns the total number of cached cards.
func (s *Store) CountCards(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM flashcards").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// MarkSynced flips the entry to synced and stamps last_synced_at.
// No-op if the entry is absent; calling it twice is harmless.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE flashcards SET sync_status = ?, last_synced_at = ? WHERE id = ?",
		string(card.StatusSynced), time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to mark card %s synced: %w", id, err)
	}
	return nil
}

// Delete removes the cache entry. Returns nil if the entry is absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM flashcards WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	return nil
}

// Wipe clears both the entry store and the queue (logout/reset).
func (s *Store) Wipe(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM flashcards"); err != nil {
		return fmt.Errorf("%w: wipe flashcards: %v", ErrTransactionFailed, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("%w: wipe sync_queue: %v", ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTransactionFailed, err)
	}
	return nil
}

func (s *Store) queryCards(ctx context.Context, query string, args ...any) ([]*card.Card, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []*card.Card
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, e.Card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}
	return cards, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*card.Entry, error) {
	var (
		c            card.Card
		schedJSON    string
		suspended    int
		tagsJSON     sql.NullString
		createdAt    string
		updatedAt    string
		status       string
		lastSyncedAt sql.NullString
	)

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ContentID,
		&c.DomainID,
		&c.TaskID,
		&schedJSON,
		&suspended,
		&tagsJSON,
		&c.Notes,
		&createdAt,
		&updatedAt,
		&status,
		&lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(schedJSON), &c.Scheduling); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scheduling: %w", err)
	}
	c.Suspended = suspended != 0

	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		c.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		c.UpdatedAt = t
	}

	return &card.Entry{
		Card:         &c,
		Status:       card.SyncStatus(status),
		LastSyncedAt: nullStringToTime(lastSyncedAt),
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

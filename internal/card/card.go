// Package card defines the flashcard data model shared by the local store,
// the sync engine, and the remote document store client.
package card

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus tracks whether a locally cached card has been confirmed
// against the remote store.
type SyncStatus string

const (
	// StatusSynced means the remote store holds this version of the card.
	StatusSynced SyncStatus = "synced"

	// StatusPending means the card carries local edits that have not yet
	// been confirmed remotely.
	StatusPending SyncStatus = "pending"
)

// Operation is the kind of local mutation recorded in the sync queue.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Card is the unit of record: one flashcard owned by one user.
//
// Scheduling is the spaced-repetition state (ease factor, interval,
// repetition count, due timestamp, ...). It is opaque to this module and is
// only ever carried and merged wholesale; the single key the store is
// allowed to look at is "dueDate" (RFC 3339 string), used for due queries.
type Card struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// ContentID references the source content the card was generated from.
	ContentID string `json:"content_id"`

	// DomainID and TaskID classify the card within the exam outline.
	DomainID string `json:"domain_id,omitempty"`
	TaskID   string `json:"task_id,omitempty"`

	Scheduling map[string]any `json:"scheduling"`
	Suspended  bool           `json:"suspended"`
	Tags       []string       `json:"tags,omitempty"`
	Notes      string         `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariant fields required before a card may be cached
// or pushed remotely.
func (c *Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.ContentID == "" {
		return fmt.Errorf("content_id is required")
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if c.UpdatedAt.Before(c.CreatedAt) {
		return fmt.Errorf("updated_at precedes created_at")
	}
	return nil
}

// DueAt returns the due timestamp from the scheduling payload, or the zero
// time if the payload does not carry a parseable "dueDate".
func (c *Card) DueAt() time.Time {
	raw, ok := c.Scheduling["dueDate"].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Clone returns a deep copy. The store and the in-memory remote hand out
// clones so callers can never alias cached state.
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Scheduling != nil {
		dup.Scheduling = make(map[string]any, len(c.Scheduling))
		for k, v := range c.Scheduling {
			dup.Scheduling[k] = v
		}
	}
	if c.Tags != nil {
		dup.Tags = append([]string(nil), c.Tags...)
	}
	return &dup
}

// Fields flattens the card into the key/value form used for queue payloads
// and partial remote updates.
func (c *Card) Fields() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten card: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten card: %w", err)
	}
	return fields, nil
}

// Entry wraps a cached card with the local sync bookkeeping.
type Entry struct {
	Card         *Card
	Status       SyncStatus
	LastSyncedAt *time.Time // set only while Status is StatusSynced
}

// QueueItem is one not-yet-confirmed local mutation awaiting remote
// propagation. Items are drained in LocalID (FIFO) order.
type QueueItem struct {
	LocalID  int64          `json:"local_id"`
	CardID   string         `json:"card_id"`
	Op       Operation      `json:"op"`
	Payload  map[string]any `json:"payload,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

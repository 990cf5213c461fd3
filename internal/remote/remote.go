// Package remote defines the remote document store collaborator.
//
// The rest of the module only depends on the Store interface; the flashcard
// collection lives wherever the deployment points it. Two implementations
// ship here: an HTTP JSON client for the hosted document API, and a
// goroutine-safe in-memory store used by tests and the load exercise.
package remote

import (
	"context"
	"errors"

	"github.com/dustinober1/studysync/internal/card"
)

var (
	// ErrNotFound reports that no document exists for the requested id.
	ErrNotFound = errors.New("remote: document not found")

	// ErrUnavailable wraps transport and server failures. Callers treat it
	// as "try again next pass", never as data loss.
	ErrUnavailable = errors.New("remote: store unavailable")
)

// Store is the remote flashcard document store.
//
// Put is a full idempotent upsert; the sync layer relies on that for its
// at-least-once retry semantics. Update is a partial merge and fails with
// ErrNotFound when the document is absent. BatchPut is an atomic
// multi-document commit: either every card lands or none do.
//
// Timestamps cross this boundary as RFC 3339 JSON strings and are converted
// to time.Time by the implementations.
type Store interface {
	// Get fetches one document by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*card.Card, error)

	// Put upserts the full document.
	Put(ctx context.Context, c *card.Card) error

	// Update merges partial fields into an existing document.
	// Returns ErrNotFound when the document does not exist.
	Update(ctx context.Context, id string, fields map[string]any) error

	// Delete removes the document. Deleting an absent document is not an
	// error (idempotent).
	Delete(ctx context.Context, id string) error

	// QueryByUser returns every document owned by the user.
	QueryByUser(ctx context.Context, userID string) ([]*card.Card, error)

	// BatchPut commits the cards as one all-or-nothing write.
	BatchPut(ctx context.Context, cards []*card.Card) error
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustinober1/studysync/internal/card"
)

// Enqueue appends a pending sync item with a fresh local id and the current
// timestamp, and returns the local id.
func (s *Store) Enqueue(ctx context.Context, cardID string, op card.Operation, payload map[string]any) (int64, error) {
	var payloadJSON sql.NullString
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal queue payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO sync_queue (card_id, op, payload, queued_at) VALUES (?, ?, ?, ?)",
		cardID, string(op), payloadJSON, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s for card %s: %w", op, cardID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue id: %w", err)
	}
	return id, nil
}

// PendingItems returns the full queue in FIFO order.
func (s *Store) PendingItems(ctx context.Context) ([]*card.QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, card_id, op, payload, queued_at FROM sync_queue ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	defer rows.Close()

	var items []*card.QueueItem
	for rows.Next() {
		var (
			item        card.QueueItem
			op          string
			payloadJSON sql.NullString
			queuedAt    string
		)
		if err := rows.Scan(&item.LocalID, &item.CardID, &op, &payloadJSON, &queuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Op = card.Operation(op)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &item.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal queue payload: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
			item.QueuedAt = t
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return items, nil
}

// RemoveQueueItem deletes one item by local id. Idempotent.
func (s *Store) RemoveQueueItem(ctx context.Context, localID int64) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", localID); err != nil {
		return fmt.Errorf("failed to remove queue item %d: %w", localID, err)
	}
	return nil
}

// RemoveQueueItemsForCard deletes every queued item targeting the card.
// The sync engine calls this after confirming the card remotely.
func (s *Store) RemoveQueueItemsForCard(ctx context.Context, cardID string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE card_id = ?", cardID); err != nil {
		return fmt.Errorf("failed to remove queue items for card %s: %w", cardID, err)
	}
	return nil
}

// ClearQueue deletes every queued item.
func (s *Store) ClearQueue(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue"); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

// QueueDepth returns the number of queued items.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}

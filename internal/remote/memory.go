package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dustinober1/studysync/internal/card"
)

// Memory is a goroutine-safe in-memory Store.
//
// It backs the package tests and the sync load exercise. Failures can be
// injected per call class, and write invocations are counted so tests can
// verify at-most-one-drain behavior.
type Memory struct {
	mu   sync.Mutex
	docs map[string]*card.Card

	err      error // injected failure for every op
	batchErr error // injected failure for BatchPut only

	putCalls   int
	batchCalls int

	hook func(op, id string) // invoked at the start of each op, lock not held
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]*card.Card)}
}

// SetErr makes every subsequent operation fail with err (nil to clear).
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetBatchErr makes subsequent BatchPut calls fail with err (nil to clear).
func (m *Memory) SetBatchErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

// SetHook installs a callback invoked at the start of every operation.
// Tests use it to block or observe in-flight calls.
func (m *Memory) SetHook(hook func(op, id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// PutCalls returns how many Put invocations have been made.
func (m *Memory) PutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putCalls
}

// BatchCalls returns how many BatchPut invocations have been made.
func (m *Memory) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (m *Memory) enter(op, id string) (func(), error) {
	m.mu.Lock()
	hook := m.hook
	err := m.err
	m.mu.Unlock()

	if hook != nil {
		hook(op, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.Lock()
	return m.mu.Unlock, nil
}

// Get implements Store.Get.
func (m *Memory) Get(ctx context.Context, id string) (*card.Card, error) {
	unlock, err := m.enter("get", id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Put implements Store.Put.
func (m *Memory) Put(ctx context.Context, c *card.Card) error {
	unlock, err := m.enter("put", c.ID)
	if err != nil {
		m.mu.Lock()
		m.putCalls++
		m.mu.Unlock()
		return err
	}
	defer unlock()

	m.putCalls++
	m.docs[c.ID] = c.Clone()
	return nil
}

// Update implements Store.Update.
func (m *Memory) Update(ctx context.Context, id string, fields map[string]any) error {
	unlock, err := m.enter("update", id)
	if err != nil {
		return err
	}
	defer unlock()

	existing, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}

	// Merge fields through JSON, mirroring a server-side partial update.
	raw, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("%w: merge: %v", ErrUnavailable, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: merge: %v", ErrUnavailable, err)
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: merge: %v", ErrUnavailable, err)
	}
	var updated card.Card
	if err := json.Unmarshal(merged, &updated); err != nil {
		return fmt.Errorf("%w: merge: %v", ErrUnavailable, err)
	}
	m.docs[id] = &updated
	return nil
}

// Delete implements Store.Delete. Idempotent.
func (m *Memory) Delete(ctx context.Context, id string) error {
	unlock, err := m.enter("delete", id)
	if err != nil {
		return err
	}
	defer unlock()

	delete(m.docs, id)
	return nil
}

// QueryByUser implements Store.QueryByUser.
func (m *Memory) QueryByUser(ctx context.Context, userID string) ([]*card.Card, error) {
	unlock, err := m.enter("query", userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out []*card.Card
	for _, c := range m.docs {
		if c.UserID == userID {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// BatchPut implements Store.BatchPut. All-or-nothing: an injected batch
// failure leaves the store untouched.
func (m *Memory) BatchPut(ctx context.Context, cards []*card.Card) error {
	unlock, err := m.enter("batch", "")
	if err != nil {
		m.mu.Lock()
		m.batchCalls++
		m.mu.Unlock()
		return err
	}
	defer unlock()

	m.batchCalls++
	if m.batchErr != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, m.batchErr)
	}
	for _, c := range cards {
		m.docs[c.ID] = c.Clone()
	}
	return nil
}

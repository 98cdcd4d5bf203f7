package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
)

// MemoryQueue is a non-durable OutboxQueue. Queued actions are lost when the
// process exits.
type MemoryQueue struct {
	entries []*memoryEntry
	byID    map[string]*memoryEntry
	nextSeq int64
	mu      sync.Mutex
}

type memoryEntry struct {
	entry service.OutboxEntry
	sent  bool
	dead  bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byID: make(map[string]*memoryEntry)}
}

// Enqueue implements service.OutboxQueue.
func (q *MemoryQueue) Enqueue(_ context.Context, action model.Action) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[action.ID]; exists {
		return nil
	}
	q.nextSeq++
	e := &memoryEntry{entry: service.OutboxEntry{
		Seq:        q.nextSeq,
		EnqueuedAt: time.Now(),
		Action:     action,
	}}
	q.entries = append(q.entries, e)
	q.byID[action.ID] = e
	return nil
}

// Pending implements service.OutboxQueue.
func (q *MemoryQueue) Pending(_ context.Context, limit int) ([]service.OutboxEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]service.OutboxEntry, 0, limit)
	for _, e := range q.entries {
		if e.sent || e.dead {
			continue
		}
		out = append(out, e.entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// PendingCount implements service.OutboxQueue.
func (q *MemoryQueue) PendingCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, e := range q.entries {
		if !e.sent && !e.dead {
			count++
		}
	}
	return count, nil
}

// MarkSent implements service.OutboxQueue.
func (q *MemoryQueue) MarkSent(_ context.Context, actionID string) error {
	return q.update(actionID, func(e *memoryEntry) { e.sent = true })
}

// MarkFailed implements service.OutboxQueue.
func (q *MemoryQueue) MarkFailed(_ context.Context, actionID string, cause error) error {
	return q.update(actionID, func(e *memoryEntry) {
		e.entry.Attempts++
		if cause != nil {
			e.entry.LastError = cause.Error()
		}
	})
}

// MarkDead implements DeadLetterer.
func (q *MemoryQueue) MarkDead(_ context.Context, actionID string, cause error) error {
	return q.update(actionID, func(e *memoryEntry) {
		e.dead = true
		if cause != nil {
			e.entry.LastError = cause.Error()
		}
	})
}

func (q *MemoryQueue) update(actionID string, fn func(*memoryEntry)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[actionID]
	if !ok {
		return fmt.Errorf("action %s: %w", actionID, common.ErrNotFound)
	}
	fn(e)
	return nil
}

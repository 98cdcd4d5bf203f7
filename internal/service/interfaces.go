// Package service defines the contracts shared between the circulation core
// and its collaborators.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/circdesk/internal/model"
)

// Gateway is the remote persistence boundary. It has no transactions; a nil
// error from SendAction means the transport accepted the action, nothing more.
type Gateway interface {
	LoadAll(ctx context.Context) (*model.Snapshot, error)
	SendAction(ctx context.Context, action model.Action) error
}

// Sink receives mirrored mutations from the domain store. Submit must not
// block on the network.
type Sink interface {
	Submit(ctx context.Context, action model.Action) error
}

// OutboxEntry is a queued action plus its delivery bookkeeping.
type OutboxEntry struct {
	EnqueuedAt time.Time
	LastError  string
	Action     model.Action
	Seq        int64
	Attempts   int
}

// OutboxQueue is the durable queue behind the outbox dispatcher.
type OutboxQueue interface {
	Enqueue(ctx context.Context, action model.Action) error
	Pending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkSent(ctx context.Context, actionID string) error
	MarkFailed(ctx context.Context, actionID string, cause error) error
	PendingCount(ctx context.Context) (int, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

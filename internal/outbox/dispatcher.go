// Package outbox delivers mirrored store mutations to the persistence gateway.
// Actions are queued durably before delivery and drained strictly in
// submission order, so a slow or failing gateway never reorders writes.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
)

// ErrDeliveryStalled is returned when a flush stops at an action the gateway
// did not accept. Later actions stay queued behind it.
var ErrDeliveryStalled = errors.New("outbox delivery stalled")

// DeadLetterer is implemented by queues that can take an action out of
// delivery permanently.
type DeadLetterer interface {
	MarkDead(ctx context.Context, actionID string, cause error) error
}

// Config holds dispatcher settings.
type Config struct {
	Retry               service.RetryOptions
	FlushInterval       time.Duration
	BatchSize           int
	MaxDeliveryAttempts int
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:           50,
		FlushInterval:       5 * time.Second,
		MaxDeliveryAttempts: 10,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// FlushStats summarizes one flush.
type FlushStats struct {
	Sent         int
	DeadLettered int
	Remaining    int
}

// ProgressFunc is called after each delivery attempt during a flush.
type ProgressFunc func(entry service.OutboxEntry, err error)

// Dispatcher queues actions and drains them to a gateway.
type Dispatcher struct {
	queue     service.OutboxQueue
	gateway   service.Gateway
	onWarning func(error)
	wake      chan struct{}
	config    Config
	flushMu   sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWarningHandler sets the function that receives non-fatal delivery
// failures. By default they are logged.
func WithWarningHandler(fn func(error)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.onWarning = fn
		}
	}
}

// NewDispatcher creates a dispatcher over queue and gateway.
func NewDispatcher(queue service.OutboxQueue, gateway service.Gateway, config Config, opts ...Option) *Dispatcher {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.MaxDeliveryAttempts <= 0 {
		config.MaxDeliveryAttempts = defaults.MaxDeliveryAttempts
	}

	d := &Dispatcher{
		queue:   queue,
		gateway: gateway,
		config:  config,
		wake:    make(chan struct{}, 1),
		onWarning: func(err error) {
			common.LogWarn(err, "Gateway sync warning", nil)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit implements service.Sink. The action is queued durably and a flush
// is scheduled; the network is never touched on the caller's goroutine.
func (d *Dispatcher) Submit(ctx context.Context, action model.Action) error {
	if err := d.queue.Enqueue(ctx, action); err != nil {
		return fmt.Errorf("failed to queue %s: %w", action.Name, err)
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run flushes whenever an action is submitted and on every tick of the flush
// interval, until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		case <-ticker.C:
		}

		if _, err := d.Flush(ctx, nil); err != nil && ctx.Err() == nil {
			d.onWarning(err)
		}
	}
}

// Flush delivers queued actions in order until the queue is empty or an
// action fails. An action that has failed MaxDeliveryAttempts times is
// dead-lettered when the queue supports it, so it cannot block the queue.
func (d *Dispatcher) Flush(ctx context.Context, progress ProgressFunc) (FlushStats, error) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	var stats FlushStats
	for {
		entries, err := d.queue.Pending(ctx, d.config.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to read outbox: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			sendErr := d.deliver(ctx, entry)
			if progress != nil {
				progress(entry, sendErr)
			}

			if sendErr == nil {
				if err := d.queue.MarkSent(ctx, entry.Action.ID); err != nil {
					return stats, fmt.Errorf("failed to mark %s sent: %w", entry.Action.ID, err)
				}
				stats.Sent++
				continue
			}

			if ctx.Err() != nil {
				return d.finish(ctx, stats, ctx.Err())
			}

			if err := d.queue.MarkFailed(ctx, entry.Action.ID, sendErr); err != nil {
				return stats, fmt.Errorf("failed to record failure of %s: %w", entry.Action.ID, err)
			}

			if dead, ok := d.queue.(DeadLetterer); ok && entry.Attempts+1 >= d.config.MaxDeliveryAttempts {
				if err := dead.MarkDead(ctx, entry.Action.ID, sendErr); err != nil {
					return stats, fmt.Errorf("failed to dead-letter %s: %w", entry.Action.ID, err)
				}
				slog.Error("Dead-lettered gateway action",
					"action", entry.Action.Name,
					"action_id", entry.Action.ID,
					"attempts", entry.Attempts+1,
					"error", sendErr)
				stats.DeadLettered++
				continue
			}

			return d.finish(ctx, stats, fmt.Errorf("%w at %s %s: %w", ErrDeliveryStalled, entry.Action.Name, entry.Action.ID, sendErr))
		}
	}

	return d.finish(ctx, stats, nil)
}

// Pending returns the number of queued actions.
func (d *Dispatcher) Pending(ctx context.Context) (int, error) {
	return d.queue.PendingCount(ctx)
}

func (d *Dispatcher) deliver(ctx context.Context, entry service.OutboxEntry) error {
	err := common.WithRetry(ctx, func() error {
		return d.gateway.SendAction(ctx, entry.Action)
	}, d.config.Retry)
	return common.RetryCause(err)
}

func (d *Dispatcher) finish(ctx context.Context, stats FlushStats, cause error) (FlushStats, error) {
	if remaining, err := d.queue.PendingCount(context.WithoutCancel(ctx)); err == nil {
		stats.Remaining = remaining
	}
	if stats.Sent > 0 || stats.DeadLettered > 0 {
		slog.Debug("Flushed outbox",
			"sent", stats.Sent,
			"dead_lettered", stats.DeadLettered,
			"remaining", stats.Remaining)
	}
	return stats, cause
}

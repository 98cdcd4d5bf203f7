package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
)

const outboxTable = "outbox"

type outboxRow struct {
	CreatedAt  time.Time      `db:"created_at"`
	EnqueuedAt time.Time      `db:"enqueued_at"`
	LastError  sql.NullString `db:"last_error"`
	ActionID   string         `db:"action_id"`
	Action     string         `db:"action"`
	Payload    string         `db:"payload"`
	Seq        int64          `db:"seq"`
	Attempts   int            `db:"attempts"`
}

func (r outboxRow) entry() service.OutboxEntry {
	return service.OutboxEntry{
		Seq:        r.Seq,
		EnqueuedAt: r.EnqueuedAt,
		Attempts:   r.Attempts,
		LastError:  r.LastError.String,
		Action: model.Action{
			ID:        r.ActionID,
			Name:      model.ActionName(r.Action),
			Payload:   json.RawMessage(r.Payload),
			CreatedAt: r.CreatedAt,
		},
	}
}

var outboxColumns = []any{
	"seq", "action_id", "action", "payload", "created_at", "enqueued_at", "attempts", "last_error",
}

func pendingFilter() goqu.Ex {
	return goqu.Ex{
		"sent_at": nil,
		"dead_at": nil,
	}
}

// Enqueue stores an action for delivery. Enqueuing an action id that is
// already queued is a no-op.
func (s *SQLiteStorage) Enqueue(ctx context.Context, action model.Action) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAction(&action); err != nil {
		return err
	}

	query, args, err := dialect.Insert(outboxTable).
		Rows(goqu.Record{
			"action_id":   action.ID,
			"action":      string(action.Name),
			"payload":     string(action.Payload),
			"created_at":  action.CreatedAt.UTC(),
			"enqueued_at": time.Now().UTC(),
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build enqueue query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil
		}
		return fmt.Errorf("failed to enqueue action %s: %w", action.ID, err)
	}
	return nil
}

// Pending returns undelivered, non-dead actions in submission order.
func (s *SQLiteStorage) Pending(ctx context.Context, limit int) ([]service.OutboxEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query, args, err := dialect.From(outboxTable).
		Select(outboxColumns...).
		Where(pendingFilter()).
		Order(goqu.C("seq").Asc()).
		Limit(uint(limit)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build pending query: %w", err)
	}

	var rows []outboxRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query pending actions: %w", err)
	}

	entries := make([]service.OutboxEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

// PendingCount returns the number of actions still waiting for delivery.
func (s *SQLiteStorage) PendingCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query, args, err := dialect.From(outboxTable).
		Select(goqu.COUNT("*")).
		Where(pendingFilter()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return count, nil
}

// MarkSent records successful delivery.
func (s *SQLiteStorage) MarkSent(ctx context.Context, actionID string) error {
	return s.updateAction(ctx, actionID, goqu.Record{
		"sent_at": time.Now().UTC(),
	})
}

// MarkFailed records a failed delivery attempt.
func (s *SQLiteStorage) MarkFailed(ctx context.Context, actionID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.updateAction(ctx, actionID, goqu.Record{
		"attempts":   goqu.L("attempts + 1"),
		"last_error": msg,
	})
}

// MarkDead takes an action out of the delivery queue.
func (s *SQLiteStorage) MarkDead(ctx context.Context, actionID string, cause error) error {
	record := goqu.Record{"dead_at": time.Now().UTC()}
	if cause != nil {
		record["last_error"] = cause.Error()
	}
	return s.updateAction(ctx, actionID, record)
}

// Requeue returns a dead action to the delivery queue.
func (s *SQLiteStorage) Requeue(ctx context.Context, actionID string) error {
	return s.updateAction(ctx, actionID, goqu.Record{
		"dead_at":  nil,
		"attempts": 0,
	})
}

// DeadLetters returns actions that were taken out of the queue.
func (s *SQLiteStorage) DeadLetters(ctx context.Context) ([]service.OutboxEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query, args, err := dialect.From(outboxTable).
		Select(outboxColumns...).
		Where(goqu.C("dead_at").IsNotNull()).
		Order(goqu.C("seq").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build dead letter query: %w", err)
	}

	var rows []outboxRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}

	entries := make([]service.OutboxEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

// PurgeSent deletes delivered actions older than before.
func (s *SQLiteStorage) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	query, args, err := dialect.Delete(outboxTable).
		Where(goqu.C("sent_at").IsNotNull(), goqu.C("sent_at").Lt(before.UTC())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build purge query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sent actions: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) updateAction(ctx context.Context, actionID string, record goqu.Record) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(actionID, "actionID"); err != nil {
		return err
	}

	query, args, err := dialect.Update(outboxTable).
		Set(record).
		Where(goqu.C("action_id").Eq(actionID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update action %s: %w", actionID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("action %s: %w", actionID, sql.ErrNoRows)
	}
	return nil
}

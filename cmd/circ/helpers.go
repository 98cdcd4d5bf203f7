package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/config"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/outbox"
	"github.com/Veraticus/circdesk/internal/service"
	"github.com/Veraticus/circdesk/internal/storage"
	"github.com/Veraticus/circdesk/internal/store"
)

// closeFlushTimeout bounds the delivery attempt made when a command exits.
const closeFlushTimeout = 20 * time.Second

// desk bundles everything a circulation command needs.
type desk struct {
	storage    *storage.SQLiteStorage
	gateway    service.Gateway
	dispatcher *outbox.Dispatcher
	store      *store.Store
	engine     *circulation.Engine
}

// initStorage opens the outbox database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	db, err := storage.NewSQLiteStorage(config.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// initDispatcher wires the outbox queue to the configured gateway.
func initDispatcher(ctx context.Context, db *storage.SQLiteStorage) (*outbox.Dispatcher, service.Gateway, error) {
	gw, err := config.LoadGateway(ctx, slog.Default())
	if err != nil {
		return nil, nil, common.NewUserError("Gateway is not configured (see `circ auth sheets`)", err)
	}
	dispatcher := outbox.NewDispatcher(db, gw, config.LoadOutboxConfig())
	return dispatcher, gw, nil
}

// openDesk loads the library state and returns a ready engine. Callers must
// close the desk so queued changes get a chance to go out.
func openDesk(ctx context.Context) (*desk, error) {
	policy, err := config.LoadCirculationConfig()
	if err != nil {
		return nil, err
	}

	db, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	dispatcher, gw, err := initDispatcher(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	st := store.New(gw, dispatcher, store.WithWarningFunc(func(action model.Action, err error) {
		common.LogWarn(err, "Change was not queued for sync", common.Fields{
			"action":     action.Name,
			"request_id": action.ID,
		})
	}))
	if err := st.Load(ctx); err != nil {
		_ = db.Close()
		return nil, common.NewUserError("Could not load library data", err)
	}

	return &desk{
		storage:    db,
		gateway:    gw,
		dispatcher: dispatcher,
		store:      st,
		engine:     circulation.New(st, policy),
	}, nil
}

// close flushes what it can and closes the database. Undelivered actions stay
// queued for the next run.
func (d *desk) close(ctx context.Context) {
	defer func() { _ = d.storage.Close() }()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeFlushTimeout)
	defer cancel()

	stats, err := d.dispatcher.Flush(flushCtx, nil)
	switch {
	case err == nil:
		slog.Debug("Synced changes", "sent", stats.Sent)
	case errors.Is(err, outbox.ErrDeliveryStalled):
		slog.Warn("Some changes are waiting to sync; run `circ sync` later",
			"pending", stats.Remaining, "error", err)
	default:
		slog.Warn("Sync failed", "error", err)
	}
	if stats.DeadLettered > 0 {
		slog.Warn("Changes were rejected by the gateway; see `circ sync --dead`",
			"count", stats.DeadLettered)
	}
}

// withDesk runs fn against an open desk and always closes it.
func withDesk(ctx context.Context, fn func(*desk) error) error {
	d, err := openDesk(ctx)
	if err != nil {
		return err
	}
	defer d.close(ctx)
	return fn(d)
}

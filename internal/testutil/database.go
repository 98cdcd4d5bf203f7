// Package testutil provides shared test helpers: a migrated outbox database,
// a recording action sink and outbox action builders.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/storage"
)

// SetupTestDB creates a migrated outbox database in a temporary directory
// and closes it when the test ends. The file lives on disk so a second
// handle opened on Path() sees the same queue.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	db, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "circ.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// QueueActions enqueues one updatePatron action per id, in order.
func QueueActions(t *testing.T, db *storage.SQLiteStorage, ids ...string) []model.Action {
	t.Helper()
	actions := make([]model.Action, 0, len(ids))
	for _, id := range ids {
		action := Action(id)
		if err := db.Enqueue(context.Background(), action); err != nil {
			t.Fatalf("failed to enqueue %s: %v", id, err)
		}
		actions = append(actions, action)
	}
	return actions
}

// Action returns a valid updatePatron action with the given request id.
func Action(id string) model.Action {
	return model.Action{
		ID:        id,
		Name:      model.ActionUpdatePatron,
		Payload:   []byte(fmt.Sprintf(`{"id":%q}`, id)),
		CreatedAt: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

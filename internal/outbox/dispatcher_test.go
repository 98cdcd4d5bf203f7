package outbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/service"
	"github.com/Veraticus/circdesk/internal/sheets"
	"github.com/Veraticus/circdesk/internal/testutil"
)

func testConfig() Config {
	return Config{
		BatchSize:           2,
		FlushInterval:       10 * time.Millisecond,
		MaxDeliveryAttempts: 3,
		Retry: service.RetryOptions{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		},
	}
}

func testAction(id string) model.Action {
	return model.Action{
		ID:        id,
		Name:      model.ActionUpdatePatron,
		Payload:   []byte(fmt.Sprintf(`{"id":%q}`, id)),
		CreatedAt: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatcher_FlushDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	gateway := sheets.NewMockGateway(nil)
	d := NewDispatcher(NewMemoryQueue(), gateway, testConfig())

	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		require.NoError(t, d.Submit(ctx, testAction(id)))
	}

	var seen []string
	stats, err := d.Flush(ctx, func(entry service.OutboxEntry, err error) {
		assert.NoError(t, err)
		seen = append(seen, entry.Action.ID)
	})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Sent)
	assert.Equal(t, 0, stats.Remaining)
	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, seen)

	var delivered []string
	for _, action := range gateway.Accepted() {
		delivered = append(delivered, action.ID)
	}
	assert.Equal(t, seen, delivered)
}

func TestDispatcher_SubmitDoesNotSend(t *testing.T) {
	ctx := context.Background()
	gateway := sheets.NewMockGateway(nil)
	d := NewDispatcher(NewMemoryQueue(), gateway, testConfig())

	require.NoError(t, d.Submit(ctx, testAction("a1")))

	assert.Equal(t, 0, gateway.SendCallCount)
	pending, err := d.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestDispatcher_FailureStopsFlush(t *testing.T) {
	ctx := context.Background()
	gateway := sheets.NewMockGateway(nil)
	gateway.SendFunc = func(_ context.Context, action model.Action) error {
		if action.ID == "a2" {
			return errors.New("sheet locked")
		}
		return nil
	}
	queue := NewMemoryQueue()
	d := NewDispatcher(queue, gateway, testConfig())

	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, d.Submit(ctx, testAction(id)))
	}

	stats, err := d.Flush(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeliveryStalled)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 2, stats.Remaining)

	// a3 must not overtake a2.
	for _, call := range gateway.GetSendCalls() {
		assert.NotEqual(t, "a3", call.Action.ID)
	}

	pending, err := queue.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a2", pending[0].Action.ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "sheet locked")
}

func TestDispatcher_RecoversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	failing := true
	gateway := sheets.NewMockGateway(nil)
	gateway.SendFunc = func(context.Context, model.Action) error {
		if failing {
			return errors.New("offline")
		}
		return nil
	}
	d := NewDispatcher(NewMemoryQueue(), gateway, testConfig())

	require.NoError(t, d.Submit(ctx, testAction("a1")))
	require.NoError(t, d.Submit(ctx, testAction("a2")))

	_, err := d.Flush(ctx, nil)
	require.Error(t, err)

	failing = false
	stats, err := d.Flush(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Sent)

	accepted := gateway.Accepted()
	require.Len(t, accepted, 2)
	assert.Equal(t, "a1", accepted[0].ID)
	assert.Equal(t, "a2", accepted[1].ID)
}

func TestDispatcher_DeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	gateway := sheets.NewMockGateway(nil)
	gateway.SendFunc = func(_ context.Context, action model.Action) error {
		if action.ID == "poison" {
			return errors.New("malformed row")
		}
		return nil
	}
	queue := NewMemoryQueue()
	d := NewDispatcher(queue, gateway, testConfig())

	require.NoError(t, d.Submit(ctx, testAction("poison")))
	require.NoError(t, d.Submit(ctx, testAction("a2")))

	for i := 0; i < 2; i++ {
		_, err := d.Flush(ctx, nil)
		require.ErrorIs(t, err, ErrDeliveryStalled)
	}

	stats, err := d.Flush(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Remaining)
}

func TestDispatcher_SQLiteQueueSurvivesRequeue(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	testutil.QueueActions(t, db, "poison", "a2", "a3")

	rejecting := true
	gateway := sheets.NewMockGateway(nil)
	gateway.SendFunc = func(_ context.Context, action model.Action) error {
		if rejecting && action.ID == "poison" {
			return errors.New("malformed row")
		}
		return nil
	}
	d := NewDispatcher(db, gateway, testConfig())

	for i := 0; i < 2; i++ {
		_, err := d.Flush(ctx, nil)
		require.ErrorIs(t, err, ErrDeliveryStalled)
	}
	stats, err := d.Flush(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLettered)
	assert.Equal(t, 2, stats.Sent)

	dead, err := db.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", dead[0].Action.ID)
	assert.Equal(t, "malformed row", dead[0].LastError)

	rejecting = false
	require.NoError(t, db.Requeue(ctx, "poison"))
	stats, err = d.Flush(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Remaining)

	var order []string
	for _, call := range gateway.SendCalls {
		if call.Error == nil {
			order = append(order, call.Action.ID)
		}
	}
	assert.Equal(t, []string{"a2", "a3", "poison"}, order)
}

func TestDispatcher_DuplicateSubmitIsIgnored(t *testing.T) {
	ctx := context.Background()
	gateway := sheets.NewMockGateway(nil)
	d := NewDispatcher(NewMemoryQueue(), gateway, testConfig())

	require.NoError(t, d.Submit(ctx, testAction("a1")))
	require.NoError(t, d.Submit(ctx, testAction("a1")))

	stats, err := d.Flush(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, gateway.SendCallCount)
}

func TestDispatcher_RunFlushesOnSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := sheets.NewMockGateway(nil)
	d := NewDispatcher(NewMemoryQueue(), gateway, testConfig())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Submit(ctx, testAction("a1")))

	assert.Eventually(t, func() bool {
		return len(gateway.Accepted()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestDispatcher_RunReportsWarnings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := sheets.NewMockGateway(nil)
	gateway.SendFunc = func(context.Context, model.Action) error {
		return errors.New("offline")
	}

	warnings := make(chan error, 10)
	d := NewDispatcher(NewMemoryQueue(), gateway, testConfig(), WithWarningHandler(func(err error) {
		select {
		case warnings <- err:
		default:
		}
	}))

	go func() { _ = d.Run(ctx) }()
	require.NoError(t, d.Submit(ctx, testAction("a1")))

	select {
	case err := <-warnings:
		assert.ErrorIs(t, err, ErrDeliveryStalled)
	case <-time.After(time.Second):
		t.Fatal("expected a warning")
	}
}

func TestNewDispatcher_AppliesDefaults(t *testing.T) {
	d := NewDispatcher(NewMemoryQueue(), sheets.NewMockGateway(nil), Config{})

	defaults := DefaultConfig()
	assert.Equal(t, defaults.BatchSize, d.config.BatchSize)
	assert.Equal(t, defaults.FlushInterval, d.config.FlushInterval)
	assert.Equal(t, defaults.MaxDeliveryAttempts, d.config.MaxDeliveryAttempts)
}

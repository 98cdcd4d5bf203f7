package sheets

import (
	"context"
	"sync"

	"github.com/Veraticus/circdesk/internal/model"
)

// MockGateway is a mock implementation of service.Gateway for testing.
type MockGateway struct {
	Snapshot      *model.Snapshot
	LoadFunc      func(ctx context.Context) (*model.Snapshot, error)
	SendFunc      func(ctx context.Context, action model.Action) error
	SendCalls     []SendCall
	LoadCallCount int
	SendCallCount int
	mu            sync.Mutex
}

// SendCall represents a single call to SendAction.
type SendCall struct {
	Error  error
	Action model.Action
}

// NewMockGateway creates a mock gateway that serves snapshot on load.
func NewMockGateway(snapshot *model.Snapshot) *MockGateway {
	if snapshot == nil {
		snapshot = &model.Snapshot{}
	}
	return &MockGateway{
		Snapshot:  snapshot,
		SendCalls: make([]SendCall, 0),
	}
}

// LoadAll implements the Gateway interface.
func (m *MockGateway) LoadAll(ctx context.Context) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LoadCallCount++
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return m.Snapshot, nil
}

// SendAction implements the Gateway interface.
func (m *MockGateway) SendAction(ctx context.Context, action model.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendCallCount++

	var err error
	if m.SendFunc != nil {
		err = m.SendFunc(ctx, action)
	}

	m.SendCalls = append(m.SendCalls, SendCall{
		Action: action,
		Error:  err,
	})

	return err
}

// Reset clears all recorded calls.
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LoadCallCount = 0
	m.SendCallCount = 0
	m.SendCalls = make([]SendCall, 0)
}

// GetSendCalls returns a copy of all send calls.
func (m *MockGateway) GetSendCalls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]SendCall, len(m.SendCalls))
	copy(calls, m.SendCalls)
	return calls
}

// Accepted returns the actions the mock accepted, in order.
func (m *MockGateway) Accepted() []model.Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []model.Action
	for _, call := range m.SendCalls {
		if call.Error == nil {
			actions = append(actions, call.Action)
		}
	}
	return actions
}

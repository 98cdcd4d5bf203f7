package testutil

import (
	"context"
	"sync"

	"github.com/Veraticus/circdesk/internal/model"
)

// RecordingSink collects submitted actions in memory. When Err is set every
// submission fails with it.
type RecordingSink struct {
	Err     error
	actions []model.Action
	mu      sync.Mutex
}

// Submit implements service.Sink.
func (r *RecordingSink) Submit(_ context.Context, action model.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.actions = append(r.actions, action)
	return nil
}

// Actions returns a copy of the recorded actions.
func (r *RecordingSink) Actions() []model.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Action(nil), r.actions...)
}

// Names returns the recorded action names in submission order.
func (r *RecordingSink) Names() []model.ActionName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActionName, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a.Name)
	}
	return out
}

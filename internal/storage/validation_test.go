package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/circdesk/internal/model"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "valid", value: "outbox.db", wantErr: false},
		{name: "empty", value: "", wantErr: true},
		{name: "whitespace only", value: "  \t", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateString(tt.value, "param")
			if (err != nil) != tt.wantErr {
				t.Errorf("validateString(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrEmptyString) {
				t.Errorf("expected ErrEmptyString, got %v", err)
			}
		})
	}
}

func TestValidateAction(t *testing.T) {
	valid := model.Action{
		ID:        "a-1",
		Name:      model.ActionUpdatePatron,
		Payload:   []byte(`{"id":"p1"}`),
		CreatedAt: time.Now(),
	}

	tests := []struct {
		action  *model.Action
		mutate  func(*model.Action)
		name    string
		wantErr bool
	}{
		{name: "valid action", action: &valid},
		{name: "nil action", action: nil, wantErr: true},
		{name: "missing id", action: &valid, mutate: func(a *model.Action) { a.ID = " " }, wantErr: true},
		{name: "missing name", action: &valid, mutate: func(a *model.Action) { a.Name = "" }, wantErr: true},
		{name: "missing payload", action: &valid, mutate: func(a *model.Action) { a.Payload = nil }, wantErr: true},
		{name: "missing created time", action: &valid, mutate: func(a *model.Action) { a.CreatedAt = time.Time{} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var action *model.Action
			if tt.action != nil {
				copied := *tt.action
				action = &copied
				if tt.mutate != nil {
					tt.mutate(action)
				}
			}
			err := validateAction(action)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAction() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

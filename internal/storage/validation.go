package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/circdesk/internal/model"
)

// Validation errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrEmptyString   = errors.New("string parameter cannot be empty")
	ErrNilParameter  = errors.New("parameter cannot be nil")
	ErrInvalidAction = errors.New("invalid action")
	ErrInvalidLimit  = errors.New("limit must be positive")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateAction validates an action before it is queued.
func validateAction(action *model.Action) error {
	if action == nil {
		return fmt.Errorf("%w: action", ErrNilParameter)
	}
	if strings.TrimSpace(action.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidAction)
	}
	if action.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidAction)
	}
	if len(action.Payload) == 0 {
		return fmt.Errorf("%w: missing payload", ErrInvalidAction)
	}
	if action.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created time", ErrInvalidAction)
	}
	return nil
}

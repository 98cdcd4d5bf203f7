package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the scan station and blocks until the operator quits or ctx is
// canceled.
func Run(ctx context.Context, desk Desk, opts ...Option) error {
	program := tea.NewProgram(New(ctx, desk, opts...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("scan station failed: %w", err)
	}
	return nil
}

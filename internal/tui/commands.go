package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/circdesk/internal/circulation"
)

// lookupPatron loads a patron for lending.
func (m Model) lookupPatron(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.OperationTimeout)
		defer cancel()

		p, err := m.desk.LookupPatron(ctx, id)
		return patronLoadedMsg{patron: p, err: err}
	}
}

// checkout lends barcode to the current patron.
func (m Model) checkout(patronID, barcode string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.OperationTimeout)
		defer cancel()

		loan, err := m.desk.Checkout(ctx, circulation.CheckoutRequest{PatronID: patronID, Barcode: barcode})
		return checkoutDoneMsg{loan: loan, err: err}
	}
}

// checkin returns code, settling any fine with the desk's fine policy.
func (m Model) checkin(code string) tea.Cmd {
	decision := m.finePolicy
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.config.OperationTimeout)
		defer cancel()

		decider := circulation.FineDeciderFunc(func(context.Context, circulation.FineNotice) (circulation.Decision, error) {
			return decision, nil
		})
		result, err := m.desk.Checkin(ctx, code, decider)
		return checkinDoneMsg{result: result, err: err}
	}
}

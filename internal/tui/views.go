package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/circdesk/internal/circulation"
)

// View renders the scan station.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{m.renderHeader(), ""}
	if m.patron != nil {
		sections = append(sections, m.renderPatron(), "")
	}
	sections = append(sections, m.renderInput(), "", m.renderEvents(), "", m.help.ShortHelpView(m.keymap.ShortHelp()))

	return lipgloss.NewStyle().MaxWidth(m.width).Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) renderHeader() string {
	fines := "defer late fines"
	if m.finePolicy == circulation.DecisionPayNow {
		fines = "collect late fines"
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		m.theme.Title.Render("📚 Circulation Desk"),
		" ",
		m.theme.Bold.Render(m.mode.String()),
		m.theme.Subtitle.Render(" · "+fines+" · "+m.desk.Today().Thai()),
	)
}

func (m Model) renderPatron() string {
	p := m.patron
	lines := []string{
		m.theme.Bold.Render(fmt.Sprintf("%s (%s)", p.Name, p.ID)),
		fmt.Sprintf("%s · expires %s · owes %s",
			p.Status, p.ExpiryDate.Thai(), m.theme.Money.Render(p.FinesOwed.StringFixed(2)+" ฿")),
	}
	if len(m.loans.Rows()) > 0 {
		lines = append(lines, "", m.loans.View())
	} else {
		lines = append(lines, m.theme.StatusPending.Render("No items on loan"))
	}
	return m.theme.RoundedBox.Render(strings.Join(lines, "\n"))
}

func (m Model) renderInput() string {
	if m.busy {
		return m.spinner.View() + " " + m.input.View()
	}
	return "  " + m.input.View()
}

func (m Model) renderEvents() string {
	if len(m.events) == 0 {
		return m.theme.StatusPending.Render("Ready")
	}
	lines := make([]string, 0, len(m.events))
	for _, e := range m.events {
		var style lipgloss.Style
		switch e.kind {
		case eventSuccess:
			style = m.theme.StatusSuccess
		case eventWarning:
			style = m.theme.StatusWarning
		case eventError:
			style = m.theme.StatusError
		default:
			style = m.theme.StatusInfo
		}
		lines = append(lines, style.Render(e.text))
	}
	return strings.Join(lines, "\n")
}

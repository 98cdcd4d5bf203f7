// Package tui implements the full-screen scan station used at the
// circulation desk.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/tui/themes"
)

// maxEvents is how many recent results stay on screen.
const maxEvents = 8

// Desk is the circulation engine as seen by the scan station.
type Desk interface {
	LookupPatron(ctx context.Context, id string) (model.Patron, error)
	Checkout(ctx context.Context, req circulation.CheckoutRequest) (model.Loan, error)
	Checkin(ctx context.Context, code string, decider circulation.FineDecider) (circulation.CheckinResult, error)
	Today() model.Date
}

// Mode selects what a scan does.
type Mode int

const (
	// ModeLend scans a patron card, then lends each scanned copy to them.
	ModeLend Mode = iota
	// ModeReturn returns each scanned copy.
	ModeReturn
)

func (m Mode) String() string {
	if m == ModeReturn {
		return "Return"
	}
	return "Lend"
}

// Config holds scan station settings.
type Config struct {
	Theme            themes.Theme
	OperationTimeout time.Duration
	FinePolicy       circulation.Decision
	Width            int
	Height           int
}

// Option configures the scan station.
type Option func(*Config)

// WithTheme sets the color theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) { c.Theme = theme }
}

// WithSize sets the initial terminal size.
func WithSize(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}

// WithFinePolicy sets how late fines are settled until toggled.
func WithFinePolicy(decision circulation.Decision) Option {
	return func(c *Config) { c.FinePolicy = decision }
}

type eventKind int

const (
	eventInfo eventKind = iota
	eventSuccess
	eventWarning
	eventError
)

type event struct {
	text string
	kind eventKind
}

// Model holds the scan station state.
type Model struct {
	ctx        context.Context
	desk       Desk
	patron     *model.Patron
	theme      themes.Theme
	keymap     KeyMap
	help       help.Model
	spinner    spinner.Model
	input      textinput.Model
	loans      table.Model
	events     []event
	config     Config
	finePolicy circulation.Decision
	mode       Mode
	width      int
	height     int
	busy       bool
	quitting   bool
}

// New creates a scan station bound to desk.
func New(ctx context.Context, desk Desk, opts ...Option) Model {
	cfg := Config{
		Theme:            themes.Default,
		OperationTimeout: 30 * time.Second,
		FinePolicy:       circulation.DecisionDefer,
		Width:            100,
		Height:           30,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	input := textinput.New()
	input.Prompt = "› "
	input.CharLimit = 64
	input.Focus()

	loans := table.New(
		table.WithColumns([]table.Column{
			{Title: "Barcode", Width: 10},
			{Title: "Title", Width: 32},
			{Title: "Due", Width: 10},
			{Title: "Status", Width: 16},
		}),
		table.WithHeight(6),
	)
	styles := table.DefaultStyles()
	styles.Header = cfg.Theme.TableHeader
	styles.Selected = cfg.Theme.TableSelected
	loans.SetStyles(styles)

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = cfg.Theme.StatusPending

	m := Model{
		ctx:        ctx,
		desk:       desk,
		theme:      cfg.Theme,
		keymap:     DefaultKeyMap(),
		help:       help.New(),
		spinner:    spin,
		input:      input,
		loans:      loans,
		config:     cfg,
		finePolicy: cfg.FinePolicy,
		mode:       ModeLend,
		width:      cfg.Width,
		height:     cfg.Height,
	}
	m.input.Placeholder = m.placeholder()
	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keymap.Submit):
			return m.submit()
		case key.Matches(msg, m.keymap.SwitchMode):
			if m.busy {
				return m, nil
			}
			if m.mode == ModeLend {
				m.mode = ModeReturn
			} else {
				m.mode = ModeLend
			}
			m.input.Placeholder = m.placeholder()
			return m, nil
		case key.Matches(msg, m.keymap.ClearPatron):
			m.clearPatron()
			return m, nil
		case key.Matches(msg, m.keymap.ToggleFines):
			if m.finePolicy == circulation.DecisionPayNow {
				m.finePolicy = circulation.DecisionDefer
				m.addEvent(eventInfo, "Late fines will be added to the balance")
			} else {
				m.finePolicy = circulation.DecisionPayNow
				m.addEvent(eventInfo, "Late fines will be paid at the desk")
			}
			return m, nil
		}

	case patronLoadedMsg:
		m.busy = false
		if msg.err != nil {
			m.addEvent(eventError, common.UserMessage(msg.err))
			return m, nil
		}
		first := m.patron == nil || m.patron.ID != msg.patron.ID
		m.setPatron(msg.patron)
		if first {
			m.addEvent(eventInfo, fmt.Sprintf("Lending to %s (%s)", msg.patron.Name, msg.patron.ID))
			if err := circulation.Eligibility(msg.patron, m.desk.Today()); err != nil {
				m.addEvent(eventWarning, "Cannot borrow: "+common.UserMessage(err))
			}
		}
		return m, nil

	case checkoutDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.addEvent(eventError, common.UserMessage(msg.err))
			return m, nil
		}
		m.addEvent(eventSuccess, fmt.Sprintf("Lent %s, due %s", msg.loan.BookTitle, msg.loan.DueDate.Thai()))
		if m.patron == nil {
			return m, nil
		}
		m.busy = true
		return m, tea.Batch(m.spinner.Tick, m.lookupPatron(m.patron.ID))

	case checkinDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.addEvent(eventError, common.UserMessage(msg.err))
			return m, nil
		}
		m.recordCheckin(msg.result)
		if m.patron != nil && m.patron.ID == msg.result.PatronID {
			m.busy = true
			return m, tea.Batch(m.spinner.Tick, m.lookupPatron(m.patron.ID))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit acts on the scanned value for the current mode.
func (m Model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	if value == "" || m.busy {
		return m, nil
	}
	m.input.Reset()

	var cmd tea.Cmd
	switch {
	case m.mode == ModeReturn:
		cmd = m.checkin(value)
	case m.patron == nil:
		cmd = m.lookupPatron(value)
	default:
		cmd = m.checkout(m.patron.ID, value)
	}
	m.busy = true
	return m, tea.Batch(m.spinner.Tick, cmd)
}

func (m *Model) recordCheckin(result circulation.CheckinResult) {
	m.addEvent(eventSuccess, fmt.Sprintf("Returned %s from %s", result.Loan.BookTitle, result.Loan.PatronName))
	if result.Fine.IsPositive() {
		settled := "added to balance"
		if result.Decision == circulation.DecisionPayNow {
			settled = "paid at the desk"
		}
		m.addEvent(eventWarning, fmt.Sprintf("%d days late: fine %s ฿ %s",
			result.DaysLate, result.Fine.StringFixed(2), settled))
	}
	if result.Notified != "" {
		m.addEvent(eventInfo, fmt.Sprintf("Hold shelf: set aside for %s", result.Notified))
	}
}

func (m *Model) setPatron(p model.Patron) {
	m.patron = &p
	today := m.desk.Today()

	rows := make([]table.Row, 0, len(p.History))
	for i := range p.History {
		loan := p.History[i]
		if !loan.IsOpen() {
			continue
		}
		status := string(loan.Status)
		if loan.IsOverdue(today) {
			status = fmt.Sprintf("Overdue %dd", circulation.DaysLate(loan.DueDate, today))
		}
		rows = append(rows, table.Row{loan.Barcode, loan.BookTitle, loan.DueDate.Thai(), status})
	}
	m.loans.SetRows(rows)
	m.input.Placeholder = m.placeholder()
}

func (m *Model) clearPatron() {
	m.patron = nil
	m.loans.SetRows(nil)
	m.input.Placeholder = m.placeholder()
}

func (m *Model) addEvent(kind eventKind, text string) {
	m.events = append(m.events, event{kind: kind, text: text})
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

func (m Model) placeholder() string {
	switch {
	case m.mode == ModeReturn:
		return "scan a returned copy (barcode or title)"
	case m.patron == nil:
		return "scan a patron card"
	default:
		return "scan a copy to lend"
	}
}

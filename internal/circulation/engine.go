// Package circulation implements the desk rules: who may borrow, when items
// are due, what lateness costs, and who gets a returned copy next.
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/store"
)

// Config holds the circulation policy.
type Config struct {
	Location    *time.Location
	FinePerDay  decimal.Decimal
	LoanDays    int
	RenewalDays int
	MaxRenewals int // 0 means unlimited
}

// DefaultConfig returns the standard school policy.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return Config{
		Location:    loc,
		FinePerDay:  decimal.NewFromInt(5),
		LoanDays:    7,
		RenewalDays: 7,
	}
}

// FineFor returns the fine for a return that is daysLate days late.
func (c Config) FineFor(daysLate int) decimal.Decimal {
	if daysLate <= 0 {
		return decimal.Zero
	}
	return c.FinePerDay.Mul(decimal.NewFromInt(int64(daysLate)))
}

// DaysLate returns the whole days between due and today, never negative.
func DaysLate(due, today model.Date) int {
	if due.IsZero() {
		return 0
	}
	return max(0, today.DaysSince(due))
}

// Engine applies circulation rules to a store. All operations are serialized.
type Engine struct {
	store  *store.Store
	now    func() time.Time
	config Config
	mu     sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine over st.
func New(st *store.Store, config Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if config.Location == nil {
		config.Location = defaults.Location
	}
	if config.LoanDays <= 0 {
		config.LoanDays = defaults.LoanDays
	}
	if config.RenewalDays <= 0 {
		config.RenewalDays = defaults.RenewalDays
	}
	if config.FinePerDay.IsNegative() {
		config.FinePerDay = defaults.FinePerDay
	}

	e := &Engine{
		store:  st,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's policy.
func (e *Engine) Config() Config {
	return e.config
}

// Today returns the current civil date at the library.
func (e *Engine) Today() model.Date {
	return model.Today(e.now(), e.config.Location)
}

// Eligibility reports whether p may borrow on today. Checks run in a fixed
// order and the first failure is returned.
func Eligibility(p model.Patron, today model.Date) error {
	switch {
	case p.Status == model.PatronExpired:
		return fmt.Errorf("%s: %w", p.Name, ErrMembershipExpired)
	case p.FinesOwed.IsPositive():
		return fmt.Errorf("%s owes %s: %w", p.Name, p.FinesOwed.StringFixed(2), ErrOutstandingFines)
	case p.HasOverdue(today):
		return fmt.Errorf("%s: %w", p.Name, ErrOverdueLoans)
	case p.Status != model.PatronActive:
		return fmt.Errorf("%s is %s: %w", p.Name, p.Status, ErrPatronInactive)
	}
	return nil
}

// LookupPatron returns the patron with id. A membership whose expiry date has
// passed is marked Expired and persisted before it is returned.
func (e *Engine) LookupPatron(ctx context.Context, id string) (model.Patron, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookup(ctx, id)
}

func (e *Engine) lookup(ctx context.Context, id string) (model.Patron, error) {
	if id == "" {
		return model.Patron{}, ErrNoPatron
	}
	p, ok := e.store.Patron(id)
	if !ok {
		return model.Patron{}, fmt.Errorf("%s: %w", id, ErrPatronNotFound)
	}

	today := e.Today()
	if p.Status != model.PatronExpired && !p.ExpiryDate.IsZero() && p.ExpiryDate.Before(today) {
		p.Status = model.PatronExpired
		if err := e.store.UpdatePatron(ctx, p); err != nil {
			return model.Patron{}, fmt.Errorf("failed to expire membership of %s: %w", id, err)
		}
		slog.Info("Membership expired",
			"patron_id", id,
			"expiry", p.ExpiryDate.Thai())
	}
	return p, nil
}

// CheckoutRequest describes one loan.
type CheckoutRequest struct {
	DueDate  model.Date // zero means today plus LoanDays
	PatronID string
	Barcode  string
}

// Checkout lends the item with the given barcode to a patron.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (model.Loan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookup(ctx, req.PatronID)
	if err != nil {
		return model.Loan{}, err
	}
	today := e.Today()
	if err := Eligibility(p, today); err != nil {
		return model.Loan{}, err
	}

	title, item, ok := e.store.FindItem(req.Barcode)
	if !ok {
		return model.Loan{}, fmt.Errorf("%q: %w", req.Barcode, ErrItemNotFound)
	}
	if !lendableTo(item, title, p) {
		return model.Loan{}, fmt.Errorf("%s is %s: %w", item.Barcode, item.Status, ErrItemUnavailable)
	}

	due := req.DueDate
	if due.IsZero() {
		due = today.AddDays(e.config.LoanDays)
	}
	if due.Before(today) {
		return model.Loan{}, fmt.Errorf("%s: %w", due.Thai(), ErrInvalidDueDate)
	}
	loan := model.Loan{
		ID:           uuid.NewString(),
		Barcode:      item.Barcode,
		BookTitle:    title.Title,
		PatronName:   p.Name,
		CheckoutDate: today,
		DueDate:      due,
		Status:       model.LoanActive,
		FineAmount:   decimal.Zero,
	}

	wasReserved := item.Status == model.ItemReserved
	p.ReleaseHold(title.ID)
	p.History = append([]model.Loan{loan}, p.History...)

	i := title.ItemIndex(item.Barcode)
	title.Items[i].Status = model.ItemCheckedOut
	title.Items[i].ReservedFor = ""
	if wasReserved {
		title.ReservationLog = append(title.ReservationLog, model.ReservationLogEntry{
			At:       e.now().UTC(),
			PatronID: p.ID,
			Barcode:  item.Barcode,
			Event:    model.ReservationFulfilled,
		})
	}
	title.RefreshStatus()

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return model.Loan{}, err
	}
	if err := e.store.UpdateTitleStatus(ctx, title); err != nil {
		return model.Loan{}, err
	}

	slog.Info("Checked out",
		"patron_id", p.ID,
		"barcode", item.Barcode,
		"due", due.Thai())
	return loan, nil
}

// lendableTo reports whether item may go out to p. A reserved copy goes only
// to the patron it is held for; copies reserved before assignees were
// recorded go to any patron holding the title.
func lendableTo(item model.Item, title model.Title, p model.Patron) bool {
	switch item.Status {
	case model.ItemAvailable:
		return true
	case model.ItemReserved:
		if item.ReservedFor != "" {
			return item.ReservedFor == p.ID
		}
		return p.HoldIndex(title.ID) >= 0
	default:
		return false
	}
}

// Decision is the outcome of a fine prompt at checkin.
type Decision int

// Fine decisions.
const (
	DecisionNone Decision = iota
	DecisionPayNow
	DecisionDefer
	DecisionCancel
)

func (d Decision) String() string {
	switch d {
	case DecisionPayNow:
		return "pay now"
	case DecisionDefer:
		return "defer"
	case DecisionCancel:
		return "cancel"
	default:
		return "none"
	}
}

// FineNotice is what a FineDecider is asked to settle.
type FineNotice struct {
	Amount   decimal.Decimal
	Patron   model.Patron
	Loan     model.Loan
	DaysLate int
}

// FineDecider settles a late return's fine before the return completes.
type FineDecider interface {
	DecideFine(ctx context.Context, notice FineNotice) (Decision, error)
}

// FineDeciderFunc adapts a function to FineDecider.
type FineDeciderFunc func(ctx context.Context, notice FineNotice) (Decision, error)

// DecideFine implements FineDecider.
func (f FineDeciderFunc) DecideFine(ctx context.Context, notice FineNotice) (Decision, error) {
	return f(ctx, notice)
}

// CheckinResult describes a completed return.
type CheckinResult struct {
	Fine     decimal.Decimal
	PatronID string
	TitleID  string
	// Notified is the patron the returned copy is now held for, if any.
	Notified string
	Loan     model.Loan
	Decision Decision
	DaysLate int
}

// Checkin returns the item on loan under code, which is a barcode or, for old
// loans, a book title. A late return consults decider; a nil decider defers
// the fine to the patron's balance.
func (e *Engine) Checkin(ctx context.Context, code string, decider FineDecider) (CheckinResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ref, ok := e.store.FindActiveLoan(code)
	if !ok {
		return CheckinResult{}, fmt.Errorf("%q: %w", code, ErrLoanNotFound)
	}
	p, ok := e.store.Patron(ref.PatronID)
	if !ok {
		return CheckinResult{}, fmt.Errorf("%s: %w", ref.PatronID, ErrPatronNotFound)
	}

	today := e.Today()
	loan := ref.Loan
	result := CheckinResult{
		PatronID: p.ID,
		DaysLate: DaysLate(loan.DueDate, today),
	}
	result.Fine = e.config.FineFor(result.DaysLate)

	if result.Fine.IsPositive() {
		result.Decision = DecisionDefer
		if decider != nil {
			decision, err := decider.DecideFine(ctx, FineNotice{
				Patron:   p,
				Loan:     loan,
				DaysLate: result.DaysLate,
				Amount:   result.Fine,
			})
			if err != nil {
				return CheckinResult{}, fmt.Errorf("fine decision for %s: %w", loan.ID, err)
			}
			result.Decision = decision
		}
		switch result.Decision {
		case DecisionPayNow, DecisionDefer:
		case DecisionCancel:
			return CheckinResult{}, ErrCheckinCancelled
		default:
			return CheckinResult{}, fmt.Errorf("%d for %s: %w", result.Decision, loan.ID, ErrInvalidDecision)
		}
	}

	loan.Status = model.LoanReturned
	loan.ReturnDate = today
	loan.FineAmount = result.Fine
	loan.FinePaid = result.Decision == DecisionPayNow
	p.History[ref.Index] = loan

	if result.Decision == DecisionDefer {
		p.FinesOwed = p.FinesOwed.Add(result.Fine)
		p.FineHistory = append(p.FineHistory, model.FineTransaction{
			ID:           uuid.NewString(),
			Date:         e.now().UTC(),
			Description:  fmt.Sprintf("Overdue: %s (%d days)", loan.BookTitle, result.DaysLate),
			Amount:       result.Fine,
			Type:         model.FineOverdue,
			BalanceAfter: p.FinesOwed,
		})
	}
	result.Loan = loan

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return CheckinResult{}, err
	}

	title, idx, found := e.returnedItem(loan)
	if found {
		result.TitleID = title.ID
		result.Notified = e.shelveOrHold(&title, idx, p.ID)
		if err := e.store.UpdateTitleStatus(ctx, title); err != nil {
			return CheckinResult{}, err
		}
	} else {
		slog.Warn("Returned loan has no catalog item", "loan_id", loan.ID, "code", code)
	}

	slog.Info("Checked in",
		"patron_id", p.ID,
		"barcode", loan.Barcode,
		"days_late", result.DaysLate,
		"fine", result.Fine.String(),
		"decision", result.Decision.String(),
		"notified", result.Notified)
	return result, nil
}

// returnedItem finds the copy a loan refers to.
func (e *Engine) returnedItem(loan model.Loan) (model.Title, int, bool) {
	if loan.Barcode != "" {
		title, item, ok := e.store.FindItem(loan.Barcode)
		if !ok {
			return model.Title{}, -1, false
		}
		return title, title.ItemIndex(item.Barcode), true
	}

	for _, title := range e.store.Titles() {
		if title.Title != loan.BookTitle {
			continue
		}
		for i, item := range title.Items {
			if item.Status == model.ItemCheckedOut {
				return title, i, true
			}
		}
	}
	return model.Title{}, -1, false
}

// shelveOrHold sets the copy at idx to Reserved for the first FIFO holder
// other than except, or to Available. It returns the holder, if any.
func (e *Engine) shelveOrHold(title *model.Title, idx int, except string) string {
	item := &title.Items[idx]
	next := ""
	for _, ref := range e.store.HoldersOf(title.ID) {
		if ref.PatronID != except {
			next = ref.PatronID
			break
		}
	}

	if next == "" {
		item.Status = model.ItemAvailable
		item.ReservedFor = ""
	} else {
		item.Status = model.ItemReserved
		item.ReservedFor = next
		title.ReservationLog = append(title.ReservationLog, model.ReservationLogEntry{
			At:       e.now().UTC(),
			PatronID: next,
			Barcode:  item.Barcode,
			Event:    model.ReservationAssigned,
		})
	}
	title.RefreshStatus()
	return next
}

// Renew extends an open loan by RenewalDays from its current due date.
func (e *Engine) Renew(ctx context.Context, patronID, loanID string) (model.Loan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return model.Loan{}, err
	}

	idx := -1
	for i := range p.History {
		if p.History[i].ID == loanID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Loan{}, fmt.Errorf("%s: %w", loanID, ErrLoanNotFound)
	}

	loan := p.History[idx]
	if !loan.IsOpen() {
		return model.Loan{}, fmt.Errorf("%s: %w", loanID, ErrLoanClosed)
	}
	if e.config.MaxRenewals > 0 && loan.Renewals >= e.config.MaxRenewals {
		return model.Loan{}, fmt.Errorf("%s renewed %d times: %w", loanID, loan.Renewals, ErrRenewalLimit)
	}

	base := loan.DueDate
	if base.IsZero() {
		base = e.Today()
	}
	loan.DueDate = base.AddDays(e.config.RenewalDays)
	loan.Renewals++
	if loan.IsOverdue(e.Today()) {
		loan.Status = model.LoanOverdue
	} else {
		loan.Status = model.LoanActive
	}
	p.History[idx] = loan

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return model.Loan{}, err
	}

	slog.Info("Renewed loan",
		"patron_id", p.ID,
		"loan_id", loan.ID,
		"due", loan.DueDate.Thai())
	return loan, nil
}

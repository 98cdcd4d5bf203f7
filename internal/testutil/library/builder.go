package library

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/circdesk/internal/model"
)

// Builder provides a fluent interface for constructing test snapshots.
// Later entries with an id already present replace the earlier one.
type Builder interface {
	// WithPatron adds a patron with the given options applied.
	WithPatron(id PatronID, name string, opts ...PatronOption) Builder

	// WithTitle adds a title holding the given copies.
	WithTitle(id TitleID, title string, items ...model.Item) Builder

	// WithSubject adds a subject heading.
	WithSubject(id, name string) Builder

	// WithFixture adds everything from a predefined fixture.
	WithFixture(fixture Fixture) Builder

	// Build returns a fresh snapshot. Each call returns independent copies.
	Build() *model.Snapshot
}

// PatronID represents a strongly-typed patron id used in fixtures.
type PatronID string

// String returns the string representation of the patron id.
func (p PatronID) String() string {
	return string(p)
}

// TitleID represents a strongly-typed title id used in fixtures.
type TitleID string

// String returns the string representation of the title id.
func (t TitleID) String() string {
	return string(t)
}

// Common patron ids used across tests.
const (
	PatronActive    PatronID = "P1"
	PatronSecond    PatronID = "P2"
	PatronOwing     PatronID = "P3"
	PatronBorrowing PatronID = "P4"
	PatronExpired   PatronID = "P5"
	PatronSuspended PatronID = "P6"
)

// Common title ids used across tests.
const (
	TitleFourReigns TitleID = "T1"
	TitleLetters    TitleID = "T2"
	TitleSunset     TitleID = "T3"
)

// PatronOption adjusts a patron before it is added.
type PatronOption func(*model.Patron)

// Status sets the membership status.
func Status(status model.PatronStatus) PatronOption {
	return func(p *model.Patron) { p.Status = status }
}

// Expires sets the membership expiry date.
func Expires(date model.Date) PatronOption {
	return func(p *model.Patron) { p.ExpiryDate = date }
}

// Owing records a damage charge of amount so the ledger and balance agree.
func Owing(amount decimal.Decimal) PatronOption {
	return func(p *model.Patron) {
		p.FineHistory = append(p.FineHistory, model.FineTransaction{
			ID:           "F" + strconv.Itoa(len(p.FineHistory)+1),
			Date:         time.Date(2024, 12, 1, 3, 0, 0, 0, time.UTC),
			Amount:       amount,
			BalanceAfter: p.FinesOwed.Add(amount),
			Type:         model.FineDamaged,
			Description:  "Torn cover",
		})
		p.FinesOwed = p.FinesOwed.Add(amount)
	}
}

// Borrowing adds a loan, open unless it carries a status.
func Borrowing(loan model.Loan) PatronOption {
	return func(p *model.Patron) {
		if loan.Status == "" {
			loan.Status = model.LoanActive
		}
		p.History = append(p.History, loan)
	}
}

// Available returns a shelved copy.
func Available(barcode string) model.Item {
	return model.Item{Barcode: barcode, Status: model.ItemAvailable}
}

// CheckedOut returns a copy that is out on loan.
func CheckedOut(barcode string) model.Item {
	return model.Item{Barcode: barcode, Status: model.ItemCheckedOut}
}

// snapshotBuilder implements the Builder interface.
type snapshotBuilder struct {
	patrons  []model.Patron
	titles   []model.Title
	subjects []model.Subject
}

// NewBuilder creates an empty snapshot builder.
func NewBuilder() Builder {
	return &snapshotBuilder{}
}

func (b *snapshotBuilder) WithPatron(id PatronID, name string, opts ...PatronOption) Builder {
	p := model.Patron{ID: id.String(), Name: name, Status: model.PatronActive}
	for _, opt := range opts {
		opt(&p)
	}
	for i := range b.patrons {
		if b.patrons[i].ID == p.ID {
			b.patrons[i] = p
			return b
		}
	}
	b.patrons = append(b.patrons, p)
	return b
}

func (b *snapshotBuilder) WithTitle(id TitleID, title string, items ...model.Item) Builder {
	t := model.Title{ID: id.String(), Title: title, Format: model.FormatBook, Items: items}
	for i := range b.titles {
		if b.titles[i].ID == t.ID {
			b.titles[i] = t
			return b
		}
	}
	b.titles = append(b.titles, t)
	return b
}

func (b *snapshotBuilder) WithSubject(id, name string) Builder {
	b.subjects = append(b.subjects, model.Subject{ID: id, Name: name})
	return b
}

func (b *snapshotBuilder) WithFixture(fixture Fixture) Builder {
	fixture.apply(b)
	return b
}

func (b *snapshotBuilder) Build() *model.Snapshot {
	snapshot := &model.Snapshot{
		Patrons:  make([]model.Patron, 0, len(b.patrons)),
		Titles:   make([]model.Title, 0, len(b.titles)),
		Subjects: append([]model.Subject(nil), b.subjects...),
	}
	for _, p := range b.patrons {
		snapshot.Patrons = append(snapshot.Patrons, p.Clone())
	}
	for _, t := range b.titles {
		snapshot.Titles = append(snapshot.Titles, t.Clone())
	}
	return snapshot
}

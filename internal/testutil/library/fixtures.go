package library

import (
	"github.com/shopspring/decimal"

	"github.com/Veraticus/circdesk/internal/model"
)

// Fixture represents a predefined library state for testing.
type Fixture interface {
	// Name returns the fixture's descriptive name.
	Name() string

	// Description returns what the fixture is for.
	Description() string

	apply(b *snapshotBuilder)
}

// fixture implements the Fixture interface.
type fixture struct {
	seed        func(b Builder)
	name        string
	description string
}

func (f *fixture) Name() string             { return f.name }
func (f *fixture) Description() string      { return f.description }
func (f *fixture) apply(b *snapshotBuilder) { f.seed(b) }

// Predefined fixtures for common test scenarios.
var (
	// FixtureMinimal is two active patrons and one title with a copy on the
	// shelf and a copy out.
	FixtureMinimal Fixture = &fixture{
		name:        "Minimal",
		description: "Two patrons and a single title for store tests",
		seed: func(b Builder) {
			b.WithPatron(PatronActive, "Somchai").
				WithPatron(PatronSecond, "Malee").
				WithTitle(TitleFourReigns, "Four Reigns", Available("B001"), CheckedOut("B002"))
		},
	}

	// FixtureDesk covers every eligibility outcome at the circulation desk.
	FixtureDesk Fixture = &fixture{
		name:        "Desk",
		description: "Patrons in each membership state and titles with free and lent copies",
		seed: func(b Builder) {
			b.WithPatron(PatronActive, "Somchai", Expires(model.NewDate(2026, 3, 31))).
				WithPatron(PatronSecond, "Malee").
				WithPatron(PatronOwing, "Niran", Owing(decimal.NewFromInt(20))).
				WithPatron(PatronBorrowing, "Kanya", Borrowing(model.Loan{
					ID:           "L40",
					Barcode:      "B200",
					BookTitle:    "Sunset at Chaophraya",
					CheckoutDate: model.NewDate(2025, 1, 1),
					DueDate:      model.NewDate(2025, 1, 8),
				})).
				WithPatron(PatronExpired, "Anan", Status(model.PatronExpired)).
				WithPatron(PatronSuspended, "Ploy", Status(model.PatronSuspended)).
				WithTitle(TitleFourReigns, "Four Reigns", Available("B001"), Available("B002")).
				WithTitle(TitleLetters, "Letters from Thailand", Available("B100")).
				WithTitle(TitleSunset, "Sunset at Chaophraya", CheckedOut("B200"))
		},
	}
)

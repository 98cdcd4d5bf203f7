// Package library provides test infrastructure for building library
// snapshots. It offers a fluent API for seeding patrons and titles, plus
// predefined fixtures for common circulation scenarios.
//
// Example usage:
//
//	snapshot := library.NewBuilder().
//		WithFixture(library.FixtureDesk).
//		WithPatron(library.PatronOwing, "Niran", library.Owing(decimal.NewFromInt(20))).
//		Build()
//
//	st := store.New(sheets.NewMockGateway(snapshot), &testutil.RecordingSink{})
package library

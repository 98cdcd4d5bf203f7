package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PatronStatus is the membership state of a patron.
type PatronStatus string

// Patron statuses.
const (
	PatronActive    PatronStatus = "Active"
	PatronSuspended PatronStatus = "Suspended"
	PatronExpired   PatronStatus = "Expired"
)

// LoanStatus is the state of a loan.
type LoanStatus string

// Loan statuses.
const (
	LoanActive   LoanStatus = "Active"
	LoanOverdue  LoanStatus = "Overdue"
	LoanReturned LoanStatus = "Returned"
)

// FineType classifies a ledger entry.
type FineType string

// Fine ledger entry types.
const (
	FineOverdue    FineType = "Overdue"
	FineDamaged    FineType = "Damaged"
	FineLost       FineType = "Lost"
	FinePayment    FineType = "Payment"
	FineAdjustment FineType = "Adjustment"
)

// Loan is the record of one item borrowed by one patron.
type Loan struct {
	CheckoutDate Date            `json:"checkoutDate"`
	DueDate      Date            `json:"dueDate"`
	ReturnDate   Date            `json:"returnDate"`
	FineAmount   decimal.Decimal `json:"fineAmount"`
	ID           string          `json:"id"`
	Barcode      string          `json:"barcode"`
	BookTitle    string          `json:"bookTitle"`
	PatronName   string          `json:"patronName"`
	Status       LoanStatus      `json:"status"`
	Renewals     int             `json:"renewals,omitempty"`
	FinePaid     bool            `json:"finePaid,omitempty"`
}

// IsOpen reports whether the item is still out.
func (l *Loan) IsOpen() bool {
	return l.Status == LoanActive || l.Status == LoanOverdue
}

// IsOverdue reports whether the loan is open and due strictly before today.
func (l *Loan) IsOverdue(today Date) bool {
	return l.IsOpen() && !l.DueDate.IsZero() && l.DueDate.Before(today)
}

// FineTransaction is one entry in a patron's fine ledger.
// Positive amounts are charges and negative amounts are payments.
type FineTransaction struct {
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Type         FineType        `json:"type"`
}

// Hold is a patron's claim on the next available copy of a title.
type Hold struct {
	RequestedAt time.Time `json:"requestedAt"`
	TitleID     string    `json:"titleId"`
}

// Patron is a library member.
type Patron struct {
	ExpiryDate  Date              `json:"expiryDate"`
	FinesOwed   decimal.Decimal   `json:"finesOwed"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type,omitempty"`
	Group       string            `json:"group,omitempty"`
	Status      PatronStatus      `json:"status"`
	History     []Loan            `json:"history"`
	FineHistory []FineTransaction `json:"fineHistory"`
	Holds       []Hold            `json:"reservedItems"`
}

// Clone returns a deep copy of p.
func (p Patron) Clone() Patron {
	c := p
	c.History = append([]Loan(nil), p.History...)
	c.FineHistory = append([]FineTransaction(nil), p.FineHistory...)
	c.Holds = append([]Hold(nil), p.Holds...)
	return c
}

// HasOverdue reports whether any open loan is past due on today.
func (p *Patron) HasOverdue(today Date) bool {
	for i := range p.History {
		if p.History[i].IsOverdue(today) {
			return true
		}
	}
	return false
}

// HoldIndex returns the position of the hold on titleID, or -1.
func (p *Patron) HoldIndex(titleID string) int {
	for i := range p.Holds {
		if p.Holds[i].TitleID == titleID {
			return i
		}
	}
	return -1
}

// ReleaseHold removes the hold on titleID and reports whether one existed.
func (p *Patron) ReleaseHold(titleID string) bool {
	i := p.HoldIndex(titleID)
	if i < 0 {
		return false
	}
	p.Holds = append(p.Holds[:i], p.Holds[i+1:]...)
	return true
}

// LedgerSum returns the sum of all ledger entry amounts.
func (p *Patron) LedgerSum() decimal.Decimal {
	sum := decimal.Zero
	for _, entry := range p.FineHistory {
		sum = sum.Add(entry.Amount)
	}
	return sum
}

// RecomputeBalances orders the ledger chronologically and rewrites every
// BalanceAfter as the running total. It returns the final balance.
func (p *Patron) RecomputeBalances() decimal.Decimal {
	sort.SliceStable(p.FineHistory, func(i, j int) bool {
		return p.FineHistory[i].Date.Before(p.FineHistory[j].Date)
	})

	running := decimal.Zero
	for i := range p.FineHistory {
		running = running.Add(p.FineHistory[i].Amount)
		p.FineHistory[i].BalanceAfter = running
	}
	return running
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

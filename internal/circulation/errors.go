package circulation

import "errors"

// Rejections. No state changes when an operation returns one of these.
var (
	ErrNoPatron          = errors.New("no patron selected")
	ErrPatronNotFound    = errors.New("patron not found")
	ErrMembershipExpired = errors.New("membership expired")
	ErrOutstandingFines  = errors.New("outstanding fines")
	ErrOverdueLoans      = errors.New("overdue loans")
	ErrPatronInactive    = errors.New("patron not active")
	ErrItemNotFound      = errors.New("item not found")
	ErrItemUnavailable   = errors.New("item unavailable")
	ErrLoanNotFound      = errors.New("no active loan matches")
	ErrLoanClosed        = errors.New("loan already returned")
	ErrRenewalLimit      = errors.New("renewal limit reached")
	ErrCheckinCancelled  = errors.New("checkin cancelled")
	ErrTitleNotFound     = errors.New("title not found")
	ErrDuplicateHold     = errors.New("hold already placed")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrNoFinesOwed       = errors.New("no fines owed")
	ErrInvalidFineType   = errors.New("invalid fine type")
	ErrFineEntryNotFound = errors.New("fine entry not found")
	ErrInvalidDecision   = errors.New("invalid fine decision")
	ErrInvalidDueDate    = errors.New("due date is in the past")
)

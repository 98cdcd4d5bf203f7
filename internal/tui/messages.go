package tui

import (
	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/model"
)

// Results of desk operations run off the update loop.
type patronLoadedMsg struct {
	err    error
	patron model.Patron
}

type checkoutDoneMsg struct {
	err  error
	loan model.Loan
}

type checkinDoneMsg struct {
	err    error
	result circulation.CheckinResult
}

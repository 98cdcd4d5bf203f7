package circulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/circdesk/internal/model"
)

type scriptedDecider struct {
	err      error
	notices  []FineNotice
	decision Decision
}

func (s *scriptedDecider) DecideFine(_ context.Context, notice FineNotice) (Decision, error) {
	s.notices = append(s.notices, notice)
	return s.decision, s.err
}

// lateSnapshot gives P1 an open loan on B100 due dueDaysAgo days before
// 10/01/2025.
func lateSnapshot(dueDaysAgo int) *model.Snapshot {
	snapshot := baseSnapshot()
	snapshot.Patrons[0].History = []model.Loan{{
		ID:           "L1",
		Barcode:      "B100",
		BookTitle:    "Letters from Thailand",
		PatronName:   "Somchai",
		CheckoutDate: d(20, 12, 2024),
		DueDate:      d(10, 1, 2025).AddDays(-dueDaysAgo),
		Status:       model.LoanActive,
	}}
	snapshot.Titles[1].Items[0].Status = model.ItemCheckedOut
	return snapshot
}

func TestCheckin_OnTime(t *testing.T) {
	h := newHarness(t, lateSnapshot(0))
	decider := &scriptedDecider{decision: DecisionDefer}

	result, err := h.engine.Checkin(context.Background(), "B100", decider)
	require.NoError(t, err)

	assert.Empty(t, decider.notices, "no prompt without a fine")
	assert.Equal(t, 0, result.DaysLate)
	assert.True(t, result.Fine.IsZero())
	assert.Equal(t, DecisionNone, result.Decision)
	assert.Equal(t, "T2", result.TitleID)
	assert.Empty(t, result.Notified)

	p := h.patron(t, "P1")
	assert.Equal(t, model.LoanReturned, p.History[0].Status)
	assert.Equal(t, "10/01/2568", p.History[0].ReturnDate.Thai())
	assert.True(t, p.FinesOwed.IsZero())
	assert.Empty(t, p.FineHistory)

	assert.Equal(t, model.ItemAvailable, h.item(t, "B100").Status)
	assert.Equal(t, []model.ActionName{model.ActionUpdatePatron, model.ActionUpdateBookStatus}, h.sink.Names())
}

func TestCheckin_DeferredFine(t *testing.T) {
	h := newHarness(t, lateSnapshot(3))
	decider := &scriptedDecider{decision: DecisionDefer}

	result, err := h.engine.Checkin(context.Background(), "B100", decider)
	require.NoError(t, err)

	require.Len(t, decider.notices, 1)
	assert.Equal(t, 3, decider.notices[0].DaysLate)
	assert.True(t, decider.notices[0].Amount.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, "P1", decider.notices[0].Patron.ID)

	assert.Equal(t, DecisionDefer, result.Decision)
	assert.True(t, result.Fine.Equal(decimal.NewFromInt(15)))

	p := h.patron(t, "P1")
	loan := p.History[0]
	assert.Equal(t, model.LoanReturned, loan.Status)
	assert.True(t, loan.FineAmount.Equal(decimal.NewFromInt(15)))
	assert.False(t, loan.FinePaid)

	assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(15)))
	require.Len(t, p.FineHistory, 1)
	entry := p.FineHistory[0]
	assert.Equal(t, model.FineOverdue, entry.Type)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(15)))
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(15)))
	assert.True(t, p.LedgerSum().Equal(p.FinesOwed))
}

func TestCheckin_PayNow(t *testing.T) {
	h := newHarness(t, lateSnapshot(5))

	result, err := h.engine.Checkin(context.Background(), "B100", &scriptedDecider{decision: DecisionPayNow})
	require.NoError(t, err)
	assert.True(t, result.Fine.Equal(decimal.NewFromInt(25)))

	p := h.patron(t, "P1")
	assert.True(t, p.History[0].FineAmount.Equal(decimal.NewFromInt(25)))
	assert.True(t, p.History[0].FinePaid)
	assert.True(t, p.FinesOwed.IsZero())
	assert.Empty(t, p.FineHistory)
}

func TestCheckin_NilDeciderDefers(t *testing.T) {
	h := newHarness(t, lateSnapshot(2))

	result, err := h.engine.Checkin(context.Background(), "B100", nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionDefer, result.Decision)
	assert.True(t, h.patron(t, "P1").FinesOwed.Equal(decimal.NewFromInt(10)))
}

func TestCheckin_CancelLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, lateSnapshot(4))
	before := h.patron(t, "P1")

	_, err := h.engine.Checkin(context.Background(), "B100", &scriptedDecider{decision: DecisionCancel})
	require.ErrorIs(t, err, ErrCheckinCancelled)

	assert.Equal(t, before, h.patron(t, "P1"))
	assert.Equal(t, model.ItemCheckedOut, h.item(t, "B100").Status)
	assert.Empty(t, h.sink.Names())
}

func TestCheckin_UnknownDecisionRejected(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
	}{
		{name: "zero value", decision: DecisionNone},
		{name: "out of range", decision: Decision(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, lateSnapshot(3))
			before := h.patron(t, "P1")

			_, err := h.engine.Checkin(context.Background(), "B100", &scriptedDecider{decision: tt.decision})
			require.ErrorIs(t, err, ErrInvalidDecision)

			assert.Equal(t, before, h.patron(t, "P1"))
			assert.Equal(t, model.LoanActive, h.patron(t, "P1").History[0].Status)
			assert.Equal(t, model.ItemCheckedOut, h.item(t, "B100").Status)
			assert.Empty(t, h.sink.Names())
		})
	}
}

func TestCheckin_DeciderError(t *testing.T) {
	h := newHarness(t, lateSnapshot(4))
	boom := errors.New("terminal closed")

	_, err := h.engine.Checkin(context.Background(), "B100", &scriptedDecider{err: boom})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, h.sink.Names())
}

func TestCheckin_UnknownCode(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Checkin(context.Background(), "NOPE", nil)
	assert.ErrorIs(t, err, ErrLoanNotFound)
	assert.Empty(t, h.sink.Names())
}

func TestCheckin_LegacyTitleLookup(t *testing.T) {
	snapshot := lateSnapshot(0)
	snapshot.Patrons[0].History[0].Barcode = ""
	h := newHarness(t, snapshot)

	result, err := h.engine.Checkin(context.Background(), "Letters from Thailand", nil)
	require.NoError(t, err)
	assert.Equal(t, "P1", result.PatronID)
	assert.Equal(t, "T2", result.TitleID)
	assert.Equal(t, model.ItemAvailable, h.item(t, "B100").Status)
}

func TestCheckin_TwoHoldersOneCopy(t *testing.T) {
	snapshot := lateSnapshot(0)
	first := time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC)
	// P2 sorts first by id but P6 asked first.
	snapshot.Patrons[1].Holds = []model.Hold{{TitleID: "T2", RequestedAt: first.Add(time.Hour)}}
	snapshot.Patrons[5].Holds = []model.Hold{{TitleID: "T2", RequestedAt: first}}
	h := newHarness(t, snapshot)

	result, err := h.engine.Checkin(context.Background(), "B100", nil)
	require.NoError(t, err)
	assert.Equal(t, "P6", result.Notified)

	item := h.item(t, "B100")
	assert.Equal(t, model.ItemReserved, item.Status)
	assert.Equal(t, "P6", item.ReservedFor)

	title, _ := h.store.Title("T2")
	assert.Equal(t, model.ItemReserved, title.Status)
	require.Len(t, title.ReservationLog, 1)
	assert.Equal(t, model.ReservationAssigned, title.ReservationLog[0].Event)
	assert.Equal(t, "P6", title.ReservationLog[0].PatronID)

	// The other holder keeps their place in the queue.
	assert.Len(t, h.patron(t, "P2").Holds, 1)
}

func TestCheckin_TiedHoldsBreakByPatronID(t *testing.T) {
	snapshot := lateSnapshot(0)
	at := time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC)
	snapshot.Patrons[5].Holds = []model.Hold{{TitleID: "T2", RequestedAt: at}}
	snapshot.Patrons[1].Holds = []model.Hold{{TitleID: "T2", RequestedAt: at}}

	for i := 0; i < 5; i++ {
		h := newHarness(t, snapshot)
		result, err := h.engine.Checkin(context.Background(), "B100", nil)
		require.NoError(t, err)
		assert.Equal(t, "P2", result.Notified)
	}
}

func TestCheckin_ReturnersOwnHoldIgnored(t *testing.T) {
	snapshot := lateSnapshot(0)
	snapshot.Patrons[0].Holds = []model.Hold{{TitleID: "T2", RequestedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}}
	h := newHarness(t, snapshot)

	result, err := h.engine.Checkin(context.Background(), "B100", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Notified)
	assert.Equal(t, model.ItemAvailable, h.item(t, "B100").Status)
}

func TestCheckin_OverdueStatusLoan(t *testing.T) {
	snapshot := lateSnapshot(1)
	snapshot.Patrons[0].History[0].Status = model.LoanOverdue
	h := newHarness(t, snapshot)

	result, err := h.engine.Checkin(context.Background(), "B100", &scriptedDecider{decision: DecisionPayNow})
	require.NoError(t, err)
	assert.Equal(t, model.LoanReturned, result.Loan.Status)
	assert.True(t, result.Fine.Equal(decimal.NewFromInt(5)))
}

func TestCheckin_SecondCheckinFails(t *testing.T) {
	h := newHarness(t, lateSnapshot(0))
	ctx := context.Background()

	_, err := h.engine.Checkin(ctx, "B100", nil)
	require.NoError(t, err)

	_, err = h.engine.Checkin(ctx, "B100", nil)
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestCheckoutThenCheckinRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Checkout(ctx, CheckoutRequest{PatronID: "P2", Barcode: "B002"})
	require.NoError(t, err)

	h.setNow(time.Date(2025, 1, 20, 9, 0, 0, 0, ict))
	result, err := h.engine.Checkin(ctx, "B002", FineDeciderFunc(func(context.Context, FineNotice) (Decision, error) {
		return DecisionDefer, nil
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, result.DaysLate)
	assert.True(t, h.patron(t, "P2").FinesOwed.Equal(decimal.NewFromInt(15)))

	_, err = h.engine.Checkout(ctx, CheckoutRequest{PatronID: "P2", Barcode: "B002"})
	assert.ErrorIs(t, err, ErrOutstandingFines)
}

package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/circdesk/internal/model"
)

func TestPayFine(t *testing.T) {
	h := newHarness(t, nil)

	entry, err := h.engine.PayFine(context.Background(), "P3", decimal.NewFromInt(8), "Cash at desk")
	require.NoError(t, err)

	assert.Equal(t, model.FinePayment, entry.Type)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-8)))
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, "Cash at desk", entry.Description)

	p := h.patron(t, "P3")
	assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(12)))
	require.Len(t, p.FineHistory, 2)
	assert.True(t, p.LedgerSum().Equal(p.FinesOwed))
	assert.Equal(t, []model.ActionName{model.ActionUpdatePatron}, h.sink.Names())
}

func TestPayFine_OverpaymentAppliesOnlyBalance(t *testing.T) {
	h := newHarness(t, nil)

	entry, err := h.engine.PayFine(context.Background(), "P3", decimal.NewFromInt(50), "")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, "Payment", entry.Description)

	p := h.patron(t, "P3")
	assert.True(t, p.FinesOwed.IsZero())
	assert.True(t, p.LedgerSum().IsZero())
}

func TestPayFine_Rejections(t *testing.T) {
	tests := []struct {
		wantErr  error
		amount   decimal.Decimal
		name     string
		patronID string
	}{
		{name: "zero amount", patronID: "P3", amount: decimal.Zero, wantErr: ErrInvalidAmount},
		{name: "negative amount", patronID: "P3", amount: decimal.NewFromInt(-5), wantErr: ErrInvalidAmount},
		{name: "nothing owed", patronID: "P1", amount: decimal.NewFromInt(5), wantErr: ErrNoFinesOwed},
		{name: "unknown patron", patronID: "P9", amount: decimal.NewFromInt(5), wantErr: ErrPatronNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			_, err := h.engine.PayFine(context.Background(), tt.patronID, tt.amount, "")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.sink.Names())
		})
	}
}

func TestChargeFine(t *testing.T) {
	h := newHarness(t, nil)

	entry, err := h.engine.ChargeFine(context.Background(), "P1", decimal.NewFromInt(120), model.FineLost, "Lost: Four Reigns")
	require.NoError(t, err)
	assert.Equal(t, model.FineLost, entry.Type)
	assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(120)))

	p := h.patron(t, "P1")
	assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(120)))
	assert.True(t, p.LedgerSum().Equal(p.FinesOwed))
}

func TestChargeFine_DefaultsToAdjustment(t *testing.T) {
	h := newHarness(t, nil)

	entry, err := h.engine.ChargeFine(context.Background(), "P1", decimal.NewFromInt(3), "", "")
	require.NoError(t, err)
	assert.Equal(t, model.FineAdjustment, entry.Type)
	assert.Equal(t, "Adjustment", entry.Description)
}

func TestChargeFine_Rejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.ChargeFine(ctx, "P1", decimal.NewFromInt(3), model.FinePayment, "")
	assert.ErrorIs(t, err, ErrInvalidFineType)

	_, err = h.engine.ChargeFine(ctx, "P1", decimal.NewFromInt(3), "Bogus", "")
	assert.ErrorIs(t, err, ErrInvalidFineType)

	_, err = h.engine.ChargeFine(ctx, "P1", decimal.Zero, "", "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.Empty(t, h.sink.Names())
}

func TestPaymentThenAdjustmentRestoresBalance(t *testing.T) {
	amounts := []int64{1, 7, 20}

	for _, x := range amounts {
		h := newHarness(t, nil)
		ctx := context.Background()
		amount := decimal.NewFromInt(x)

		_, err := h.engine.PayFine(ctx, "P3", amount, "")
		require.NoError(t, err)
		_, err = h.engine.ChargeFine(ctx, "P3", amount, model.FineAdjustment, "Reversal")
		require.NoError(t, err)

		p := h.patron(t, "P3")
		assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(20)), "x=%d", x)
		assert.True(t, p.LedgerSum().Equal(p.FinesOwed), "x=%d", x)
	}
}

func TestDeleteFineEntry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.setNow(time.Date(2025, 1, 10, 9, 0, 0, 0, ict))
	charge, err := h.engine.ChargeFine(ctx, "P3", decimal.NewFromInt(10), model.FineDamaged, "Water damage")
	require.NoError(t, err)

	h.setNow(time.Date(2025, 1, 10, 11, 0, 0, 0, ict))
	_, err = h.engine.PayFine(ctx, "P3", decimal.NewFromInt(5), "")
	require.NoError(t, err)

	p, err := h.engine.DeleteFineEntry(ctx, "P3", charge.ID)
	require.NoError(t, err)

	assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(15)))
	require.Len(t, p.FineHistory, 2)
	assert.True(t, p.FineHistory[0].BalanceAfter.Equal(decimal.NewFromInt(20)))
	assert.True(t, p.FineHistory[1].BalanceAfter.Equal(decimal.NewFromInt(15)))
	assert.True(t, p.LedgerSum().Equal(p.FinesOwed))

	stored := h.patron(t, "P3")
	assert.Equal(t, p, stored)
}

func TestDeleteFineEntry_PaymentRaisesBalance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	payment, err := h.engine.PayFine(ctx, "P3", decimal.NewFromInt(20), "")
	require.NoError(t, err)
	require.True(t, h.patron(t, "P3").FinesOwed.IsZero())

	p, err := h.engine.DeleteFineEntry(ctx, "P3", payment.ID)
	require.NoError(t, err)
	assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(20)))
}

func TestDeleteFineEntry_Unknown(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.DeleteFineEntry(context.Background(), "P3", "nope")
	assert.ErrorIs(t, err, ErrFineEntryNotFound)
	assert.Empty(t, h.sink.Names())
}

func TestReconcile(t *testing.T) {
	snapshot := baseSnapshot()
	// Stored balance drifted away from a ledger of 20 + 5.
	snapshot.Patrons[2].FinesOwed = decimal.NewFromInt(40)
	snapshot.Patrons[2].FineHistory = append(snapshot.Patrons[2].FineHistory, model.FineTransaction{
		ID:           "F2",
		Date:         time.Date(2024, 12, 5, 3, 0, 0, 0, time.UTC),
		Amount:       decimal.NewFromInt(5),
		BalanceAfter: decimal.NewFromInt(99),
		Type:         model.FineOverdue,
	})
	h := newHarness(t, snapshot)
	ctx := context.Background()

	report, err := h.engine.Reconcile(ctx, "P3")
	require.NoError(t, err)
	assert.True(t, report.Changed)
	assert.True(t, report.Before.Equal(decimal.NewFromInt(40)))
	assert.True(t, report.After.Equal(decimal.NewFromInt(25)))
	assert.True(t, report.Drift().Equal(decimal.NewFromInt(15)))

	p := h.patron(t, "P3")
	assert.True(t, p.FinesOwed.Equal(decimal.NewFromInt(25)))
	assert.True(t, p.FineHistory[1].BalanceAfter.Equal(decimal.NewFromInt(25)))

	// A consistent ledger needs no write.
	report, err = h.engine.Reconcile(ctx, "P3")
	require.NoError(t, err)
	assert.False(t, report.Changed)
	assert.Len(t, h.sink.Names(), 1)
}

func TestReconcileAll(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Patrons[2].FinesOwed = decimal.NewFromInt(30)
	snapshot.Patrons[0].FinesOwed = decimal.NewFromInt(5)
	h := newHarness(t, snapshot)

	reports, err := h.engine.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "P1", reports[0].PatronID)
	assert.Equal(t, "P3", reports[1].PatronID)

	assert.True(t, h.patron(t, "P1").FinesOwed.IsZero())
	assert.True(t, h.patron(t, "P3").FinesOwed.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, []model.ActionName{model.ActionUpdatePatronsBatch}, h.sink.Names())
}

func TestReconcileAll_NothingToDo(t *testing.T) {
	h := newHarness(t, nil)

	reports, err := h.engine.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Empty(t, h.sink.Names())
}

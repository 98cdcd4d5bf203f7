package circulation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/circdesk/internal/model"
)

// PayFine records a payment against a patron's balance. Payments larger than
// the balance are applied only up to the balance, and the ledger entry
// records the amount actually applied.
func (e *Engine) PayFine(ctx context.Context, patronID string, amount decimal.Decimal, note string) (model.FineTransaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return model.FineTransaction{}, ErrInvalidAmount
	}
	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return model.FineTransaction{}, err
	}
	if !p.FinesOwed.IsPositive() {
		return model.FineTransaction{}, fmt.Errorf("%s: %w", p.Name, ErrNoFinesOwed)
	}

	applied := decimal.Min(amount, p.FinesOwed)
	if note == "" {
		note = "Payment"
	}
	p.FinesOwed = p.FinesOwed.Sub(applied)
	entry := model.FineTransaction{
		ID:           uuid.NewString(),
		Date:         e.now().UTC(),
		Description:  note,
		Amount:       applied.Neg(),
		Type:         model.FinePayment,
		BalanceAfter: p.FinesOwed,
	}
	p.FineHistory = append(p.FineHistory, entry)

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return model.FineTransaction{}, err
	}

	slog.Info("Fine paid",
		"patron_id", p.ID,
		"applied", applied.String(),
		"balance", p.FinesOwed.String())
	return entry, nil
}

// ChargeFine adds a charge to a patron's balance. An empty fineType records
// an Adjustment.
func (e *Engine) ChargeFine(ctx context.Context, patronID string, amount decimal.Decimal, fineType model.FineType, description string) (model.FineTransaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !amount.IsPositive() {
		return model.FineTransaction{}, ErrInvalidAmount
	}
	switch fineType {
	case "":
		fineType = model.FineAdjustment
	case model.FineOverdue, model.FineDamaged, model.FineLost, model.FineAdjustment:
	default:
		return model.FineTransaction{}, fmt.Errorf("%q: %w", fineType, ErrInvalidFineType)
	}

	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return model.FineTransaction{}, err
	}
	if description == "" {
		description = string(fineType)
	}

	p.FinesOwed = p.FinesOwed.Add(amount)
	entry := model.FineTransaction{
		ID:           uuid.NewString(),
		Date:         e.now().UTC(),
		Description:  description,
		Amount:       amount,
		Type:         fineType,
		BalanceAfter: p.FinesOwed,
	}
	p.FineHistory = append(p.FineHistory, entry)

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return model.FineTransaction{}, err
	}

	slog.Info("Fine charged",
		"patron_id", p.ID,
		"type", fineType,
		"amount", amount.String(),
		"balance", p.FinesOwed.String())
	return entry, nil
}

// DeleteFineEntry removes a ledger entry, reverses its effect on the balance
// and recomputes the running balances of the remaining entries.
func (e *Engine) DeleteFineEntry(ctx context.Context, patronID, entryID string) (model.Patron, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return model.Patron{}, err
	}

	idx := -1
	for i := range p.FineHistory {
		if p.FineHistory[i].ID == entryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Patron{}, fmt.Errorf("%s: %w", entryID, ErrFineEntryNotFound)
	}

	removed := p.FineHistory[idx]
	p.FineHistory = append(p.FineHistory[:idx], p.FineHistory[idx+1:]...)
	p.FinesOwed = model.ClampZero(p.FinesOwed.Sub(removed.Amount))
	p.RecomputeBalances()

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return model.Patron{}, err
	}

	slog.Info("Fine entry deleted",
		"patron_id", p.ID,
		"entry_id", entryID,
		"amount", removed.Amount.String(),
		"balance", p.FinesOwed.String())
	return p, nil
}

// ReconcileReport describes a balance correction.
type ReconcileReport struct {
	Before   decimal.Decimal
	After    decimal.Decimal
	PatronID string
	Changed  bool
}

// Drift is how far the stored balance was from the ledger.
func (r ReconcileReport) Drift() decimal.Decimal {
	return r.Before.Sub(r.After)
}

// Reconcile rebuilds a patron's running balances from the ledger and resets
// FinesOwed to the ledger total.
func (e *Engine) Reconcile(ctx context.Context, patronID string) (ReconcileReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := reconcile(&p)
	if report.Changed {
		if err := e.store.UpdatePatron(ctx, p); err != nil {
			return ReconcileReport{}, err
		}
	}
	return report, nil
}

// ReconcileAll reconciles every patron and persists the changed ones in one
// batch. It returns reports for the patrons that changed.
func (e *Engine) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var reports []ReconcileReport
	var changed []model.Patron
	for _, p := range e.store.Patrons() {
		report := reconcile(&p)
		if !report.Changed {
			continue
		}
		reports = append(reports, report)
		changed = append(changed, p)
	}

	if err := e.store.UpdatePatronsBatch(ctx, changed); err != nil {
		return nil, err
	}
	if len(reports) > 0 {
		slog.Info("Reconciled fine balances", "patrons", len(reports))
	}
	return reports, nil
}

func reconcile(p *model.Patron) ReconcileReport {
	report := ReconcileReport{
		PatronID: p.ID,
		Before:   p.FinesOwed,
	}

	previous := make([]decimal.Decimal, len(p.FineHistory))
	for i := range p.FineHistory {
		previous[i] = p.FineHistory[i].BalanceAfter
	}
	ids := make([]string, len(p.FineHistory))
	for i := range p.FineHistory {
		ids[i] = p.FineHistory[i].ID
	}

	report.After = model.ClampZero(p.RecomputeBalances())
	p.FinesOwed = report.After

	report.Changed = !report.Before.Equal(report.After)
	for i := range p.FineHistory {
		if p.FineHistory[i].ID != ids[i] || !p.FineHistory[i].BalanceAfter.Equal(previous[i]) {
			report.Changed = true
			break
		}
	}
	return report
}

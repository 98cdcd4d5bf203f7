package circulation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/circdesk/internal/model"
	"github.com/Veraticus/circdesk/internal/store"
)

// PlaceHold queues a patron for the next copy of a title.
func (e *Engine) PlaceHold(ctx context.Context, patronID, titleID string) (model.Hold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return model.Hold{}, err
	}
	title, ok := e.store.Title(titleID)
	if !ok {
		return model.Hold{}, fmt.Errorf("%s: %w", titleID, ErrTitleNotFound)
	}
	if p.HoldIndex(titleID) >= 0 {
		return model.Hold{}, fmt.Errorf("%s on %s: %w", p.Name, title.Title, ErrDuplicateHold)
	}

	now := e.now().UTC()
	hold := model.Hold{TitleID: titleID, RequestedAt: now}
	p.Holds = append(p.Holds, hold)
	title.ReservationLog = append(title.ReservationLog, model.ReservationLogEntry{
		At:       now,
		PatronID: p.ID,
		Event:    model.ReservationPlaced,
	})

	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return model.Hold{}, err
	}
	if err := e.store.UpdateTitleStatus(ctx, title); err != nil {
		return model.Hold{}, err
	}

	slog.Info("Hold placed", "patron_id", p.ID, "title_id", titleID)
	return hold, nil
}

// CancelHold removes a patron's hold. A copy already reserved for the patron
// passes to the next holder or back to the shelf.
func (e *Engine) CancelHold(ctx context.Context, patronID, titleID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.lookup(ctx, patronID)
	if err != nil {
		return err
	}
	if !p.ReleaseHold(titleID) {
		return fmt.Errorf("%s on %s: %w", p.ID, titleID, ErrHoldNotFound)
	}
	if err := e.store.UpdatePatron(ctx, p); err != nil {
		return err
	}

	title, ok := e.store.Title(titleID)
	if !ok {
		return nil
	}
	title.ReservationLog = append(title.ReservationLog, model.ReservationLogEntry{
		At:       e.now().UTC(),
		PatronID: p.ID,
		Event:    model.ReservationCancelled,
	})
	for i := range title.Items {
		if title.Items[i].Status == model.ItemReserved && title.Items[i].ReservedFor == p.ID {
			if next := e.shelveOrHold(&title, i, p.ID); next != "" {
				slog.Info("Reserved copy passed to next holder",
					"title_id", titleID,
					"barcode", title.Items[i].Barcode,
					"patron_id", next)
			}
		}
	}
	if err := e.store.UpdateTitleStatus(ctx, title); err != nil {
		return err
	}

	slog.Info("Hold cancelled", "patron_id", p.ID, "title_id", titleID)
	return nil
}

// HoldQueue returns the holds on a title, oldest first.
func (e *Engine) HoldQueue(titleID string) ([]store.HoldRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.store.Title(titleID); !ok {
		return nil, fmt.Errorf("%s: %w", titleID, ErrTitleNotFound)
	}
	return e.store.HoldersOf(titleID), nil
}

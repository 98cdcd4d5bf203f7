package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemStatus is the circulation state of a single copy.
type ItemStatus string

// Item statuses.
const (
	ItemAvailable  ItemStatus = "Available"
	ItemCheckedOut ItemStatus = "CheckedOut"
	ItemLost       ItemStatus = "Lost"
	ItemReserved   ItemStatus = "Reserved"
	ItemRepair     ItemStatus = "Repair"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemAvailable, ItemCheckedOut, ItemLost, ItemReserved, ItemRepair:
		return true
	}
	return false
}

// Format describes the medium of a title.
type Format string

// Title formats.
const (
	FormatBook    Format = "Book"
	FormatJournal Format = "Journal"
	FormatDigital Format = "Digital"
)

// Item is one physical or digital copy of a title, tracked by barcode.
type Item struct {
	AcquiredOn  Date                `json:"acquiredDate"`
	Price       decimal.NullDecimal `json:"price"`
	Barcode     string              `json:"barcode"`
	Status      ItemStatus          `json:"status"`
	Location    string              `json:"location,omitempty"`
	CallNumber  string              `json:"callNumber,omitempty"`
	ReservedFor string              `json:"reservedFor,omitempty"` // patron id while Reserved
}

// ReservationLogEntry records a hold-related event against a title.
type ReservationLogEntry struct {
	At       time.Time `json:"at"`
	PatronID string    `json:"patronId"`
	Barcode  string    `json:"barcode,omitempty"`
	Event    string    `json:"event"`
}

// Reservation log events.
const (
	ReservationPlaced    = "placed"
	ReservationCancelled = "cancelled"
	ReservationAssigned  = "assigned"
	ReservationFulfilled = "fulfilled"
)

// Title is a bibliographic record and the copies that belong to it.
type Title struct {
	Marc           map[string]string     `json:"marcData,omitempty"`
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	Author         string                `json:"author"`
	ISBN           string                `json:"isbn,omitempty"`
	CallNumber     string                `json:"callNumber,omitempty"`
	Format         Format                `json:"format"`
	Status         ItemStatus            `json:"status"`
	Items          []Item                `json:"items"`
	ReservationLog []ReservationLogEntry `json:"reservationHistory,omitempty"`
}

// ItemIndex returns the position of the item with barcode, or -1.
func (t *Title) ItemIndex(barcode string) int {
	for i := range t.Items {
		if t.Items[i].Barcode == barcode {
			return i
		}
	}
	return -1
}

// RefreshStatus recomputes the aggregate status from the items.
// A title is Available if any copy is, then Reserved, then CheckedOut;
// otherwise it takes the status of its first copy.
func (t *Title) RefreshStatus() {
	if len(t.Items) == 0 {
		if t.Status == "" {
			t.Status = ItemAvailable
		}
		return
	}

	seen := make(map[ItemStatus]bool, len(t.Items))
	for _, item := range t.Items {
		seen[item.Status] = true
	}
	for _, s := range []ItemStatus{ItemAvailable, ItemReserved, ItemCheckedOut} {
		if seen[s] {
			t.Status = s
			return
		}
	}
	t.Status = t.Items[0].Status
}

// Clone returns a deep copy of t.
func (t Title) Clone() Title {
	c := t
	c.Items = append([]Item(nil), t.Items...)
	c.ReservationLog = append([]ReservationLogEntry(nil), t.ReservationLog...)
	if t.Marc != nil {
		c.Marc = make(map[string]string, len(t.Marc))
		for k, v := range t.Marc {
			c.Marc[k] = v
		}
	}
	return c
}

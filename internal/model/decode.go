package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

// This file is the single place where loosely typed gateway data becomes
// strict model values. Spreadsheet-backed gateways hand back numbers as
// strings, ids as numbers, and nested collections either as JSON or as a
// string holding serialized JSON.

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalPayload encodes v for use as an action payload or a stored row.
func MarshalPayload(v any) (json.RawMessage, error) {
	data, err := wireJSON.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var str string
		if err := wireJSON.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(str))
	default:
		*s = flexString(string(data))
	}
	return nil
}

type wireItem struct {
	AcquiredOn  json.RawMessage `json:"acquiredDate"`
	Price       json.RawMessage `json:"price"`
	Barcode     flexString      `json:"barcode"`
	Status      string          `json:"status"`
	Location    string          `json:"location"`
	CallNumber  flexString      `json:"callNumber"`
	ReservedFor flexString      `json:"reservedFor"`
}

type wireTitle struct {
	Items          json.RawMessage `json:"items"`
	Marc           json.RawMessage `json:"marcData"`
	ReservationLog json.RawMessage `json:"reservationHistory"`
	ID             flexString      `json:"id"`
	Title          string          `json:"title"`
	Author         string          `json:"author"`
	ISBN           flexString      `json:"isbn"`
	CallNumber     flexString      `json:"callNumber"`
	Format         string          `json:"format"`
	Status         string          `json:"status"`
}

type wireLoan struct {
	CheckoutDate json.RawMessage `json:"checkoutDate"`
	DueDate      json.RawMessage `json:"dueDate"`
	ReturnDate   json.RawMessage `json:"returnDate"`
	FineAmount   json.RawMessage `json:"fineAmount"`
	ID           flexString      `json:"id"`
	Barcode      flexString      `json:"barcode"`
	BookTitle    string          `json:"bookTitle"`
	PatronName   string          `json:"patronName"`
	Status       string          `json:"status"`
	Renewals     int             `json:"renewals"`
	FinePaid     bool            `json:"finePaid"`
}

type wireFine struct {
	Date         json.RawMessage `json:"date"`
	Amount       json.RawMessage `json:"amount"`
	BalanceAfter json.RawMessage `json:"balanceAfter"`
	ID           flexString      `json:"id"`
	Description  string          `json:"description"`
	Type         string          `json:"type"`
}

type wireHold struct {
	RequestedAt json.RawMessage `json:"requestedAt"`
	TitleID     flexString      `json:"titleId"`
	ID          flexString      `json:"id"`
}

type wirePatron struct {
	ExpiryDate  json.RawMessage `json:"expiryDate"`
	FinesOwed   json.RawMessage `json:"finesOwed"`
	History     json.RawMessage `json:"history"`
	FineHistory json.RawMessage `json:"fineHistory"`
	Holds       json.RawMessage `json:"reservedItems"`
	ID          flexString      `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Group       string          `json:"group"`
	Status      string          `json:"status"`
}

type wireSnapshot struct {
	Titles              json.RawMessage `json:"books"`
	Patrons             json.RawMessage `json:"patrons"`
	Subjects            json.RawMessage `json:"subjects"`
	AcquisitionRequests json.RawMessage `json:"acquisitions"`
	MarcTagDefinitions  json.RawMessage `json:"marcTags"`
}

// DecodeSnapshot normalizes a full gateway payload.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var wire wireSnapshot
	if err := wireJSON.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	titles, err := decodeList(wire.Titles, DecodeTitle)
	if err != nil {
		return nil, fmt.Errorf("books: %w", err)
	}
	patrons, err := decodeList(wire.Patrons, DecodePatron)
	if err != nil {
		return nil, fmt.Errorf("patrons: %w", err)
	}
	subjects, err := decodeList(wire.Subjects, decodeStrict[Subject])
	if err != nil {
		return nil, fmt.Errorf("subjects: %w", err)
	}
	requests, err := decodeList(wire.AcquisitionRequests, decodeStrict[AcquisitionRequest])
	if err != nil {
		return nil, fmt.Errorf("acquisitions: %w", err)
	}
	tags, err := decodeList(wire.MarcTagDefinitions, decodeStrict[MarcTagDefinition])
	if err != nil {
		return nil, fmt.Errorf("marc tags: %w", err)
	}

	return &Snapshot{
		Titles:              titles,
		Patrons:             patrons,
		Subjects:            subjects,
		AcquisitionRequests: requests,
		MarcTagDefinitions:  tags,
	}, nil
}

// DecodeTitle normalizes one title record.
func DecodeTitle(data []byte) (Title, error) {
	var wire wireTitle
	if err := wireJSON.Unmarshal(unwrapSerialized(data), &wire); err != nil {
		return Title{}, fmt.Errorf("failed to decode title: %w", err)
	}
	if wire.ID == "" {
		return Title{}, fmt.Errorf("title %q has no id", wire.Title)
	}

	items, err := decodeList(wire.Items, decodeItem)
	if err != nil {
		return Title{}, fmt.Errorf("title %s items: %w", wire.ID, err)
	}
	logEntries, err := decodeList(wire.ReservationLog, decodeStrict[ReservationLogEntry])
	if err != nil {
		return Title{}, fmt.Errorf("title %s reservation history: %w", wire.ID, err)
	}

	var marc map[string]string
	if raw := unwrapSerialized(wire.Marc); !isEmptyJSON(raw) {
		if err := wireJSON.Unmarshal(raw, &marc); err != nil {
			return Title{}, fmt.Errorf("title %s marc data: %w", wire.ID, err)
		}
	}

	title := Title{
		ID:             string(wire.ID),
		Title:          wire.Title,
		Author:         wire.Author,
		ISBN:           string(wire.ISBN),
		CallNumber:     string(wire.CallNumber),
		Format:         Format(wire.Format),
		Status:         ItemStatus(wire.Status),
		Items:          items,
		Marc:           marc,
		ReservationLog: logEntries,
	}
	if title.Format == "" {
		title.Format = FormatBook
	}
	title.RefreshStatus()
	return title, nil
}

func decodeItem(data []byte) (Item, error) {
	var wire wireItem
	if err := wireJSON.Unmarshal(data, &wire); err != nil {
		return Item{}, err
	}
	if wire.Barcode == "" {
		return Item{}, fmt.Errorf("item without barcode")
	}

	acquired, err := decodeDate(wire.AcquiredOn)
	if err != nil {
		return Item{}, fmt.Errorf("item %s: %w", wire.Barcode, err)
	}
	price, err := decodeDecimal(wire.Price)
	if err != nil {
		return Item{}, fmt.Errorf("item %s price: %w", wire.Barcode, err)
	}

	item := Item{
		Barcode:     string(wire.Barcode),
		Status:      ItemStatus(wire.Status),
		Location:    wire.Location,
		CallNumber:  string(wire.CallNumber),
		ReservedFor: string(wire.ReservedFor),
		AcquiredOn:  acquired,
	}
	if !isEmptyJSON(wire.Price) {
		item.Price = decimal.NewNullDecimal(price)
	}
	if item.Status == "" {
		item.Status = ItemAvailable
	}
	if !item.Status.Valid() {
		return Item{}, fmt.Errorf("item %s has unknown status %q", item.Barcode, item.Status)
	}
	return item, nil
}

// DecodePatron normalizes one patron record.
func DecodePatron(data []byte) (Patron, error) {
	var wire wirePatron
	if err := wireJSON.Unmarshal(unwrapSerialized(data), &wire); err != nil {
		return Patron{}, fmt.Errorf("failed to decode patron: %w", err)
	}
	if wire.ID == "" {
		return Patron{}, fmt.Errorf("patron %q has no id", wire.Name)
	}

	expiry, err := decodeDate(wire.ExpiryDate)
	if err != nil {
		return Patron{}, fmt.Errorf("patron %s expiry: %w", wire.ID, err)
	}
	owed, err := decodeDecimal(wire.FinesOwed)
	if err != nil {
		return Patron{}, fmt.Errorf("patron %s fines owed: %w", wire.ID, err)
	}
	history, err := decodeList(wire.History, decodeLoan)
	if err != nil {
		return Patron{}, fmt.Errorf("patron %s history: %w", wire.ID, err)
	}
	fines, err := decodeList(wire.FineHistory, decodeFine)
	if err != nil {
		return Patron{}, fmt.Errorf("patron %s fine history: %w", wire.ID, err)
	}
	holds, err := decodeList(wire.Holds, decodeHold)
	if err != nil {
		return Patron{}, fmt.Errorf("patron %s holds: %w", wire.ID, err)
	}

	patron := Patron{
		ID:          string(wire.ID),
		Name:        wire.Name,
		Type:        wire.Type,
		Group:       wire.Group,
		Status:      PatronStatus(wire.Status),
		ExpiryDate:  expiry,
		FinesOwed:   ClampZero(owed),
		History:     history,
		FineHistory: fines,
		Holds:       holds,
	}
	if patron.Status == "" {
		patron.Status = PatronActive
	}
	return patron, nil
}

func decodeLoan(data []byte) (Loan, error) {
	var wire wireLoan
	if err := wireJSON.Unmarshal(data, &wire); err != nil {
		return Loan{}, err
	}

	var loan Loan
	var err error
	if loan.CheckoutDate, err = decodeDate(wire.CheckoutDate); err != nil {
		return Loan{}, fmt.Errorf("loan %s checkout date: %w", wire.ID, err)
	}
	if loan.DueDate, err = decodeDate(wire.DueDate); err != nil {
		return Loan{}, fmt.Errorf("loan %s due date: %w", wire.ID, err)
	}
	if loan.ReturnDate, err = decodeDate(wire.ReturnDate); err != nil {
		return Loan{}, fmt.Errorf("loan %s return date: %w", wire.ID, err)
	}
	if loan.FineAmount, err = decodeDecimal(wire.FineAmount); err != nil {
		return Loan{}, fmt.Errorf("loan %s fine: %w", wire.ID, err)
	}

	loan.ID = string(wire.ID)
	loan.Barcode = string(wire.Barcode)
	loan.BookTitle = wire.BookTitle
	loan.PatronName = wire.PatronName
	loan.Status = LoanStatus(wire.Status)
	loan.Renewals = wire.Renewals
	loan.FinePaid = wire.FinePaid
	if loan.Status == "" {
		loan.Status = LoanActive
	}
	return loan, nil
}

func decodeFine(data []byte) (FineTransaction, error) {
	var wire wireFine
	if err := wireJSON.Unmarshal(data, &wire); err != nil {
		return FineTransaction{}, err
	}

	at, err := decodeTimestamp(wire.Date)
	if err != nil {
		return FineTransaction{}, fmt.Errorf("fine %s date: %w", wire.ID, err)
	}
	amount, err := decodeDecimal(wire.Amount)
	if err != nil {
		return FineTransaction{}, fmt.Errorf("fine %s amount: %w", wire.ID, err)
	}
	balance, err := decodeDecimal(wire.BalanceAfter)
	if err != nil {
		return FineTransaction{}, fmt.Errorf("fine %s balance: %w", wire.ID, err)
	}

	return FineTransaction{
		ID:           string(wire.ID),
		Date:         at,
		Description:  wire.Description,
		Amount:       amount,
		Type:         FineType(wire.Type),
		BalanceAfter: balance,
	}, nil
}

// decodeHold accepts either a bare title id or a hold object.
func decodeHold(data []byte) (Hold, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		var id flexString
		if err := wireJSON.Unmarshal(data, &id); err != nil {
			return Hold{}, err
		}
		return Hold{TitleID: string(id)}, nil
	}

	var wire wireHold
	if err := wireJSON.Unmarshal(data, &wire); err != nil {
		return Hold{}, err
	}
	titleID := wire.TitleID
	if titleID == "" {
		titleID = wire.ID
	}
	if titleID == "" {
		return Hold{}, fmt.Errorf("hold without title id")
	}
	at, err := decodeTimestamp(wire.RequestedAt)
	if err != nil {
		return Hold{}, fmt.Errorf("hold on %s: %w", titleID, err)
	}
	return Hold{TitleID: string(titleID), RequestedAt: at}, nil
}

func decodeStrict[T any](data []byte) (T, error) {
	var v T
	err := wireJSON.Unmarshal(data, &v)
	return v, err
}

func decodeList[T any](raw json.RawMessage, decode func([]byte) (T, error)) ([]T, error) {
	raw = unwrapSerialized(raw)
	if isEmptyJSON(raw) {
		return []T{}, nil
	}

	var elems []json.RawMessage
	if err := wireJSON.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("expected a list: %w", err)
	}

	out := make([]T, 0, len(elems))
	for i, elem := range elems {
		v, err := decode(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) {
		return decimal.Zero, nil
	}
	s := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(strings.ReplaceAll(unquoted, ",", ""))
		if s == "" {
			return decimal.Zero, nil
		}
	}
	return decimal.NewFromString(s)
}

func decodeDate(raw json.RawMessage) (Date, error) {
	var d Date
	if isEmptyJSON(raw) {
		return d, nil
	}
	err := d.UnmarshalJSON(raw)
	return d, err
}

// decodeTimestamp accepts RFC 3339 timestamps and anything ParseDate accepts.
func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if isEmptyJSON(raw) {
		return time.Time{}, nil
	}
	var s string
	if err := wireJSON.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidDate, raw)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Time(), nil
}

// unwrapSerialized returns the inner document when raw is a JSON string
// holding serialized JSON, and raw unchanged otherwise.
func unwrapSerialized(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var inner string
	if err := wireJSON.Unmarshal(raw, &inner); err != nil {
		return raw
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return nil
	}
	if inner[0] == '[' || inner[0] == '{' {
		return json.RawMessage(inner)
	}
	return raw
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

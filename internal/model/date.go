package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BuddhistEraOffset is the difference between the Thai solar year and the Gregorian year.
const BuddhistEraOffset = 543

// ErrInvalidDate is returned when a date string cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

// Date is a calendar date without a time of day.
// It is stored as midnight UTC so that arithmetic is exact in whole days.
type Date struct {
	t time.Time
}

// NewDate returns the date for the given Gregorian year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t as observed in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// Today returns the current date in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc))
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns d as midnight UTC.
func (d Date) Time() time.Time {
	return d.t
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.t.Before(other.t)
}

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool {
	return d.t.After(other.t)
}

// Equal reports whether d and other are the same calendar date.
func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// DaysSince returns the number of whole days from other to d.
// The result is negative when d is before other.
func (d Date) DaysSince(other Date) int {
	return int(d.t.Sub(other.t).Hours() / 24)
}

// Thai formats d as dd/mm/yyyy with a Buddhist Era year.
func (d Date) Thai() string {
	if d.IsZero() {
		return ""
	}
	y, m, day := d.t.Date()
	return fmt.Sprintf("%02d/%02d/%04d", day, int(m), y+BuddhistEraOffset)
}

// ISO formats d as yyyy-mm-dd in the Gregorian calendar.
func (d Date) ISO() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format("2006-01-02")
}

func (d Date) String() string {
	return d.Thai()
}

// ParseThaiDate parses a dd/mm/yyyy string. Years above 2400 are read as
// Buddhist Era years; anything else is taken as Gregorian.
func ParseThaiDate(s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}

	day, dayErr := strconv.Atoi(parts[0])
	month, monthErr := strconv.Atoi(parts[1])
	year, yearErr := strconv.Atoi(parts[2])
	if dayErr != nil || monthErr != nil || yearErr != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if year > 2400 {
		year -= BuddhistEraOffset
	}

	d := NewDate(year, time.Month(month), day)
	// Reject dates that time.Date normalized, like 31/02.
	if d.t.Day() != day || int(d.t.Month()) != month {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// ParseDate accepts the Thai dd/mm/yyyy form, ISO dates and RFC 3339 timestamps.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if strings.Contains(s, "/") {
		return ParseThaiDate(s)
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return DateOf(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// MarshalJSON encodes d in the Thai form, or null when unset.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(d.Thai())), nil
}

// UnmarshalJSON accepts any form understood by ParseDate.
func (d *Date) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*d = Date{}
		return nil
	}
	s, err := strconv.Unquote(raw)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDate, raw)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

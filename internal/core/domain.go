package core

import (
	"errors"
	"fmt"
	"time"
)

const (
	// CupName is the reserved entry name for the default-cup shortcut.
	CupName = "Cup of Water"

	// CupImageRef is the bundled image reference logged with cup entries.
	// The value is opaque to the ledger; clients resolve it themselves.
	CupImageRef = "./glass-of-water.jpg"

	// DefaultDailyGoalML is the daily intake goal used when none is configured.
	DefaultDailyGoalML = 1500
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrNoCupConfigured = errors.New("no cup size configured")
	ErrPersistence     = errors.New("persistence failure")
)

type (
	// Date is a calendar day. Only year, month and day carry meaning;
	// the time-of-day part is always midnight UTC.
	Date struct {
		time.Time
	}

	// Entry is one logged intake event. Entries are immutable once
	// appended; the order of the entry sequence is insertion order.
	Entry struct {
		Name string `json:"name"`
		// Quantity is the millilitres actually counted toward the total.
		Quantity float64 `json:"quantity"`
		// OriginalQuantity is the full serving size as looked up. It is
		// kept so a partial amount can later be reconciled against the
		// source serving; it is never less than Quantity.
		OriginalQuantity float64 `json:"originalQuantity"`
		ImageURL         string  `json:"imageUrl"`
		Date             Date    `json:"date"`
	}
)

// NewDate creates a Date from year, month and day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// DateOf truncates an instant to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// SameDay reports whether two dates fall on the same calendar day.
// Comparison is on year, month and day components only; no time zone
// or time-of-day semantics are involved.
func (d Date) SameDay(o Date) bool {
	return d.Year() == o.Year() && d.Month() == o.Month() && d.Day() == o.Day()
}

// AddDays returns the date shifted by the given number of days,
// rolling over month and year boundaries.
func (d Date) AddDays(days int) Date {
	return DateOf(d.AddDate(0, 0, days))
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// MarshalJSON encodes the date as an ISO-8601 calendar date string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes an ISO-8601 calendar date string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("date must be a JSON string, got %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks the entry's quantity invariants: the counted quantity
// must be non-negative and must not exceed the original serving size.
// Violations are rejected rather than clamped; clamping is the caller's
// job before the entry reaches the ledger.
func (e Entry) Validate() error {
	if e.Quantity < 0 {
		return fmt.Errorf("%w: quantity %v is negative", ErrInvalidQuantity, e.Quantity)
	}
	if e.OriginalQuantity < e.Quantity {
		return fmt.Errorf("%w: original quantity %v is less than quantity %v",
			ErrInvalidQuantity, e.OriginalQuantity, e.Quantity)
	}
	if err := e.Date.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	return nil
}

// TotalOf sums the counted quantities of the given entries. The ledger
// total is always this sum, never an independently stored counter.
func TotalOf(entries []Entry) float64 {
	var total float64
	for _, e := range entries {
		total += e.Quantity
	}
	return total
}

package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day abstraction (due dates, ledger dates)
// =============================================================================

// DateLayout is the wire and storage format for calendar days.
const DateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day and no timezone.
// Due dates, ledger dates and overdue comparisons all work at this
// granularity, so a payment at 23:59 and one at 00:01 land on the same day.
type Date struct {
	t time.Time
}

// NewDate builds a date from its components. Out-of-range days and months
// are normalized the way time.Date does it.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf drops the time-of-day of t, keeping the calendar day as seen in t's
// own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.t.After(other.t) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.t.Before(other.t) }

// Properties
func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// SameMonth reports whether both dates fall in the same calendar month.
func (d Date) SameMonth(other Date) bool {
	return d.Year() == other.Year() && d.Month() == other.Month()
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// CALENDAR ARITHMETIC
// =============================================================================

// AddMonthsClamped moves (year, month) forward by n months, rolling over
// year boundaries, and places the result on day. A day past the end of the
// target month is clamped to its last day (the 31st in February becomes
// the 28th or 29th).
func AddMonthsClamped(year int, month time.Month, n int, day int) Date {
	idx := int(month) - 1 + n
	y := year + floorDiv(idx, 12)
	m := time.Month(floorMod(idx, 12) + 1)

	last := EndOfMonth(y, m).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewDate(y, m, day)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

func EndOfMonth(year int, month time.Month) Date {
	return Date{t: time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive range of days [Start, End].
type Period struct {
	Start Date
	End   Date
}

// MonthPeriod returns the calendar month containing (year, month).
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// ParseMonth parses a YYYY-MM string into its calendar month period.
func ParseMonth(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid month %q (use YYYY-MM): %w", s, err)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies "now" to the parts of the engine that stamp records.
// Schedule generation never calls it; callers pass now explicitly.
type Clock func() time.Time

// SystemClock reads the wall clock.
func SystemClock() time.Time { return time.Now() }

// FixedClock always returns t. Used by tests and by as-of queries.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

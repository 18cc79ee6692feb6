/*
Package jalali implements the Jalali (Persian) calendar arithmetic the
installment engine schedules against.

PURPOSE:
  Due dates in this system are Jalali dates. This package owns parsing,
  formatting, and month arithmetic so that every due date in the engine is
  computed by exactly one implementation.

KEY CONCEPTS:
  - Date: a plain {Year, Month, Day} value, always a valid calendar date
  - AddMonths: preserves day-of-month, clamping to the target month's length
  - Leap rule: 33-year cycle; Esfand has 30 days in leap years, 29 otherwise

MONTH LENGTHS:
  Months 1-6 have 31 days, months 7-11 have 30, month 12 has 29 or 30.
  Naive "add 30 days" arithmetic silently corrupts due dates; month
  arithmetic here is exact.

CLAMPING IS LOSSY:
  AddMonths(AddMonths(d, 1), -1) is NOT guaranteed to equal d. Adding one
  month to 1403/06/31 gives 1403/07/30 (Mehr has 30 days); subtracting a
  month from that gives 1403/06/30.

SEE ALSO:
  - finance/: consumes nothing here; the schedule is date-free
  - agreement/: assigns due dates via Date.AddMonths
*/
package jalali

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Supported year range. Years outside it are rejected at parse time, which
// also catches Gregorian-looking input like "2024/05/01".
const (
	MinYear = 1200
	MaxYear = 1500
)

// ErrInvalidDate is the sentinel for all date validation failures.
// Use errors.Is to detect it; errors.As for *InvalidDateError details.
var ErrInvalidDate = errors.New("invalid jalali date")

// InvalidDateError reports an unparseable or out-of-range date.
type InvalidDateError struct {
	Input  string
	Reason string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid jalali date %q: %s", e.Input, e.Reason)
}

func (e *InvalidDateError) Unwrap() error { return ErrInvalidDate }

// =============================================================================
// DATE - Calendar date value
// =============================================================================

// Date is a Jalali calendar date. The zero value is not a valid date;
// use New, Parse, or FromTime.
type Date struct {
	Year  int
	Month int
	Day   int
}

// New validates and constructs a Date.
func New(year, month, day int) (Date, error) {
	d := Date{Year: year, Month: month, Day: day}
	if err := d.validate(""); err != nil {
		return Date{}, err
	}
	return d, nil
}

// MustNew is New for test fixtures and compile-time-known dates.
func MustNew(year, month, day int) Date {
	d, err := New(year, month, day)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) validate(input string) error {
	if input == "" {
		input = fmt.Sprintf("%d/%d/%d", d.Year, d.Month, d.Day)
	}
	if d.Year < MinYear || d.Year > MaxYear {
		return &InvalidDateError{Input: input, Reason: fmt.Sprintf("year out of range [%d, %d]", MinYear, MaxYear)}
	}
	if d.Month < 1 || d.Month > 12 {
		return &InvalidDateError{Input: input, Reason: "month out of range [1, 12]"}
	}
	if d.Day < 1 || d.Day > DaysInMonth(d.Year, d.Month) {
		return &InvalidDateError{Input: input, Reason: fmt.Sprintf("day out of range [1, %d]", DaysInMonth(d.Year, d.Month))}
	}
	return nil
}

// IsZero reports whether d is the zero value (no date set).
func (d Date) IsZero() bool { return d == Date{} }

// =============================================================================
// CALENDAR RULES
// =============================================================================

// IsLeapYear reports whether the Jalali year has a 30-day Esfand.
// 33-year cycle rule; exact across the supported year range.
func IsLeapYear(year int) bool {
	switch year % 33 {
	case 1, 5, 9, 13, 17, 22, 26, 30:
		return true
	}
	return false
}

// DaysInMonth returns the number of days in the given month of the given year.
func DaysInMonth(year, month int) int {
	switch {
	case month >= 1 && month <= 6:
		return 31
	case month >= 7 && month <= 11:
		return 30
	case month == 12:
		if IsLeapYear(year) {
			return 30
		}
		return 29
	default:
		return 0
	}
}

func daysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// =============================================================================
// PARSING AND FORMATTING
// =============================================================================

// Parse reads a "YYYY/MM/DD" date. Components may omit zero padding on
// input; the canonical form produced by String is always padded.
func Parse(s string) (Date, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Date{}, &InvalidDateError{Input: s, Reason: "want YYYY/MM/DD"}
	}
	nums := make([]int, 3)
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Date{}, &InvalidDateError{Input: s, Reason: "empty component"}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, &InvalidDateError{Input: s, Reason: "non-numeric component"}
		}
		nums[i] = n
	}
	d := Date{Year: nums[0], Month: nums[1], Day: nums[2]}
	if err := d.validate(s); err != nil {
		return Date{}, err
	}
	return d, nil
}

// String returns the canonical zero-padded "YYYY/MM/DD" form.
// Parse(d.String()) == d for every valid date.
func (d Date) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

// =============================================================================
// COMPARISON
// =============================================================================

// Compare returns -1, 0, or +1 ordering d against other.
func (d Date) Compare(other Date) int {
	a := d.Year*10000 + d.Month*100 + d.Day
	b := other.Year*10000 + other.Month*100 + other.Day
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }
func (d Date) Equal(other Date) bool  { return d.Compare(other) == 0 }

// =============================================================================
// ARITHMETIC
// =============================================================================

// AddMonths adds n (possibly negative) months, preserving the day-of-month
// unless the target month is shorter, in which case the day clamps to the
// last valid day. The clamp makes this lossy: adding then subtracting a
// month does not always round-trip.
func (d Date) AddMonths(n int) Date {
	// The total-month index stays positive for any supported year, so
	// division and modulo behave uniformly for negative n too.
	months := (d.Year*12 + (d.Month - 1)) + n
	year := months / 12
	month := months%12 + 1
	day := d.Day
	if max := DaysInMonth(year, month); day > max {
		day = max
	}
	return Date{Year: year, Month: month, Day: day}
}

// AddDays adds n (possibly negative) days, rolling across months and years.
func (d Date) AddDays(n int) Date {
	day := d.Day + n
	year, month := d.Year, d.Month
	for day > DaysInMonth(year, month) {
		day -= DaysInMonth(year, month)
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
	for day < 1 {
		month--
		if month < 1 {
			month = 12
			year--
		}
		day += DaysInMonth(year, month)
	}
	return Date{Year: year, Month: month, Day: day}
}

// =============================================================================
// GREGORIAN BRIDGE
// =============================================================================

// Anchor pair: 1400/01/01 fell on 2021-03-21. All conversion walks whole
// days from here using the same leap rule as the rest of the package, so
// the bridge can never disagree with DaysInMonth.
var (
	anchorJalali    = Date{Year: 1400, Month: 1, Day: 1}
	anchorGregorian = time.Date(2021, time.March, 21, 0, 0, 0, 0, time.UTC)
)

func (d Date) dayNumber() int {
	days := 0
	if d.Year >= anchorJalali.Year {
		for y := anchorJalali.Year; y < d.Year; y++ {
			days += daysInYear(y)
		}
	} else {
		for y := d.Year; y < anchorJalali.Year; y++ {
			days -= daysInYear(y)
		}
	}
	for m := 1; m < d.Month; m++ {
		days += DaysInMonth(d.Year, m)
	}
	return days + d.Day - 1
}

// Time returns the Gregorian midnight of d in the given location
// (UTC if loc is nil).
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := anchorGregorian.AddDate(0, 0, d.dayNumber())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FromTime converts a Gregorian instant to the Jalali date it falls on.
func FromTime(t time.Time) Date {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := int(day.Sub(anchorGregorian).Hours() / 24)

	d := anchorJalali
	// Walk years first, then months, then days.
	for {
		n := daysInYear(d.Year)
		if offset >= n {
			offset -= n
			d.Year++
			continue
		}
		if offset < 0 {
			d.Year--
			offset += daysInYear(d.Year)
			continue
		}
		break
	}
	for offset >= DaysInMonth(d.Year, d.Month) {
		offset -= DaysInMonth(d.Year, d.Month)
		d.Month++
	}
	d.Day = 1 + offset
	return d
}

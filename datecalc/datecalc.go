// Package datecalc implements the calendar arithmetic insurance rules are
// written against: adding durations to dates with end of month
// handling, counting whole periods between two dates, and converting
// between payment frequencies.
//
// All dates are calendar dates: the time of day and the location of the
// inputs are dropped, results are at midnight UTC.
package datecalc

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ezachrisen/arbiter/schema"
)

// Unit is a calendar duration unit.
type Unit string

const (
	Day      Unit = "day"
	Week     Unit = "week"
	Month    Unit = "month"
	Quarter  Unit = "quarter"
	HalfYear Unit = "half_year"
	Year     Unit = "year"
)

var (
	// ErrUnknownUnit is returned for a unit or frequency name that is not
	// recognized.
	ErrUnknownUnit = errors.New("unknown duration unit")

	// ErrUnsupportedFrequency is returned when converting from or to a
	// daily or weekly frequency.
	ErrUnsupportedFrequency = errors.New("frequency conversion unsupported")
)

// frequencies maps unit names and their frequency forms (monthly,
// quarterly...) to units.
var frequencies = map[string]Unit{
	"day": Day, "dayly": Day, "daily": Day,
	"week": Week, "weekly": Week,
	"month": Month, "monthly": Month,
	"quarter": Quarter, "quarterly": Quarter,
	"half_year": HalfYear, "half_yearly": HalfYear,
	"year": Year, "yearly": Year,
}

// ParseUnit reads a unit name such as "month" or a frequency such as
// "monthly".
func ParseUnit(s string) (Unit, error) {
	u, ok := frequencies[s]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// months is the length of a unit in months, 0 for days and weeks.
func (u Unit) months() int {
	switch u {
	case Month:
		return 1
	case Quarter:
		return 3
	case HalfYear:
		return 6
	case Year:
		return 12
	}
	return 0
}

// Date truncates t to its calendar date at midnight UTC.
func Date(t time.Time) time.Time {
	return schema.NewDate(t.Year(), t.Month(), t.Day())
}

func daysIn(year int, month time.Month) int {
	return schema.NewDate(year, month+1, 0).Day()
}

// AddDays adds n days to d.
func AddDays(d time.Time, n int) time.Time {
	return Date(d).AddDate(0, 0, n)
}

// AddMonths adds n months to d. When the target month is shorter, the
// day is clamped to its last day: January 31 plus one month is the last
// day of February. When stickToEndOfMonth is set and d is the last day of
// its month, the result is the last day of the target month: February 28
// 2015 plus one month is March 31.
func AddMonths(d time.Time, n int, stickToEndOfMonth bool) time.Time {
	d = Date(d)
	total := int(d.Month()) - 1 + n
	year := d.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	day := min(d.Day(), daysIn(year, month))
	next := schema.NewDate(year, month, day)
	if stickToEndOfMonth && d.Equal(EndOfMonth(d)) {
		return EndOfMonth(next)
	}
	return next
}

// AddYears adds n years to d, with the same end of month handling as
// AddMonths: February 28 2015 plus one year sticks to February 29 2016.
func AddYears(d time.Time, n int, stickToEndOfMonth bool) time.Time {
	return AddMonths(d, 12*n, stickToEndOfMonth)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Add adds n units to d. The result is the first day of the next period:
// January 1 plus one year is January 1 of the following year.
func Add(d time.Time, u Unit, n int, stickToEndOfMonth bool) (time.Time, error) {
	switch u {
	case Day:
		return AddDays(d, n), nil
	case Week:
		return AddDays(d, 7*n), nil
	case Month, Quarter, HalfYear:
		return AddMonths(d, u.months()*n, stickToEndOfMonth), nil
	case Year:
		return AddYears(d, n, stickToEndOfMonth), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownUnit, u)
}

// EndOfMonth returns the last day of the month of d.
func EndOfMonth(d time.Time) time.Time {
	return schema.NewDate(d.Year(), d.Month(), daysIn(d.Year(), d.Month()))
}

// BeginningOfMonth returns the first day of the month of d.
func BeginningOfMonth(d time.Time) time.Time {
	return schema.NewDate(d.Year(), d.Month(), 1)
}

// LastDayOfLastMonth returns the last day of the month before d.
func LastDayOfLastMonth(d time.Time) time.Time {
	return AddDays(BeginningOfMonth(d), -1)
}

// EndOfPeriod returns the last day of the period of n units starting on
// d: January 1 plus one year ends on December 31.
func EndOfPeriod(d time.Time, u Unit, n int) (time.Time, error) {
	next, err := Add(d, u, n, false)
	if err != nil {
		return time.Time{}, err
	}
	return AddDays(next, -1), nil
}

// DayNumber is the number of days between 1970-01-01 and the day of d.
func DayNumber(d time.Time) int64 {
	return Date(d).Unix() / 86400
}

// DaysBetween counts the days from start to end, both included.
func DaysBetween(start, end time.Time) int {
	return int(DayNumber(end) - DayNumber(start) + 1)
}

// monthsDiff is the number of whole months from a to b, negative when b
// is before a.
func monthsDiff(a, b time.Time) int {
	m := (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	switch {
	case m > 0 && AddMonths(a, m, false).After(b):
		m--
	case m < 0 && AddMonths(a, m, false).Before(b):
		m++
	}
	return m
}

// MonthsBetween counts the whole months covered from start to end, end
// included: January 1 to January 31 is one month.
func MonthsBetween(start, end time.Time) int {
	return monthsDiff(Date(start), AddDays(end, 1))
}

// YearsBetween counts the whole years covered from start to end, end
// included. It is negative when start is after end.
func YearsBetween(start, end time.Time) int {
	start, end = Date(start), Date(end)
	if start.After(end) {
		return -YearsBetween(end, start)
	}
	m := monthsDiff(start, AddDays(end, 1))
	return m / 12
}

// YearsBetweenProrata is YearsBetween plus the remaining days counted as
// a fraction of a 365 day year.
func YearsBetweenProrata(start, end time.Time) *apd.Decimal {
	start, end = Date(start), Date(end)
	if start.After(end) {
		d := YearsBetweenProrata(end, start)
		return d.Neg(d)
	}
	years := YearsBetween(start, end)
	anniversary := AddYears(start, years, false)
	days := DayNumber(AddDays(end, 1)) - DayNumber(anniversary)

	frac := new(apd.Decimal)
	_, _ = schema.DecimalContext.Quo(frac, apd.New(days, 0), apd.New(365, 0))
	out := new(apd.Decimal)
	_, _ = schema.DecimalContext.Add(out, apd.New(int64(years), 0), frac)
	return out
}

// DurationBetween expresses the period from start to end, end included,
// in the given unit. Weeks, quarters and half years may be fractional:
// January 1 to March 31 is 90 days, 3 months or 1 quarter.
func DurationBetween(start, end time.Time, u Unit) (*apd.Decimal, error) {
	var n, div int64 = 0, 1
	switch u {
	case Day:
		n = int64(DaysBetween(start, end))
	case Week:
		n, div = int64(DaysBetween(start, end)), 7
	case Month, Quarter, HalfYear:
		n, div = int64(MonthsBetween(start, end)), int64(u.months())
	case Year:
		n = int64(YearsBetween(start, end))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownUnit, u)
	}
	out := new(apd.Decimal)
	if _, err := schema.DecimalContext.Quo(out, apd.New(n, 0), apd.New(div, 0)); err != nil {
		return nil, err
	}
	return out, nil
}

// IsExactDuration reports whether the period from start to end is a whole
// number of units, along with that number.
func IsExactDuration(start, end time.Time, u Unit) (int, bool, error) {
	d, err := DurationBetween(start, end, u)
	if err != nil {
		return 0, false, err
	}
	n, err := truncate(d)
	if err != nil {
		return 0, false, err
	}
	last, err := EndOfPeriod(start, u, n)
	if err != nil {
		return 0, false, err
	}
	return n, last.Equal(Date(end)), nil
}

func truncate(d *apd.Decimal) (int, error) {
	c := schema.DecimalContext.WithPrecision(schema.DecimalContext.Precision)
	c.Rounding = apd.RoundDown
	i := new(apd.Decimal)
	if _, err := c.Quantize(i, d, 0); err != nil {
		return 0, err
	}
	n, err := i.Int64()
	return int(n), err
}

// ConvertFrequency returns the factor that turns an amount expressed per
// from period into an amount per to period: monthly to yearly is 12.
// Daily and weekly frequencies are not supported.
func ConvertFrequency(from, to Unit) (float64, error) {
	f, t := from.months(), to.months()
	if f == 0 || t == 0 {
		return 0, fmt.Errorf("%w: %s to %s", ErrUnsupportedFrequency, from, to)
	}
	return float64(t) / float64(f), nil
}

// NextDateInSyncWith returns the first date on or after d whose day of
// month is day.
func NextDateInSyncWith(d time.Time, day int) time.Time {
	d = Date(d)
	res := schema.NewDate(d.Year(), d.Month(), min(day, daysIn(d.Year(), d.Month())))
	if res.Before(d) {
		res = AddMonths(schema.NewDate(d.Year(), d.Month(), 1), 1, false)
		res = schema.NewDate(res.Year(), res.Month(), min(day, daysIn(res.Year(), res.Month())))
	}
	return res
}

// Package calendar implements the day-count conventions used for interest
// accrual. All dates are civil dates; there is no time-of-day component.
package calendar

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Type identifies a day-count convention.
type Type string

const (
	ActualActual Type = "ACTUAL_ACTUAL"
	Actual360    Type = "ACTUAL_360"
	Actual365    Type = "ACTUAL_365"
	Thirty360    Type = "THIRTY_360"
	ThirtyActual Type = "THIRTY_ACTUAL"
)

// Types lists every supported convention.
var Types = []Type{ActualActual, Actual360, Actual365, Thirty360, ThirtyActual}

// ParseType rejects unknown convention names.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown calendar type %q", s)
}

// Valid reports whether t is a supported convention.
func (t Type) Valid() bool {
	_, err := ParseType(string(t))
	return err == nil
}

// Calendar computes day counts under a single convention.
type Calendar struct {
	Type Type
}

// New returns a Calendar for t.
func New(t Type) Calendar {
	return Calendar{Type: t}
}

// DaysBetween counts days from a (inclusive) to b (exclusive). The result is
// negative when b is before a.
func (c Calendar) DaysBetween(a, b civil.Date) int {
	switch c.Type {
	case Thirty360, ThirtyActual:
		if b.Before(a) {
			return -days360(b, a)
		}
		return days360(a, b)
	default:
		return b.DaysSince(a)
	}
}

// DaysInYear is the year-length denominator for the year containing d.
func (c Calendar) DaysInYear(d civil.Date) int {
	switch c.Type {
	case Actual360, Thirty360:
		return 360
	case Actual365:
		return 365
	default:
		if IsLeapYear(d.Year) {
			return 366
		}
		return 365
	}
}

// DaysInMonth is the month-length denominator for the month containing d.
func (c Calendar) DaysInMonth(d civil.Date) int {
	switch c.Type {
	case Thirty360, ThirtyActual:
		return 30
	default:
		return MonthLength(d.Year, d.Month)
	}
}

// ActualYearLength reports whether DaysInYear depends on the calendar year.
func (c Calendar) ActualYearLength() bool {
	return c.Type == ActualActual || c.Type == ThirtyActual
}

// ActualMonthLength reports whether DaysInMonth depends on the month.
func (c Calendar) ActualMonthLength() bool {
	return c.Type != Thirty360 && c.Type != ThirtyActual
}

// days360 is the U.S. 30/360 (bond basis) count with the February month-end rules.
func days360(a, b civil.Date) int {
	d1, d2 := a.Day, b.Day
	if isLastDayOfFebruary(a) {
		if isLastDayOfFebruary(b) {
			d2 = 30
		}
		d1 = 30
	}
	if d2 == 31 && d1 >= 30 {
		d2 = 30
	}
	if d1 == 31 {
		d1 = 30
	}
	return 360*(b.Year-a.Year) + 30*(int(b.Month)-int(a.Month)) + (d2 - d1)
}

func isLastDayOfFebruary(d civil.Date) bool {
	return d.Month == time.February && d.Day == MonthLength(d.Year, d.Month)
}

// IsLeapYear reports whether y is a Gregorian leap year.
func IsLeapYear(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// MonthLength returns the number of calendar days in the month.
func MonthLength(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths moves d by n months, clamping to the last day of the target month
// (EDATE semantics) instead of letting the day overflow.
func AddMonths(d civil.Date, n int) civil.Date {
	total := d.Year*12 + int(d.Month) - 1 + n
	y, m := total/12, time.Month(total%12+1)
	if total < 0 && total%12 != 0 {
		y--
		m = time.Month(total%12 + 13)
	}
	day := d.Day
	if last := MonthLength(y, m); day > last {
		day = last
	}
	return civil.Date{Year: y, Month: m, Day: day}
}

// StartOfNextYear returns January 1 of the year after d.
func StartOfNextYear(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year + 1, Month: time.January, Day: 1}
}

// StartOfNextMonth returns the first day of the month after d.
func StartOfNextMonth(d civil.Date) civil.Date {
	return AddMonths(civil.Date{Year: d.Year, Month: d.Month, Day: 1}, 1)
}

// MinDate returns the earlier of a and b.
func MinDate(a, b civil.Date) civil.Date {
	if b.Before(a) {
		return b
	}
	return a
}

// MaxDate returns the later of a and b.
func MaxDate(a, b civil.Date) civil.Date {
	if b.After(a) {
		return b
	}
	return a
}

// Within reports whether d lies in the half-open interval [start, end).
func Within(d, start, end civil.Date) bool {
	return !d.Before(start) && d.Before(end)
}

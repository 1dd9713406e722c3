// Package interest computes per-diem and period interest on a balance.
package interest

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/shopspring/decimal"
)

const divisionPlaces = 20

var (
	monthsInYear = decimal.NewFromInt(12)
	one          = decimal.NewFromInt(1)
)

// PerDiemMethod selects how the daily rate is derived from the annual rate.
type PerDiemMethod string

const (
	AnnualRateDividedByDaysInYear   PerDiemMethod = "AnnualRateDividedByDaysInYear"
	MonthlyRateDividedByDaysInMonth PerDiemMethod = "MonthlyRateDividedByDaysInMonth"
)

// ParsePerDiemMethod rejects unknown names.
func ParsePerDiemMethod(s string) (PerDiemMethod, error) {
	switch PerDiemMethod(s) {
	case AnnualRateDividedByDaysInYear, MonthlyRateDividedByDaysInMonth:
		return PerDiemMethod(s), nil
	}
	return "", fmt.Errorf("unknown per diem method %q", s)
}

// Calculator accrues interest under one calendar and per-diem convention.
type Calculator struct {
	Calendar calendar.Calendar
	Method   PerDiemMethod
}

// NewCalculator returns a Calculator. An empty method means annual/days-in-year.
func NewCalculator(cal calendar.Calendar, method PerDiemMethod) Calculator {
	if method == "" {
		method = AnnualRateDividedByDaysInYear
	}
	return Calculator{Calendar: cal, Method: method}
}

// denominator is the number the annual rate is divided by to get the daily
// rate on d: days-in-year, or 12 * days-in-month.
func (c Calculator) denominator(d civil.Date) decimal.Decimal {
	if c.Method == MonthlyRateDividedByDaysInMonth {
		return monthsInYear.Mul(decimal.NewFromInt(int64(c.Calendar.DaysInMonth(d))))
	}
	return decimal.NewFromInt(int64(c.Calendar.DaysInYear(d)))
}

// DailyRate returns the daily rate applicable on d.
func (c Calculator) DailyRate(annualRate decimal.Decimal, d civil.Date) decimal.Decimal {
	return annualRate.DivRound(c.denominator(d), divisionPlaces)
}

// PerDiem returns one day of interest on balance as of d.
func (c Calculator) PerDiem(balance, annualRate decimal.Decimal, d civil.Date) decimal.Decimal {
	return balance.Mul(annualRate).DivRound(c.denominator(d), divisionPlaces)
}

// Interest accrues interest on a constant balance over [start, end). The
// range is split wherever the convention's denominator changes (calendar
// years for actual year lengths, calendar months for monthly per-diem on
// actual month lengths). The result is unrounded.
func (c Calculator) Interest(balance, annualRate decimal.Decimal, start, end civil.Date) decimal.Decimal {
	if !end.After(start) || balance.IsZero() || annualRate.IsZero() {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, seg := range c.segments(start, end) {
		days := decimal.NewFromInt(int64(c.Calendar.DaysBetween(seg[0], seg[1])))
		total = total.Add(balance.Mul(annualRate).Mul(days).DivRound(c.denominator(seg[0]), divisionPlaces))
	}
	return total
}

func (c Calculator) segments(start, end civil.Date) [][2]civil.Date {
	var next func(civil.Date) civil.Date
	switch {
	case c.Method == MonthlyRateDividedByDaysInMonth && c.Calendar.ActualMonthLength():
		next = calendar.StartOfNextMonth
	case c.Method == AnnualRateDividedByDaysInYear && c.Calendar.ActualYearLength():
		next = calendar.StartOfNextYear
	default:
		return [][2]civil.Date{{start, end}}
	}
	var out [][2]civil.Date
	for cur := start; cur.Before(end); {
		boundary := calendar.MinDate(next(cur), end)
		out = append(out, [2]civil.Date{cur, boundary})
		cur = boundary
	}
	return out
}

// Days returns the calendar's day count for [start, end).
func (c Calculator) Days(start, end civil.Date) int {
	return c.Calendar.DaysBetween(start, end)
}

// EquivalentAnnualRate is the annual rate that would accrue exactly
// periodInterest on balance over [start, end).
func (c Calculator) EquivalentAnnualRate(periodInterest, balance decimal.Decimal, start, end civil.Date) decimal.Decimal {
	return EquivalentRate(periodInterest, c.Interest(balance, one, start, end))
}

// EquivalentRate divides period interest by the interest a 100% rate would
// have accrued over the same balances and days.
func EquivalentRate(periodInterest, unitInterest decimal.Decimal) decimal.Decimal {
	if unitInterest.IsZero() {
		return decimal.Zero
	}
	return periodInterest.DivRound(unitInterest, divisionPlaces)
}

// UnitRate is the annual rate of 100%, for computing unit interest.
func UnitRate() decimal.Decimal {
	return one
}

// WithinVariance reports whether rate is within variance of nominal.
func WithinVariance(rate, nominal, variance decimal.Decimal) bool {
	return rate.Sub(nominal).Abs().LessThanOrEqual(variance)
}

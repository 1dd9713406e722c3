package interest

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

var (
	balance = decimal.NewFromInt(10000)
	rate    = decimal.RequireFromString("0.05")
	cent    = decimal.RequireFromString("0.01")
)

func TestInterest_Thirty360FullMonth(t *testing.T) {
	for _, method := range []PerDiemMethod{AnnualRateDividedByDaysInYear, MonthlyRateDividedByDaysInMonth} {
		c := NewCalculator(calendar.New(calendar.Thirty360), method)
		got := c.Interest(balance, rate, date(2024, 1, 1), date(2024, 2, 1))
		assert.True(t, got.Sub(decimal.RequireFromString("41.6666666667")).Abs().LessThan(cent), "%s: %s", method, got)
	}
}

func TestInterest_ActualActualSplitsYears(t *testing.T) {
	c := NewCalculator(calendar.New(calendar.ActualActual), AnnualRateDividedByDaysInYear)
	got := c.Interest(balance, rate, date(2023, 12, 17), date(2024, 1, 16))
	// 15 days over 365 plus 15 days over 366
	want := balance.Mul(rate).Mul(decimal.NewFromInt(15)).Div(decimal.NewFromInt(365)).
		Add(balance.Mul(rate).Mul(decimal.NewFromInt(15)).Div(decimal.NewFromInt(366)))
	assert.True(t, got.Sub(want).Abs().LessThan(decimal.RequireFromString("0.000001")), "got %s want %s", got, want)
}

func TestInterest_MonthlyPerDiemOnActualMonths(t *testing.T) {
	c := NewCalculator(calendar.New(calendar.Actual365), MonthlyRateDividedByDaysInMonth)
	got := c.Interest(balance, rate, date(2024, 2, 1), date(2024, 3, 1))
	// a whole month under monthly per-diem accrues exactly rate/12
	assert.True(t, got.Sub(balance.Mul(rate).Div(decimal.NewFromInt(12))).Abs().LessThan(decimal.RequireFromString("0.000001")))
}

func TestInterest_EmptyRange(t *testing.T) {
	c := NewCalculator(calendar.New(calendar.Actual360), "")
	assert.True(t, c.Interest(balance, rate, date(2024, 2, 1), date(2024, 2, 1)).IsZero())
	assert.True(t, c.Interest(balance, rate, date(2024, 2, 1), date(2024, 1, 1)).IsZero())
	assert.Equal(t, AnnualRateDividedByDaysInYear, c.Method)
}

func TestPerDiem(t *testing.T) {
	c := NewCalculator(calendar.New(calendar.Actual360), AnnualRateDividedByDaysInYear)
	got := c.PerDiem(decimal.NewFromInt(36000), rate, date(2024, 2, 1))
	assert.True(t, got.Equal(decimal.NewFromInt(5)), "got %s", got)
}

func TestEquivalentAnnualRate(t *testing.T) {
	c := NewCalculator(calendar.New(calendar.Thirty360), AnnualRateDividedByDaysInYear)
	start, end := date(2024, 1, 1), date(2024, 2, 1)
	eq := c.EquivalentAnnualRate(decimal.RequireFromString("50"), balance, start, end)
	assert.True(t, eq.Sub(decimal.RequireFromString("0.06")).Abs().LessThan(decimal.RequireFromString("0.0000001")), "got %s", eq)

	assert.True(t, WithinVariance(eq, rate, decimal.RequireFromString("0.02")))
	assert.False(t, WithinVariance(eq, rate, decimal.RequireFromString("0.005")))
	assert.True(t, c.EquivalentAnnualRate(decimal.NewFromInt(10), decimal.Zero, start, end).IsZero())
}

func TestParsePerDiemMethod(t *testing.T) {
	m, err := ParsePerDiemMethod("MonthlyRateDividedByDaysInMonth")
	require.NoError(t, err)
	assert.Equal(t, MonthlyRateDividedByDaysInMonth, m)
	_, err = ParsePerDiemMethod("weekly")
	assert.Error(t, err)
}

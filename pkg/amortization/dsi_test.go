package amortization

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dsiParams() LoanParams {
	p := baseParams()
	p.BillingModel = BillingModelDailySimpleInterest
	p.CalendarType = calendar.Actual365
	return p
}

func newDSIEngine(t *testing.T, today civil.Date) *Engine {
	t.Helper()
	e, err := New(dsiParams(), WithCurrentDate(today))
	require.NoError(t, err)
	return e
}

func TestDSITermsBillWithoutPreBilling(t *testing.T) {
	e := newDSIEngine(t, date(2024, 6, 10))
	for _, entry := range e.Result().Billable() {
		assert.Equal(t, 0, entry.PreBillDays)
		assert.Equal(t, entry.PeriodEndDate, entry.PeriodBillDueDate)
		assert.Equal(t, entry.PeriodEndDate, entry.PeriodBillOpenDate)
		require.NotNil(t, entry.DSI, "term %d", entry.Term)
	}
}

func TestDSIPaymentTiming(t *testing.T) {
	tests := []struct {
		name        string
		paid        civil.Date
		wantSavings bool
		wantPenalty bool
	}{
		{"on due date", date(2024, 2, 1), false, false},
		{"five days early", date(2024, 1, 27), true, false},
		{"ten days late", date(2024, 2, 11), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newDSIEngine(t, date(2024, 6, 10))
			standard, _ := e.Result().BillableEntry(0)

			rec, err := e.PayDSITerm(0, tt.paid, e.EMI())
			require.NoError(t, err)

			entry, _ := e.Result().BillableEntry(0)
			require.NotNil(t, entry.DSI)
			assert.True(t, entry.DSI.IsPaid)
			assert.Equal(t, rec.InterestDaysUsed, entry.DSI.InterestDaysUsed)
			assert.True(t, entry.DSI.ReAmortizedInterest.Equal(rec.ActualInterest))

			switch {
			case tt.wantSavings:
				assert.True(t, rec.ActualInterest.LessThan(standard.AccruedInterestForPeriod))
				assert.True(t, entry.DSI.InterestSavings.IsPositive())
				assert.True(t, entry.DSI.InterestPenalty.IsZero())
			case tt.wantPenalty:
				assert.True(t, rec.ActualInterest.GreaterThan(standard.AccruedInterestForPeriod))
				assert.True(t, entry.DSI.InterestPenalty.IsPositive())
				assert.True(t, entry.DSI.InterestSavings.IsZero())
			default:
				assert.True(t, rec.ActualInterest.Equal(standard.AccruedInterestForPeriod))
				assert.True(t, entry.DSI.InterestSavings.IsZero())
				assert.True(t, entry.DSI.InterestPenalty.IsZero())
			}
		})
	}
}

func TestDSICascadingDelinquency(t *testing.T) {
	e := newDSIEngine(t, date(2024, 3, 10))
	_, err := e.PayDSITerm(0, date(2024, 2, 1), e.EMI())
	require.NoError(t, err)

	missed, _ := e.Result().BillableEntry(1)
	assert.True(t, missed.DSI.IsDelinquent)
	assert.True(t, missed.DSI.ReAmortizedPrincipal.IsZero())

	current, _ := e.Result().BillableEntry(2)
	assert.True(t, current.DSI.IsCurrentActiveTerm)
	assert.True(t, current.DSI.IsDelinquent)
	assert.True(t, current.DSI.ReAmortizedPrincipal.IsZero())
	assert.True(t, current.DSI.ReAmortizedEndBalance.Equal(missed.DSI.ReAmortizedEndBalance))

	_, err = e.PayDSITerm(1, date(2024, 3, 1), e.EMI())
	require.NoError(t, err)

	current, _ = e.Result().BillableEntry(2)
	assert.True(t, current.DSI.IsCurrentActiveTerm)
	assert.False(t, current.DSI.IsDelinquent)
	assert.True(t, current.DSI.ReAmortizedPrincipal.IsPositive())

	future, _ := e.Result().BillableEntry(3)
	assert.False(t, future.DSI.IsDelinquent)
	assert.True(t, future.DSI.ReAmortizedStartBalance.Equal(current.DSI.ReAmortizedEndBalance))
}

func TestDSIActiveTermPastLoanEnd(t *testing.T) {
	e := newDSIEngine(t, date(2026, 1, 1))
	last := e.Result().Billable()[11]
	assert.True(t, last.DSI.IsCurrentActiveTerm)
	assert.True(t, last.DSI.IsDelinquent)
}

func TestDSIPaymentOutcomeErrors(t *testing.T) {
	e := newDSIEngine(t, date(2024, 6, 10))
	res := e.Result()

	_, err := res.DSIPaymentOutcome(40, date(2024, 2, 1), e.EMI())
	assert.ErrorIs(t, err, ErrTermOutOfRange)
	_, err = res.DSIPaymentOutcome(0, date(2023, 12, 1), e.EMI())
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = res.DSIPaymentOutcome(0, date(2024, 2, 1), d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	amortized := mustRecompute(t, baseParams())
	_, err = amortized.DSIPaymentOutcome(0, date(2024, 2, 1), d("100"))
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestDSIBillingModelOverride(t *testing.T) {
	p := baseParams()
	p.BillingModelOverrides = []BillingModelOverride{{TermNumber: 3, BillingModel: BillingModelDailySimpleInterest}}
	res := mustRecompute(t, p)

	for _, e := range res.Billable() {
		if e.Term == 3 {
			assert.Equal(t, BillingModelDailySimpleInterest, e.BillingModel)
			assert.NotNil(t, e.DSI)
			continue
		}
		assert.Nil(t, e.DSI, "term %d", e.Term)
	}
}

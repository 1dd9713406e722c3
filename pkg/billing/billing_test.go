package billing

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y, m, d int) civil.Date { return civil.Date{Year: y, Month: time.Month(m), Day: d} }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func schedule(t *testing.T) []amortization.ScheduleEntry {
	t.Helper()
	p := amortization.DefaultLoanParams()
	p.LoanAmount = dec("10000")
	p.AnnualInterestRate = dec("0.05")
	p.Term = 12
	p.StartDate = date(2024, 1, 1)
	p.DefaultDueBillDays = 3
	p.RatesSchedule = []amortization.RateScheduleEntry{
		{StartDate: date(2024, 6, 10), EndDate: date(2025, 1, 1), AnnualInterestRate: dec("0.06")},
	}
	res, err := amortization.Recompute(p, amortization.Options{CurrentDate: date(2024, 1, 1)})
	require.NoError(t, err)
	return res.Entries
}

func TestGenerateOneBillPerBillableEntry(t *testing.T) {
	loanID := uuid.New()
	entries := schedule(t)
	bills := Generate(loanID, entries, date(2024, 3, 2))

	require.Len(t, bills, 12)
	assert.Greater(t, len(entries), len(bills))
	for i, b := range bills {
		assert.Equal(t, i, b.Term)
		assert.Equal(t, BillID(loanID, i), b.ID)
		assert.True(t, b.TotalDue.Equal(b.Principal.Add(b.Interest).Add(b.Fees)), "term %d", i)
	}

	first := bills[0]
	assert.Equal(t, date(2024, 2, 4), first.DueDate)
	assert.Equal(t, date(2024, 1, 30), first.OpenDate)
	assert.True(t, first.IsOpen)
	assert.True(t, first.IsDue)
	assert.True(t, first.IsPastDue)
	assert.Equal(t, 27, first.DaysPastDue)

	later := bills[5]
	assert.False(t, later.IsOpen)
	assert.False(t, later.IsDue)
	assert.Negative(t, later.DaysPastDue)
}

func TestBillIDsAreStable(t *testing.T) {
	loanID := uuid.New()
	a := Generate(loanID, schedule(t), date(2024, 1, 1))
	b := Generate(loanID, schedule(t), date(2024, 5, 1))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
	assert.NotEqual(t, BillID(uuid.New(), 0), BillID(loanID, 0))
}

func TestRecordPaysDownBill(t *testing.T) {
	bills := Generate(uuid.New(), schedule(t), date(2024, 2, 10))
	b := bills[0]
	deposit := uuid.New()

	require.NoError(t, b.Record(Allocation{DepositID: deposit, Date: date(2024, 2, 1), Interest: b.InterestDue}))
	assert.False(t, b.IsPaid)
	assert.True(t, b.InterestDue.IsZero())

	err := b.Record(Allocation{DepositID: deposit, Date: date(2024, 2, 1), Principal: b.PrincipalDue.Add(dec("1"))})
	assert.Error(t, err)

	require.NoError(t, b.Record(Allocation{DepositID: deposit, Date: date(2024, 2, 1), Principal: b.PrincipalDue}))
	assert.True(t, b.IsPaid)
	assert.False(t, b.IsDue)
	assert.True(t, b.TotalDue.IsZero())
	assert.True(t, b.Paid().Equal(b.Principal.Add(b.Interest)))
	assert.Len(t, b.Allocations, 2)

	b.Refresh(date(2024, 4, 1))
	assert.True(t, b.IsPaid)
	assert.False(t, b.IsPastDue)
}

func TestSummarize(t *testing.T) {
	bills := Generate(uuid.New(), schedule(t), date(2024, 3, 10))
	first := bills[0]
	require.NoError(t, first.Record(Allocation{Interest: first.InterestDue, Fees: first.FeesDue, Principal: first.PrincipalDue}))

	s := Summarize(bills)
	assert.Equal(t, 12, s.Bills)
	assert.Equal(t, 1, s.Paid)
	assert.Equal(t, 1, s.PastDue)
	assert.True(t, s.TotalBilled.Equal(s.TotalPaid.Add(s.Outstanding)))
	assert.True(t, s.PastDueAmount.Equal(bills[1].TotalDue))
}

func TestOpenOnByBillingModel(t *testing.T) {
	amortized := &Bill{
		BillingModel:    amortization.BillingModelAmortized,
		PeriodStartDate: date(2024, 1, 1),
		PeriodEndDate:   date(2024, 2, 1),
		OpenDate:        date(2024, 1, 27),
		DueDate:         date(2024, 2, 1),
	}
	assert.False(t, amortized.OpenOn(date(2024, 1, 20)))
	assert.True(t, amortized.OpenOn(date(2024, 1, 27)))

	dsi := &Bill{
		BillingModel:    amortization.BillingModelDailySimpleInterest,
		PeriodStartDate: date(2024, 1, 1),
		PeriodEndDate:   date(2024, 2, 1),
		OpenDate:        date(2024, 2, 1),
		DueDate:         date(2024, 2, 1),
	}
	assert.False(t, dsi.OpenOn(date(2023, 12, 31)))
	assert.True(t, dsi.OpenOn(date(2024, 1, 1)))
	assert.True(t, dsi.OpenOn(date(2024, 1, 20)))
}

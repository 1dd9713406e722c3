package amortization

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y, m, day int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: day}
}

func baseParams() LoanParams {
	p := DefaultLoanParams()
	p.LoanAmount = d("10000")
	p.AnnualInterestRate = d("0.05")
	p.Term = 12
	p.StartDate = date(2024, 1, 1)
	return p
}

func mustRecompute(t *testing.T, p LoanParams) *Result {
	t.Helper()
	res, err := Recompute(p, Options{CurrentDate: date(2024, 1, 15)})
	require.NoError(t, err)
	return res
}

func sumPrincipal(entries []ScheduleEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Principal)
	}
	return total
}

func TestCalculateEMI(t *testing.T) {
	tests := []struct {
		name string
		rate string
		n    int
		want string
	}{
		{"standard annuity", "0.05", 12, "856.07"},
		{"zero rate is straight line", "0", 12, "833.33"},
		{"single term", "0.05", 1, "10041.67"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateEMI(d("10000"), d(tt.rate), tt.n, money.RoundHalfUp, 2)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestRecomputeStandardSchedule(t *testing.T) {
	res := mustRecompute(t, baseParams())

	assert.True(t, res.EMI.Equal(d("856.07")), "emi %s", res.EMI)
	billable := res.Billable()
	require.Len(t, billable, 12)

	first := billable[0]
	assert.Equal(t, date(2024, 1, 1), first.PeriodStartDate)
	assert.Equal(t, date(2024, 2, 1), first.PeriodEndDate)
	assert.Equal(t, date(2024, 1, 27), first.PeriodBillOpenDate)
	assert.Equal(t, date(2024, 2, 1), first.PeriodBillDueDate)
	assert.Equal(t, 30, first.DaysInPeriod)
	assert.True(t, first.AccruedInterestForPeriod.Equal(d("41.67")), "interest %s", first.AccruedInterestForPeriod)
	assert.True(t, first.Principal.Equal(d("814.40")), "principal %s", first.Principal)
	assert.True(t, first.EndBalance.Equal(d("9185.60")), "end balance %s", first.EndBalance)

	assert.True(t, res.Last().EndBalance.IsZero(), "final balance %s", res.Last().EndBalance)
	assert.True(t, sumPrincipal(billable).Equal(d("10000")))
	assert.False(t, res.EarlyRepayment)
}

func TestPeriodsAreContiguous(t *testing.T) {
	p := baseParams()
	p.ChangePaymentDates = []PaymentDateChange{{TermNumber: 4, NewDate: date(2024, 5, 15)}}
	res := mustRecompute(t, p)

	require.Len(t, res.Periods, 12)
	assert.Equal(t, p.StartDate, res.Periods[0].StartDate)
	for i := 1; i < len(res.Periods); i++ {
		assert.Equal(t, res.Periods[i-1].EndDate, res.Periods[i].StartDate, "period %d", i)
	}
	assert.Equal(t, date(2024, 5, 15), res.Periods[4].EndDate)
	assert.Equal(t, date(2024, 6, 15), res.Periods[5].EndDate)

	billable := res.Billable()
	for i := 1; i < len(billable); i++ {
		assert.True(t, billable[i-1].EndBalance.Equal(billable[i].StartBalance), "term %d", i)
	}
}

func TestEndDateOverridesLastPeriod(t *testing.T) {
	p := baseParams()
	end := date(2025, 1, 10)
	p.EndDate = &end
	res := mustRecompute(t, p)
	assert.Equal(t, end, res.Periods[11].EndDate)
}

func TestBalanceIncreaseMidPeriod(t *testing.T) {
	p := baseParams()
	p.BalanceModifications = []BalanceModification{{
		ID:     uuid.New(),
		Amount: d("500"),
		Date:   date(2024, 3, 15),
		Type:   BalanceIncrease,
	}}
	res := mustRecompute(t, p)

	entry, ok := res.BillableEntry(2)
	require.True(t, ok)
	assert.True(t, entry.BalanceModificationAmount.Equal(d("500")))
	assert.Equal(t, "1", entry.Metadata[MetaBalanceModifications])

	// 14 days on the old balance, 16 on the increased one.
	old := entry.StartBalance
	want := money.RoundValue(old.Mul(d("0.05")).Mul(d("14")).Div(d("360")).
		Add(old.Add(d("500")).Mul(d("0.05")).Mul(d("16")).Div(d("360"))), money.RoundHalfUp, 2)
	assert.True(t, entry.AccruedInterestForPeriod.Sub(want).Abs().LessThanOrEqual(d("0.01")),
		"interest %s want %s", entry.AccruedInterestForPeriod, want)

	assert.True(t, sumPrincipal(res.Billable()).Equal(d("10500")))
	assert.True(t, res.Last().EndBalance.IsZero())
	require.Len(t, res.BalanceModifications, 1)
	assert.True(t, res.BalanceModifications[0].UsedAmount.Equal(d("500")))
}

func TestBalanceDecreasePaysOffEarly(t *testing.T) {
	p := baseParams()
	p.BalanceModifications = []BalanceModification{{
		ID:     uuid.New(),
		Amount: d("9500"),
		Date:   date(2024, 2, 15),
		Type:   BalanceDecrease,
	}}
	res := mustRecompute(t, p)

	assert.True(t, res.EarlyRepayment)
	billable := res.Billable()
	require.Len(t, billable, 2)
	last := billable[1]
	assert.True(t, last.EndBalance.IsZero())
	assert.Equal(t, "true", last.Metadata[MetaEarlyRepayment])

	mod := res.BalanceModifications[0]
	assert.True(t, mod.UsedAmount.Equal(d("9185.60")), "used %s", mod.UsedAmount)
	assert.True(t, mod.UnusedAmount.Equal(d("314.40")), "unused %s", mod.UnusedAmount)
	assert.True(t, sumPrincipal(billable).Equal(d("10000").Sub(mod.UsedAmount)))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	p := baseParams()
	p.TermPaymentAmountOverride = []PaymentAmountOverride{{TermNumber: 3, PaymentAmount: d("0")}}
	first, err := json.Marshal(mustRecompute(t, p))
	require.NoError(t, err)
	second, err := json.Marshal(mustRecompute(t, p))
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestRecomputeDoesNotMutateParams(t *testing.T) {
	p := baseParams()
	p.BalanceModifications = []BalanceModification{{ID: uuid.New(), Amount: d("100"), Date: date(2024, 2, 10), Type: BalanceIncrease}}
	mustRecompute(t, p)
	assert.True(t, p.BalanceModifications[0].UsedAmount.IsZero())
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *LoanParams)
		want   error
	}{
		{"zero amount", func(p *LoanParams) { p.LoanAmount = decimal.Zero }, ErrInvalidLoanAmount},
		{"zero term", func(p *LoanParams) { p.Term = 0 }, ErrInvalidTerm},
		{"negative rate", func(p *LoanParams) { p.AnnualInterestRate = d("-0.01") }, ErrInvalidInterestRate},
		{"rate above 100%", func(p *LoanParams) { p.AnnualInterestRate = d("1.5") }, ErrInvalidInterestRate},
		{"unknown calendar", func(p *LoanParams) { p.CalendarType = "BUSINESS_252" }, ErrUnknownOption},
		{"unknown flush method", func(p *LoanParams) { p.FlushMethod = "sometimes" }, ErrUnknownOption},
		{"negative precision", func(p *LoanParams) { p.RoundingPrecision = -1 }, ErrInvalidRoundingPrecision},
		{"override past last term", func(p *LoanParams) {
			p.TermPaymentAmountOverride = []PaymentAmountOverride{{TermNumber: 12, PaymentAmount: d("10")}}
		}, ErrTermOutOfRange},
		{"first payment before start", func(p *LoanParams) {
			fp := date(2023, 12, 1)
			p.FirstPaymentDate = &fp
		}, ErrInvalidDate},
		{"overlapping rates", func(p *LoanParams) {
			p.RatesSchedule = []RateScheduleEntry{
				{StartDate: date(2024, 1, 1), EndDate: date(2024, 6, 1), AnnualInterestRate: d("0.05")},
				{StartDate: date(2024, 5, 1), EndDate: date(2024, 9, 1), AnnualInterestRate: d("0.06")},
			}
		}, ErrInvalidRateSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			tt.mutate(&p)
			_, err := Recompute(p, Options{CurrentDate: date(2024, 1, 15)})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRateAbove100Allowed(t *testing.T) {
	p := baseParams()
	p.AnnualInterestRate = d("1.5")
	p.AllowRateAbove100 = true
	res := mustRecompute(t, p)
	assert.True(t, res.Last().EndBalance.IsZero())
}

func TestResolveBillDaysBackFills(t *testing.T) {
	active := false
	rows := []BillDaysConfig{
		{TermNumber: 2, Days: 10},
		{TermNumber: 5, Days: 3, Kind: BillDaysCustom},
		{TermNumber: 7, Days: 20, Active: &active},
		{TermNumber: 8, Days: 99, Kind: BillDaysGenerated},
	}
	got := resolveBillDays(rows, 10, 5)
	require.Len(t, got, 10)

	wantDays := []int{5, 5, 10, 10, 10, 3, 3, 3, 3, 3}
	wantKind := []BillDaysKind{
		BillDaysDefault, BillDaysDefault, BillDaysCustom, BillDaysGenerated, BillDaysGenerated,
		BillDaysCustom, BillDaysGenerated, BillDaysGenerated, BillDaysGenerated, BillDaysGenerated,
	}
	for i, row := range got {
		assert.Equal(t, i, row.TermNumber)
		assert.Equal(t, wantDays[i], row.Days, "term %d", i)
		assert.Equal(t, wantKind[i], row.Kind, "term %d", i)
	}
}

func TestBuildRateTableFillsGaps(t *testing.T) {
	custom := []RateScheduleEntry{{StartDate: date(2024, 4, 1), EndDate: date(2024, 7, 1), AnnualInterestRate: d("0.07")}}
	table, err := buildRateTable(custom, date(2024, 1, 1), date(2025, 1, 1), d("0.05"))
	require.NoError(t, err)
	require.Len(t, table, 3)

	assert.Equal(t, RateEntryGenerated, table[0].Type)
	assert.Equal(t, date(2024, 4, 1), table[0].EndDate)
	assert.Equal(t, RateEntryCustom, table[1].Type)
	assert.Equal(t, RateEntryGenerated, table[2].Type)
	assert.Equal(t, date(2025, 1, 1), table[2].EndDate)

	assert.True(t, table.at(date(2024, 5, 5)).Equal(d("0.07")))
	assert.True(t, table.at(date(2024, 7, 1)).Equal(d("0.05")))
}

func TestRateChangeInsidePeriodSplitsEntry(t *testing.T) {
	p := baseParams()
	p.RatesSchedule = []RateScheduleEntry{{StartDate: date(2024, 3, 15), EndDate: date(2025, 1, 1), AnnualInterestRate: d("0.06")}}
	res := mustRecompute(t, p)

	require.Len(t, res.Billable(), 12)
	var split, billable []ScheduleEntry
	for _, e := range res.Entries {
		if e.Term != 2 {
			continue
		}
		if e.BillablePeriod {
			billable = append(billable, e)
		} else {
			split = append(split, e)
		}
	}
	require.Len(t, split, 1)
	require.Len(t, billable, 1)

	assert.Equal(t, "true", split[0].Metadata[MetaSplitDueToRateChange])
	assert.Equal(t, date(2024, 3, 1), split[0].PeriodStartDate)
	assert.Equal(t, date(2024, 3, 15), split[0].PeriodEndDate)
	assert.True(t, split[0].PeriodInterestRate.Equal(d("0.05")))
	assert.Equal(t, date(2024, 3, 15), billable[0].PeriodStartDate)
	assert.True(t, billable[0].PeriodInterestRate.Equal(d("0.06")))

	whole := billable[0].StartBalance
	want := money.RoundValue(whole.Mul(d("0.05")).Mul(d("14")).Div(d("360")).
		Add(whole.Mul(d("0.06")).Mul(d("16")).Div(d("360"))), money.RoundHalfUp, 2)
	total := split[0].AccruedInterestForPeriod.Add(billable[0].AccruedInterestForPeriod)
	assert.True(t, total.Sub(want).Abs().LessThanOrEqual(d("0.01")), "total %s want %s", total, want)
	assert.True(t, res.Last().EndBalance.IsZero())
}

func TestInterestRateOverrideSkipsSplit(t *testing.T) {
	p := baseParams()
	p.RatesSchedule = []RateScheduleEntry{{StartDate: date(2024, 3, 15), EndDate: date(2025, 1, 1), AnnualInterestRate: d("0.06")}}
	p.TermInterestRateOverride = []InterestRateOverride{{TermNumber: 2, InterestRate: d("0.12")}}
	res := mustRecompute(t, p)

	for _, e := range res.Entries {
		if e.Term == 2 {
			assert.True(t, e.BillablePeriod)
		}
	}
	e, _ := res.BillableEntry(2)
	assert.True(t, e.AccruedInterestForPeriod.Equal(p.round(e.StartBalance.Mul(d("0.01")))), "interest %s", e.AccruedInterestForPeriod)
}

func TestTermExtensionKeepsEMI(t *testing.T) {
	p := baseParams()
	p.TermExtensions = []TermExtension{{Quantity: 2, EMIRecalculationMode: EMIRecalculationNone}}
	res := mustRecompute(t, p)

	assert.True(t, res.EMI.Equal(d("856.07")))
	assert.True(t, res.EarlyRepayment)
	assert.LessOrEqual(t, len(res.Billable()), 13)
	assert.True(t, res.Last().EndBalance.IsZero())
}

func TestTermExtensionRecalculatesFromStart(t *testing.T) {
	p := baseParams()
	p.TermExtensions = []TermExtension{{Quantity: 12, EMIRecalculationMode: EMIRecalculationFromStart}}
	res := mustRecompute(t, p)

	want := CalculateEMI(d("10000"), d("0.05"), 24, money.RoundHalfUp, 2)
	assert.True(t, res.EMI.Equal(want), "emi %s want %s", res.EMI, want)
	assert.Len(t, res.Billable(), 24)
	assert.True(t, res.Last().EndBalance.IsZero())
}

func TestTermExtensionRecalculatesFromTerm(t *testing.T) {
	p := baseParams()
	p.TermPaymentAmountOverride = []PaymentAmountOverride{{TermNumber: 6, PaymentAmount: d("0")}}
	p.TermExtensions = []TermExtension{{
		Quantity:             1,
		EMIRecalculationMode: EMIRecalculationFromTerm,
		EMIRecalculationTerm: 6,
		ExcludeSkipAPayTerms: true,
	}}
	res := mustRecompute(t, p)

	entry, ok := res.BillableEntry(6)
	require.True(t, ok)
	require.Contains(t, entry.Metadata, MetaEMIRecalculated)
	assert.Equal(t, "true", entry.Metadata[MetaSkipAPay])

	next, _ := res.BillableEntry(7)
	emi := d(entry.Metadata[MetaEMIRecalculated])
	assert.True(t, next.TotalPayment.Equal(emi), "payment %s emi %s", next.TotalPayment, emi)
	assert.Len(t, res.Billable(), 13)
	assert.True(t, res.Last().EndBalance.IsZero())
}

func TestSkipAPayDefersInterest(t *testing.T) {
	p := baseParams()
	p.TermPaymentAmountOverride = []PaymentAmountOverride{{TermNumber: 3, PaymentAmount: d("0")}}
	res := mustRecompute(t, p)

	skip, _ := res.BillableEntry(3)
	assert.True(t, skip.TotalPayment.IsZero())
	assert.True(t, skip.Principal.IsZero())
	assert.True(t, skip.DueInterestForTerm.IsZero())
	assert.True(t, skip.UnbilledDeferredInterest.Equal(skip.AccruedInterestForPeriod))
	assert.True(t, skip.EndBalance.Equal(skip.StartBalance))

	next, _ := res.BillableEntry(4)
	assert.True(t, next.BilledDeferredInterest.Equal(skip.UnbilledDeferredInterest))
	assert.True(t, next.DueInterestForTerm.Equal(next.AccruedInterestForPeriod.Add(skip.UnbilledDeferredInterest)))
	assert.True(t, res.Last().EndBalance.IsZero())
	assert.True(t, sumPrincipal(res.Billable()).Equal(d("10000")))
}

func TestPayoffBillsPendingDeferrals(t *testing.T) {
	p := baseParams()
	p.Fees = []Fee{{Type: FeeFixed, Amount: d("5")}}
	p.TermPaymentAmountOverride = []PaymentAmountOverride{
		{TermNumber: 1, PaymentAmount: d("0")},
		{TermNumber: 2, PaymentAmount: d("1")},
	}
	p.BalanceModifications = []BalanceModification{{
		ID:     uuid.New(),
		Amount: d("20000"),
		Date:   date(2024, 3, 1),
		Type:   BalanceDecrease,
	}}
	res := mustRecompute(t, p)

	assert.True(t, res.EarlyRepayment)
	billable := res.Billable()
	require.Len(t, billable, 3)
	closing := billable[2]
	assert.True(t, closing.EndBalance.IsZero())
	assert.True(t, closing.UnbilledDeferredInterest.IsZero(), "deferred interest %s", closing.UnbilledDeferredInterest)
	assert.True(t, closing.UnbilledDeferredFees.IsZero(), "deferred fees %s", closing.UnbilledDeferredFees)

	skipped := billable[1]
	assert.True(t, closing.DueInterestForTerm.Equal(skipped.UnbilledDeferredInterest.Add(closing.AccruedInterestForPeriod)),
		"closing interest %s", closing.DueInterestForTerm)
	assert.True(t, closing.Fees.Equal(d("10")), "closing fees %s", closing.Fees)

	billed, accrued, fees := decimal.Zero, decimal.Zero, decimal.Zero
	for _, e := range billable {
		billed = billed.Add(e.DueInterestForTerm)
		fees = fees.Add(e.Fees)
	}
	for _, e := range res.Entries {
		accrued = accrued.Add(e.AccruedInterestForPeriod)
	}
	assert.True(t, billed.Equal(accrued), "billed %s accrued %s", billed, accrued)
	assert.True(t, fees.Equal(d("15")), "fees %s", fees)
}

func TestStaticInterestOverride(t *testing.T) {
	p := baseParams()
	p.TermInterestAmountOverride = []InterestAmountOverride{
		{TermNumber: 1, InterestAmount: d("38.27")},
		{TermNumber: 2, InterestAmount: d("100")},
	}
	res := mustRecompute(t, p)

	near, _ := res.BillableEntry(1)
	assert.True(t, near.AccruedInterestForPeriod.Equal(d("38.27")))
	assert.Contains(t, near.Metadata, MetaStaticInterestOverride)
	assert.NotContains(t, near.Metadata, MetaRateVarianceExceeded)

	far, _ := res.BillableEntry(2)
	assert.True(t, far.AccruedInterestForPeriod.Equal(d("100")))
	assert.Equal(t, "true", far.Metadata[MetaRateVarianceExceeded])
}

func TestFixedAndPercentageFees(t *testing.T) {
	p := baseParams()
	term := 0
	p.Fees = []Fee{
		{ID: "servicing", Type: FeeFixed, Amount: d("5")},
		{ID: "insurance", Type: FeePercentage, Percentage: d("0.01"), BasedOn: FeeBasePrincipal, TermNumber: &term},
	}
	res := mustRecompute(t, p)

	first, _ := res.BillableEntry(0)
	assert.True(t, first.Fees.Equal(d("13.14")), "fees %s", first.Fees)
	assert.True(t, first.TotalPayment.Equal(d("869.21")), "total %s", first.TotalPayment)

	second, _ := res.BillableEntry(1)
	assert.True(t, second.Fees.Equal(d("5")))
}

func TestFlushAtThreshold(t *testing.T) {
	p := baseParams()
	p.CalendarType = calendar.Actual365
	p.FlushMethod = FlushAtThreshold
	p.FlushThreshold = d("0.01")
	res := mustRecompute(t, p)

	assert.True(t, res.UnbilledRounding.Abs().LessThan(d("0.01")), "residue %s", res.UnbilledRounding)
	assert.True(t, res.Last().EndBalance.IsZero())
}

func TestFlushNoneKeepsResidue(t *testing.T) {
	p := baseParams()
	p.CalendarType = calendar.Actual365
	p.FlushMethod = FlushNone
	res := mustRecompute(t, p)

	residue := decimal.Zero
	for _, e := range res.Entries {
		residue = residue.Add(e.InterestRoundingError)
	}
	assert.True(t, residue.Equal(res.UnbilledRounding))
}

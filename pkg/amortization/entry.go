package amortization

import (
	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/shopspring/decimal"
)

// Metadata keys set on schedule entries.
const (
	MetaFinalAdjustment         = "finalAdjustment"
	MetaEarlyRepayment          = "earlyRepayment"
	MetaStaticInterestOverride  = "staticInterestOverride"
	MetaEquivalentAnnualRate    = "equivalentAnnualRate"
	MetaRateVarianceExceeded    = "equivalentRateVarianceExceeded"
	MetaSplitDueToRateChange    = "splitDueToRateChange"
	MetaInterestRateOverride    = "interestRateOverride"
	MetaPaymentAmountOverride   = "paymentAmountOverride"
	MetaSkipAPay                = "skipAPay"
	MetaEMIRecalculated         = "emiRecalculated"
	MetaRoundingFlushed         = "roundingFlushed"
	MetaBalanceModifications    = "balanceModifications"
	MetaPrincipalClamped        = "principalClamped"
	MetaDeferredInterestCreated = "deferredInterestCreated"
)

// ScheduleEntry is one row of the amortization schedule.
type ScheduleEntry struct {
	Term           int          `json:"term"`
	BillablePeriod bool         `json:"billablePeriod"`
	BillingModel   BillingModel `json:"billingModel"`

	PeriodStartDate        civil.Date      `json:"periodStartDate"`
	PeriodEndDate          civil.Date      `json:"periodEndDate"`
	PeriodBillOpenDate     civil.Date      `json:"periodBillOpenDate"`
	PeriodBillDueDate      civil.Date      `json:"periodBillDueDate"`
	PreBillDays            int             `json:"prebillDaysConfiguration"`
	DueBillDaysAfterPeriod int             `json:"billDueDaysAfterPeriodEndConfiguration"`
	CalendarType           calendar.Type   `json:"calendarType"`
	PeriodInterestRate     decimal.Decimal `json:"periodInterestRate"`
	DaysInPeriod           int             `json:"daysInPeriod"`
	PerDiem                decimal.Decimal `json:"perDiem"`

	StartBalance              decimal.Decimal `json:"startBalance"`
	BalanceModificationAmount decimal.Decimal `json:"balanceModificationAmount"`
	Principal                 decimal.Decimal `json:"principal"`

	AccruedInterestForPeriod   decimal.Decimal `json:"accruedInterestForPeriod"`
	DueInterestForTerm         decimal.Decimal `json:"dueInterestForTerm"`
	InterestRoundingError      decimal.Decimal `json:"interestRoundingError"`
	UnbilledTotalRoundingError decimal.Decimal `json:"unbilledTotalRoundingError"`
	BilledDeferredInterest     decimal.Decimal `json:"billedDeferredInterest"`
	UnbilledDeferredInterest   decimal.Decimal `json:"unbilledDeferredInterest"`

	Fees                 decimal.Decimal `json:"fees"`
	BilledDeferredFees   decimal.Decimal `json:"billedDeferredFees"`
	UnbilledDeferredFees decimal.Decimal `json:"unbilledDeferredFees"`

	TotalPayment decimal.Decimal `json:"totalPayment"`
	EndBalance   decimal.Decimal `json:"endBalance"`

	Metadata map[string]string `json:"metadata,omitempty"`
	DSI      *DSIDetails       `json:"dsi,omitempty"`
}

func (e *ScheduleEntry) flag(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// DSIDetails carries the actual and re-amortized view of a daily simple
// interest term.
type DSIDetails struct {
	IsCurrentActiveTerm bool        `json:"isCurrentActiveTerm"`
	IsDelinquent        bool        `json:"isDelinquent"`
	IsPaid              bool        `json:"isPaid"`
	PaymentDate         *civil.Date `json:"paymentDate,omitempty"`
	PreviousPaymentDate *civil.Date `json:"previousPaymentDate,omitempty"`
	InterestDaysUsed    int         `json:"interestDaysUsed"`

	ActualStartBalance decimal.Decimal `json:"actualStartBalance"`
	ActualEndBalance   decimal.Decimal `json:"actualEndBalance"`
	ActualInterest     decimal.Decimal `json:"actualInterest"`
	ActualPrincipal    decimal.Decimal `json:"actualPrincipal"`
	ActualFees         decimal.Decimal `json:"actualFees"`
	InterestSavings    decimal.Decimal `json:"interestSavings"`
	InterestPenalty    decimal.Decimal `json:"interestPenalty"`

	ReAmortizedStartBalance decimal.Decimal `json:"reAmortizedStartBalance"`
	ReAmortizedEndBalance   decimal.Decimal `json:"reAmortizedEndBalance"`
	ReAmortizedInterest     decimal.Decimal `json:"reAmortizedInterest"`
	ReAmortizedPrincipal    decimal.Decimal `json:"reAmortizedPrincipal"`
	ReAmortizedFees         decimal.Decimal `json:"reAmortizedFees"`
	ReAmortizedTotalPayment decimal.Decimal `json:"reAmortizedTotalPayment"`
	ReAmortizedDays         int             `json:"reAmortizedDays"`
	ReAmortizedPerDiem      decimal.Decimal `json:"reAmortizedPerDiem"`
}

// Result is the output of one recomputation.
type Result struct {
	Params               LoanParams            `json:"-"`
	CurrentDate          civil.Date            `json:"currentDate"`
	EMI                  decimal.Decimal       `json:"emi"`
	Entries              []ScheduleEntry       `json:"schedule"`
	Periods              []PeriodScheduleEntry `json:"periodsSchedule"`
	Rates                []RateScheduleEntry   `json:"ratesSchedule"`
	PreBillDays          []BillDaysConfig      `json:"preBillDays"`
	DueBillDays          []BillDaysConfig      `json:"dueBillDays"`
	BalanceModifications []BalanceModification `json:"balanceModifications"`
	EarlyRepayment       bool                  `json:"earlyRepayment"`
	UnbilledRounding     decimal.Decimal       `json:"unbilledRounding"`

	rates rateTable
	terms []termSettings
}

// Billable returns the billable entries in term order.
func (r *Result) Billable() []ScheduleEntry {
	out := make([]ScheduleEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e.BillablePeriod {
			out = append(out, e)
		}
	}
	return out
}

// BillableEntry returns the billable entry for term.
func (r *Result) BillableEntry(term int) (ScheduleEntry, bool) {
	for _, e := range r.Entries {
		if e.BillablePeriod && e.Term == term {
			return e, true
		}
	}
	return ScheduleEntry{}, false
}

// Last returns the final schedule entry.
func (r *Result) Last() ScheduleEntry {
	return r.Entries[len(r.Entries)-1]
}

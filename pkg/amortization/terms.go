package amortization

import (
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/mcclellann/loanengine/pkg/interest"
	"github.com/shopspring/decimal"
)

// termSettings is everything the per-term overrides resolve to.
type termSettings struct {
	calendar         calendar.Type
	billingModel     BillingModel
	paymentOverride  *decimal.Decimal
	interestOverride *InterestAmountOverride
	rateOverride     *decimal.Decimal
}

func (s termSettings) skipAPay() bool {
	return s.paymentOverride != nil && s.paymentOverride.IsZero()
}

func (s termSettings) dsi() bool {
	return s.billingModel == BillingModelDailySimpleInterest
}

// resolveTerms applies every per-term override; the last row for a term wins.
func resolveTerms(p LoanParams, n int) []termSettings {
	out := make([]termSettings, n)
	for i := range out {
		out[i] = termSettings{calendar: p.CalendarType, billingModel: p.BillingModel}
	}
	for _, c := range p.TermCalendars {
		out[c.TermNumber].calendar = c.CalendarType
	}
	for _, b := range p.BillingModelOverrides {
		out[b.TermNumber].billingModel = b.BillingModel
	}
	for _, o := range p.TermPaymentAmountOverride {
		amount := o.PaymentAmount
		out[o.TermNumber].paymentOverride = &amount
	}
	for _, o := range p.TermInterestAmountOverride {
		if isActive(o.Active) {
			o := o
			out[o.TermNumber].interestOverride = &o
		}
	}
	for _, o := range p.TermInterestRateOverride {
		rate := o.InterestRate
		out[o.TermNumber].rateOverride = &rate
	}
	return out
}

func (s termSettings) calculator(p LoanParams) interest.Calculator {
	return interest.NewCalculator(calendar.New(s.calendar), p.PerDiemCalculationType)
}

// emiPlan is the winning EMI recalculation request among active extensions.
type emiPlan struct {
	mode        EMIRecalculationMode
	term        int
	excludeSkip bool
}

func planEMI(exts []TermExtension) emiPlan {
	plan := emiPlan{mode: EMIRecalculationNone}
	for _, e := range exts {
		if !isActive(e.Active) || e.EMIRecalculationMode == "" || e.EMIRecalculationMode == EMIRecalculationNone {
			continue
		}
		plan = emiPlan{mode: e.EMIRecalculationMode, term: e.EMIRecalculationTerm, excludeSkip: e.ExcludeSkipAPayTerms}
	}
	return plan
}

// payingTerms counts terms in [from, n), leaving out skip-a-pay terms when asked.
func payingTerms(terms []termSettings, from int, excludeSkip bool) int {
	count := 0
	for t := from; t < len(terms); t++ {
		if excludeSkip && terms[t].skipAPay() {
			continue
		}
		count++
	}
	return count
}

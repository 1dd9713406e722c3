package amortization

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/mcclellann/loanengine/pkg/interest"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// LoanParams is the construction contract for a loan schedule.
type LoanParams struct {
	LoanAmount             decimal.Decimal        `json:"loanAmount"`
	OriginationFee         decimal.Decimal        `json:"originationFee"`
	AnnualInterestRate     decimal.Decimal        `json:"annualInterestRate"`
	AllowRateAbove100      bool                   `json:"allowRateAbove100,omitempty"`
	Term                   int                    `json:"term" validate:"gt=0"`
	StartDate              civil.Date             `json:"startDate"`
	EndDate                *civil.Date            `json:"endDate,omitempty"`
	FirstPaymentDate       *civil.Date            `json:"firstPaymentDate,omitempty"`
	CalendarType           calendar.Type          `json:"calendarType" validate:"oneof=ACTUAL_ACTUAL ACTUAL_360 ACTUAL_365 THIRTY_360 THIRTY_ACTUAL"`
	RoundingMethod         money.RoundingMethod   `json:"roundingMethod" validate:"oneof=ROUND_UP ROUND_DOWN ROUND_HALF_UP ROUND_HALF_DOWN ROUND_HALF_EVEN ROUND_HALF_CEIL ROUND_HALF_FLOOR"`
	RoundingPrecision      int                    `json:"roundingPrecision"`
	FlushMethod            FlushMethod            `json:"flushMethod" validate:"oneof=none at_end at_threshold"`
	FlushThreshold         decimal.Decimal        `json:"flushThreshold"`
	PerDiemCalculationType interest.PerDiemMethod `json:"perDiemCalculationType" validate:"oneof=AnnualRateDividedByDaysInYear MonthlyRateDividedByDaysInMonth"`
	BillingModel           BillingModel           `json:"billingModel" validate:"oneof=amortized dailySimpleInterest"`
	AcceptableRateVariance decimal.Decimal        `json:"acceptableRateVariance"`
	DefaultPreBillDays     int                    `json:"defaultPreBillDays" validate:"gte=0"`
	DefaultDueBillDays     int                    `json:"defaultDueBillDays" validate:"gte=0"`

	Fees                       []Fee                    `json:"fees,omitempty" validate:"dive"`
	RatesSchedule              []RateScheduleEntry      `json:"ratesSchedule,omitempty" validate:"dive"`
	PeriodsSchedule            []PeriodScheduleEntry    `json:"periodsSchedule,omitempty"`
	ChangePaymentDates         []PaymentDateChange      `json:"changePaymentDates,omitempty" validate:"dive"`
	BalanceModifications       []BalanceModification    `json:"balanceModifications,omitempty" validate:"dive"`
	TermPaymentAmountOverride  []PaymentAmountOverride  `json:"termPaymentAmountOverride,omitempty" validate:"dive"`
	TermInterestAmountOverride []InterestAmountOverride `json:"termInterestAmountOverride,omitempty" validate:"dive"`
	TermInterestRateOverride   []InterestRateOverride   `json:"termInterestRateOverride,omitempty" validate:"dive"`
	PreBillDays                []BillDaysConfig         `json:"preBillDays,omitempty" validate:"dive"`
	DueBillDays                []BillDaysConfig         `json:"dueBillDays,omitempty" validate:"dive"`
	TermExtensions             []TermExtension          `json:"termExtensions,omitempty" validate:"dive"`
	TermCalendars              []TermCalendar           `json:"termCalendars,omitempty" validate:"dive"`
	BillingModelOverrides      []BillingModelOverride   `json:"billingModelOverrides,omitempty" validate:"dive"`
	DSIPaymentHistory          DSILedger                `json:"dsiPaymentHistory,omitempty"`
}

// DefaultLoanParams returns parameters with every option at its default.
// Decode caller input on top of it so omitted fields keep their defaults.
func DefaultLoanParams() LoanParams {
	return LoanParams{
		CalendarType:           calendar.Thirty360,
		RoundingMethod:         money.RoundHalfUp,
		RoundingPrecision:      2,
		FlushMethod:            FlushAtEnd,
		FlushThreshold:         decimal.RequireFromString("0.01"),
		PerDiemCalculationType: interest.AnnualRateDividedByDaysInYear,
		BillingModel:           BillingModelAmortized,
		AcceptableRateVariance: decimal.RequireFromString("0.005"),
		DefaultPreBillDays:     5,
		DefaultDueBillDays:     0,
	}
}

var hundredPercent = decimal.NewFromInt(1)

// Validate checks the parameters without computing a schedule. Term-number
// references are checked against the total term count.
func (p LoanParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "oneof" {
					return fmt.Errorf("%w: %s=%v", ErrUnknownOption, fe.Namespace(), fe.Value())
				}
			}
			fe := verrs[0]
			switch fe.Field() {
			case "Term":
				return fmt.Errorf("%w: %v", ErrInvalidTerm, fe.Value())
			case "TermNumber", "EMIRecalculationTerm":
				return fmt.Errorf("%w: %s=%v", ErrTermOutOfRange, fe.Namespace(), fe.Value())
			}
			return fmt.Errorf("%w: %s failed %s", ErrInvalidParameter, fe.Namespace(), fe.Tag())
		}
		return err
	}
	if !p.LoanAmount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidLoanAmount, p.LoanAmount)
	}
	if p.OriginationFee.IsNegative() {
		return fmt.Errorf("%w: origination fee %s is negative", ErrInvalidAmount, p.OriginationFee)
	}
	if err := checkRate(p.AnnualInterestRate, p.AllowRateAbove100); err != nil {
		return err
	}
	if p.RoundingPrecision < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRoundingPrecision, p.RoundingPrecision)
	}
	if p.FlushThreshold.IsNegative() {
		return fmt.Errorf("%w: flush threshold %s is negative", ErrInvalidAmount, p.FlushThreshold)
	}
	if !p.StartDate.IsValid() {
		return fmt.Errorf("%w: start date %s", ErrInvalidDate, p.StartDate)
	}
	if p.FirstPaymentDate != nil && !p.FirstPaymentDate.After(p.StartDate) {
		return fmt.Errorf("%w: first payment date %s must be after start date %s", ErrInvalidDate, p.FirstPaymentDate, p.StartDate)
	}
	if p.EndDate != nil && !p.EndDate.After(p.StartDate) {
		return fmt.Errorf("%w: end date %s must be after start date %s", ErrInvalidDate, p.EndDate, p.StartDate)
	}
	for _, r := range p.RatesSchedule {
		if err := checkRate(r.AnnualInterestRate, p.AllowRateAbove100); err != nil {
			return err
		}
	}
	for _, o := range p.TermInterestRateOverride {
		if err := checkRate(o.InterestRate, p.AllowRateAbove100); err != nil {
			return err
		}
	}
	for _, o := range p.TermPaymentAmountOverride {
		if o.PaymentAmount.IsNegative() {
			return fmt.Errorf("%w: payment override for term %d is negative", ErrInvalidAmount, o.TermNumber)
		}
	}
	for _, o := range p.TermInterestAmountOverride {
		if o.InterestAmount.IsNegative() {
			return fmt.Errorf("%w: interest override for term %d is negative", ErrInvalidAmount, o.TermNumber)
		}
	}
	for _, m := range p.BalanceModifications {
		if !m.Amount.IsPositive() {
			return fmt.Errorf("%w: balance modification %s amount %s", ErrInvalidAmount, m.ID, m.Amount)
		}
		if !m.Date.IsValid() {
			return fmt.Errorf("%w: balance modification %s date", ErrInvalidDate, m.ID)
		}
	}
	for _, f := range p.Fees {
		if f.Amount.IsNegative() || f.Percentage.IsNegative() {
			return fmt.Errorf("%w: fee %q is negative", ErrInvalidAmount, f.ID)
		}
		if f.Type == FeePercentage && f.BasedOn == "" {
			return fmt.Errorf("%w: percentage fee %q has no base", ErrUnknownOption, f.ID)
		}
	}
	return p.checkTermReferences(p.TotalTerms())
}

func checkRate(rate decimal.Decimal, allowAbove100 bool) error {
	if rate.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidInterestRate, rate)
	}
	if rate.GreaterThan(hundredPercent) && !allowAbove100 {
		return fmt.Errorf("%w: %s exceeds 100%%", ErrInvalidInterestRate, rate)
	}
	return nil
}

func (p LoanParams) checkTermReferences(n int) error {
	check := func(kind string, term int) error {
		if term < 0 || term >= n {
			return fmt.Errorf("%w: %s references term %d of %d", ErrTermOutOfRange, kind, term, n)
		}
		return nil
	}
	var refs []struct {
		kind string
		term int
	}
	add := func(kind string, term int) {
		refs = append(refs, struct {
			kind string
			term int
		}{kind, term})
	}
	for _, o := range p.TermPaymentAmountOverride {
		add("payment amount override", o.TermNumber)
	}
	for _, o := range p.TermInterestAmountOverride {
		add("interest amount override", o.TermNumber)
	}
	for _, o := range p.TermInterestRateOverride {
		add("interest rate override", o.TermNumber)
	}
	for _, o := range p.PreBillDays {
		add("pre-bill days", o.TermNumber)
	}
	for _, o := range p.DueBillDays {
		add("due-bill days", o.TermNumber)
	}
	for _, o := range p.TermCalendars {
		add("term calendar", o.TermNumber)
	}
	for _, o := range p.BillingModelOverrides {
		add("billing model override", o.TermNumber)
	}
	for _, o := range p.ChangePaymentDates {
		add("payment date change", o.TermNumber)
	}
	for _, f := range p.Fees {
		if f.TermNumber != nil {
			add("fee", *f.TermNumber)
		}
	}
	for term := range p.DSIPaymentHistory {
		add("dsi payment history", term)
	}
	for _, e := range p.TermExtensions {
		if isActive(e.Active) && e.EMIRecalculationMode == EMIRecalculationFromTerm {
			add("term extension", e.EMIRecalculationTerm)
		}
	}
	for _, r := range refs {
		if err := check(r.kind, r.term); err != nil {
			return err
		}
	}
	return nil
}

// TotalTerms is the nominal term count plus active extensions.
func (p LoanParams) TotalTerms() int {
	n := p.Term
	for _, e := range p.TermExtensions {
		if isActive(e.Active) {
			n += e.Quantity
		}
	}
	return n
}

// Principal is the amount amortized: loan amount plus origination fee.
func (p LoanParams) Principal() decimal.Decimal {
	return p.LoanAmount.Add(p.OriginationFee)
}

// Clone returns a copy whose collections can be modified independently.
func (p LoanParams) Clone() LoanParams {
	c := p
	c.Fees = slices.Clone(p.Fees)
	c.RatesSchedule = slices.Clone(p.RatesSchedule)
	c.PeriodsSchedule = slices.Clone(p.PeriodsSchedule)
	c.ChangePaymentDates = slices.Clone(p.ChangePaymentDates)
	c.BalanceModifications = slices.Clone(p.BalanceModifications)
	c.TermPaymentAmountOverride = slices.Clone(p.TermPaymentAmountOverride)
	c.TermInterestAmountOverride = slices.Clone(p.TermInterestAmountOverride)
	c.TermInterestRateOverride = slices.Clone(p.TermInterestRateOverride)
	c.PreBillDays = slices.Clone(p.PreBillDays)
	c.DueBillDays = slices.Clone(p.DueBillDays)
	c.TermExtensions = slices.Clone(p.TermExtensions)
	c.TermCalendars = slices.Clone(p.TermCalendars)
	c.BillingModelOverrides = slices.Clone(p.BillingModelOverrides)
	if p.DSIPaymentHistory != nil {
		c.DSIPaymentHistory = maps.Clone(p.DSIPaymentHistory)
	}
	return c
}

func (p LoanParams) places() int32 {
	return int32(p.RoundingPrecision)
}

func (p LoanParams) round(d decimal.Decimal) decimal.Decimal {
	return money.RoundValue(d, p.RoundingMethod, p.places())
}

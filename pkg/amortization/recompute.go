package amortization

import (
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/interest"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options configure a recomputation.
type Options struct {
	// CurrentDate drives DSI classification. Zero means today.
	CurrentDate civil.Date
	Logger      *zap.Logger
}

// Recompute derives the full schedule from p. It has no side effects and
// returns the same result for the same inputs.
func Recompute(p LoanParams, opts Options) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	current := opts.CurrentDate
	if current.IsZero() {
		current = civil.DateOf(time.Now())
	}

	n := p.TotalTerms()
	periods, err := buildPeriods(p, n)
	if err != nil {
		return nil, err
	}
	rates, err := buildRateTable(p.RatesSchedule, p.StartDate, periods[n-1].EndDate, p.AnnualInterestRate)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Params:      p.Clone(),
		CurrentDate: current,
		Periods:     periods,
		Rates:       rates,
		PreBillDays: resolveBillDays(p.PreBillDays, n, p.DefaultPreBillDays),
		DueBillDays: resolveBillDays(p.DueBillDays, n, p.DefaultDueBillDays),
		rates:       rates,
		terms:       resolveTerms(p, n),
	}
	s := &scheduler{p: p, r: r}
	s.run()
	applyDSI(r)

	logger.Debug("schedule recomputed",
		zap.String("op", "amortization.Recompute"),
		zap.Int("terms", n),
		zap.Int("entries", len(r.Entries)),
		zap.String("emi", r.EMI.String()),
		zap.Bool("earlyRepayment", r.EarlyRepayment),
	)
	return r, nil
}

// scheduler carries the running state of one pass over the terms.
type scheduler struct {
	p LoanParams
	r *Result

	mods             []BalanceModification
	balance          decimal.Decimal
	deferredInterest decimal.Decimal
	deferredFees     decimal.Decimal
	unbilled         decimal.Decimal
	emi              decimal.Decimal
}

func (s *scheduler) run() {
	p := s.p
	terms := s.r.terms
	n := len(terms)

	plan := planEMI(p.TermExtensions)
	emiTerms := p.Term
	if plan.mode == EMIRecalculationFromStart {
		emiTerms = payingTerms(terms, 0, plan.excludeSkip)
	}
	s.emi = CalculateEMI(p.Principal(), p.AnnualInterestRate, emiTerms, p.RoundingMethod, p.places())
	s.r.EMI = s.emi
	s.balance = p.Principal()
	s.mods = sortedModifications(p.BalanceModifications)

	for t := 0; t < n; t++ {
		recalculated := false
		if plan.mode == EMIRecalculationFromTerm && t == plan.term {
			s.emi = CalculateEMI(s.balance, s.rateAt(t, s.r.Periods[t].StartDate), payingTerms(terms, t, plan.excludeSkip), p.RoundingMethod, p.places())
			recalculated = true
		}
		if s.term(t, t == n-1, recalculated) && t < n-1 {
			s.r.EarlyRepayment = true
			break
		}
	}

	if p.FlushMethod == FlushAtEnd {
		s.flushAtEnd()
	}
	s.r.BalanceModifications = s.mods
	s.r.UnbilledRounding = s.unbilled
}

func (s *scheduler) rateAt(t int, d civil.Date) decimal.Decimal {
	if o := s.r.terms[t].rateOverride; o != nil {
		return *o
	}
	return s.r.rates.at(d)
}

// term computes one term, appending its entries. It reports whether the
// balance reached zero.
func (s *scheduler) term(t int, last, emiRecalculated bool) bool {
	p := s.p
	period := s.r.Periods[t]
	set := s.r.terms[t]
	calc := set.calculator(p)

	preDays, dueDays := s.r.PreBillDays[t].Days, s.r.DueBillDays[t].Days
	if set.dsi() {
		preDays, dueDays = 0, 0
	}
	dueDate := period.EndDate.AddDays(dueDays)
	openDate := dueDate.AddDays(-preDays)

	startBalance := s.balance
	slices, balance, net := applyModifications(period.StartDate, period.EndDate, t == 0, s.balance, s.mods)

	var pieces []ratePiece
	for _, sl := range slices {
		if set.rateOverride != nil {
			pieces = append(pieces, ratePiece{start: sl.start, end: sl.end, rate: *set.rateOverride, balance: sl.balance})
			continue
		}
		pieces = append(pieces, s.r.rates.split(sl.start, sl.end, sl.balance)...)
	}

	entry := ScheduleEntry{
		Term:                      t,
		BillablePeriod:            true,
		BillingModel:              set.billingModel,
		PeriodStartDate:           period.StartDate,
		PeriodEndDate:             period.EndDate,
		PeriodBillOpenDate:        openDate,
		PeriodBillDueDate:         dueDate,
		PreBillDays:               preDays,
		DueBillDaysAfterPeriod:    dueDays,
		CalendarType:              set.calendar,
		PeriodInterestRate:        s.rateAt(t, period.EndDate.AddDays(-1)),
		StartBalance:              startBalance,
		BalanceModificationAmount: net,
	}
	if len(slices) > 1 || !net.IsZero() {
		entry.flag(MetaBalanceModifications, strconv.Itoa(len(slices)-1))
	}
	if set.rateOverride != nil {
		entry.flag(MetaInterestRateOverride, set.rateOverride.String())
	}

	var accrued, splitAccrued decimal.Decimal
	if ov := set.interestOverride; ov != nil {
		rounded := money.Round(ov.InterestAmount, p.RoundingMethod, p.places())
		accrued = rounded.Value
		entry.InterestRoundingError = rounded.Residual
		s.unbilled = s.unbilled.Add(rounded.Residual)

		unit := decimal.Zero
		for _, sl := range slices {
			unit = unit.Add(calc.Interest(sl.balance, interest.UnitRate(), sl.start, sl.end))
		}
		equivalent := interest.EquivalentRate(ov.InterestAmount, unit)
		variance := p.AcceptableRateVariance
		if ov.AcceptableRateVariance != nil {
			variance = *ov.AcceptableRateVariance
		}
		entry.flag(MetaStaticInterestOverride, ov.InterestAmount.String())
		entry.flag(MetaEquivalentAnnualRate, equivalent.Round(8).String())
		if !interest.WithinVariance(equivalent, s.rateAt(t, period.StartDate), variance) {
			entry.flag(MetaRateVarianceExceeded, "true")
		}
	} else {
		raw := decimal.Zero
		for _, pc := range pieces {
			raw = raw.Add(calc.Interest(pc.balance, pc.rate, pc.start, pc.end))
		}
		if set.rateOverride == nil && !set.dsi() {
			var splits []ScheduleEntry
			splits, splitAccrued = s.splitAtRateChanges(&entry, calc, pieces, slices)
			s.r.Entries = append(s.r.Entries, splits...)
		}
		rounded := money.Round(raw, p.RoundingMethod, p.places())
		accrued = rounded.Value
		entry.InterestRoundingError = rounded.Residual
		s.unbilled = s.unbilled.Add(rounded.Residual)
	}

	if p.FlushMethod == FlushAtThreshold && s.unbilled.Abs().GreaterThanOrEqual(p.FlushThreshold) {
		if fold := p.round(s.unbilled); !fold.IsZero() {
			accrued = accrued.Add(fold)
			s.unbilled = s.unbilled.Sub(fold)
			entry.flag(MetaRoundingFlushed, fold.String())
		}
	}
	entry.UnbilledTotalRoundingError = s.unbilled
	entry.AccruedInterestForPeriod = accrued.Sub(splitAccrued)
	dueInterest := accrued.Add(s.deferredInterest)

	payment := s.emi
	if set.paymentOverride != nil {
		payment = *set.paymentOverride
		entry.flag(MetaPaymentAmountOverride, payment.String())
		if set.skipAPay() {
			entry.flag(MetaSkipAPay, "true")
		}
	}
	if emiRecalculated {
		entry.flag(MetaEMIRecalculated, s.emi.String())
	}

	feesBefore := s.fees(t, dueInterest, payment, nil)

	// A term left without balance closes the loan, so nothing defers past it.
	closing := last || !balance.IsPositive()
	interestPaid := money.Min(payment, dueInterest)
	if closing {
		interestPaid = dueInterest
	}
	deferredOut := dueInterest.Sub(interestPaid)
	if deferredOut.IsPositive() {
		entry.flag(MetaDeferredInterestCreated, deferredOut.String())
	}

	principal := money.Max(payment.Sub(interestPaid), decimal.Zero)
	if principal.GreaterThan(balance) {
		principal = balance
		entry.flag(MetaPrincipalClamped, "true")
	}
	if last && !principal.Equal(balance) {
		principal = balance
		entry.flag(MetaFinalAdjustment, "true")
	}

	feesAfter := s.fees(t, dueInterest, payment, &principal)
	feesDue := s.deferredFees.Add(feesBefore).Add(feesAfter)
	billedFees, deferredFeesOut := feesDue, decimal.Zero
	if !closing && (deferredOut.IsPositive() || payment.IsZero()) {
		billedFees, deferredFeesOut = decimal.Zero, feesDue
	}
	if billedFees.IsPositive() {
		entry.BilledDeferredFees = s.deferredFees
	}

	entry.DueInterestForTerm = interestPaid
	entry.BilledDeferredInterest = money.Min(interestPaid, s.deferredInterest)
	entry.UnbilledDeferredInterest = deferredOut
	entry.Fees = billedFees
	entry.UnbilledDeferredFees = deferredFeesOut
	entry.Principal = principal
	entry.TotalPayment = interestPaid.Add(principal).Add(billedFees)
	entry.EndBalance = balance.Sub(principal)
	entry.DaysInPeriod = calc.Days(entry.PeriodStartDate, entry.PeriodEndDate)
	entry.PerDiem = calc.PerDiem(balance, entry.PeriodInterestRate, period.EndDate.AddDays(-1)).Round(8)

	s.deferredInterest = deferredOut
	s.deferredFees = deferredFeesOut
	s.balance = entry.EndBalance

	paidOff := !entry.EndBalance.IsPositive()
	if paidOff && !last {
		entry.flag(MetaEarlyRepayment, "true")
	}
	s.r.Entries = append(s.r.Entries, entry)
	return paidOff
}

// splitAtRateChanges emits a non-billable entry for every rate sub-period
// before the last one and moves the billable entry's start to the last rate
// change. It returns the rounded interest attributed to the split entries.
func (s *scheduler) splitAtRateChanges(entry *ScheduleEntry, calc interest.Calculator, pieces []ratePiece, slices []balanceSlice) ([]ScheduleEntry, decimal.Decimal) {
	boundaries := s.r.rates.boundaries(entry.PeriodStartDate, entry.PeriodEndDate)
	if len(boundaries) == 0 {
		return nil, decimal.Zero
	}
	balanceAt := func(d civil.Date) decimal.Decimal {
		for _, sl := range slices {
			if !d.Before(sl.start) && d.Before(sl.end) {
				return sl.balance
			}
		}
		return slices[len(slices)-1].balance
	}

	var out []ScheduleEntry
	total := decimal.Zero
	segStart := entry.PeriodStartDate
	for _, b := range boundaries {
		raw := decimal.Zero
		for _, pc := range pieces {
			if !pc.start.Before(segStart) && !pc.end.After(b) {
				raw = raw.Add(calc.Interest(pc.balance, pc.rate, pc.start, pc.end))
			}
		}
		accrued := s.p.round(raw)
		split := ScheduleEntry{
			Term:                     entry.Term,
			BillingModel:             entry.BillingModel,
			PeriodStartDate:          segStart,
			PeriodEndDate:            b,
			PeriodBillOpenDate:       entry.PeriodBillOpenDate,
			PeriodBillDueDate:        entry.PeriodBillDueDate,
			PreBillDays:              entry.PreBillDays,
			DueBillDaysAfterPeriod:   entry.DueBillDaysAfterPeriod,
			CalendarType:             entry.CalendarType,
			PeriodInterestRate:       s.r.rates.at(segStart),
			DaysInPeriod:             calc.Days(segStart, b),
			StartBalance:             balanceAt(segStart),
			EndBalance:               balanceAt(b.AddDays(-1)),
			AccruedInterestForPeriod: accrued,
		}
		split.PerDiem = calc.PerDiem(split.EndBalance, split.PeriodInterestRate, b.AddDays(-1)).Round(8)
		split.flag(MetaSplitDueToRateChange, "true")
		out = append(out, split)
		total = total.Add(accrued)
		segStart = b
	}
	entry.PeriodStartDate = segStart
	entry.flag(MetaSplitDueToRateChange, strconv.Itoa(len(out)))
	return out, total
}

// fees sums the term's fees. With principal nil it returns fixed fees and
// percentage fees on interest or total payment; otherwise it returns the
// percentage fees on principal.
func (s *scheduler) fees(t int, dueInterest, payment decimal.Decimal, principal *decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, f := range s.p.Fees {
		if !f.appliesTo(t) {
			continue
		}
		var amount decimal.Decimal
		switch {
		case principal == nil && f.Type == FeeFixed:
			amount = f.Amount
		case principal == nil && f.BasedOn == FeeBaseInterest:
			amount = dueInterest.Mul(f.Percentage)
		case principal == nil && f.BasedOn == FeeBaseTotalPayment:
			amount = payment.Mul(f.Percentage)
		case principal != nil && f.Type == FeePercentage && f.BasedOn == FeeBasePrincipal:
			amount = principal.Mul(f.Percentage)
		default:
			continue
		}
		total = total.Add(s.p.round(amount))
	}
	return total
}

// flushAtEnd folds the remaining rounding residue into the last billable entry.
func (s *scheduler) flushAtEnd() {
	fold := s.p.round(s.unbilled)
	if fold.IsZero() {
		return
	}
	for i := len(s.r.Entries) - 1; i >= 0; i-- {
		e := &s.r.Entries[i]
		if !e.BillablePeriod {
			continue
		}
		e.AccruedInterestForPeriod = e.AccruedInterestForPeriod.Add(fold)
		e.DueInterestForTerm = e.DueInterestForTerm.Add(fold)
		e.TotalPayment = e.TotalPayment.Add(fold)
		s.unbilled = s.unbilled.Sub(fold)
		e.UnbilledTotalRoundingError = s.unbilled
		e.flag(MetaRoundingFlushed, fold.String())
		return
	}
}

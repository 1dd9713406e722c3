package amortization

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
)

// dsiWalk tracks the last actual payment while walking DSI terms.
type dsiWalk struct {
	r           *Result
	balance     decimal.Decimal
	paidOn      *civil.Date
	accrualFrom civil.Date
	delinquent  bool
	prevEnd     *decimal.Decimal
}

// applyDSI fills DSIDetails on every billable daily simple interest entry.
func applyDSI(r *Result) {
	var idx []int
	for i, e := range r.Entries {
		if e.BillablePeriod && e.BillingModel == BillingModelDailySimpleInterest {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}

	active := len(idx) - 1
	if r.CurrentDate.Before(r.Entries[idx[0]].PeriodStartDate) {
		active = 0
	}
	for k, i := range idx {
		e := r.Entries[i]
		if calendar.Within(r.CurrentDate, e.PeriodStartDate, e.PeriodEndDate) {
			active = k
			break
		}
	}

	first := r.Entries[idx[0]]
	w := &dsiWalk{r: r, balance: first.StartBalance, accrualFrom: first.PeriodStartDate}
	finalEntry := len(r.Entries) - 1
	for k, i := range idx {
		e := &r.Entries[i]
		d := &DSIDetails{IsCurrentActiveTerm: k == active}
		rec, ok := r.Params.DSIPaymentHistory[e.Term]
		elapsed := !r.CurrentDate.Before(e.PeriodEndDate)
		switch {
		case ok && rec.hasPayment():
			w.paid(e, d, rec)
		case k < active || (k == active && (elapsed || w.delinquent)):
			w.delinquentTerm(e, d, k == active && !elapsed)
		case k == active:
			w.currentTerm(e, d)
		default:
			w.futureTerm(e, d, i == finalEntry)
		}
		if d.ReAmortizedDays > 0 {
			d.ReAmortizedPerDiem = d.ReAmortizedInterest.DivRound(decimal.NewFromInt(int64(d.ReAmortizedDays)), 8)
		}
		end := d.ReAmortizedEndBalance
		w.prevEnd = &end
		e.DSI = d
	}
}

func (w *dsiWalk) paid(e *ScheduleEntry, d *DSIDetails, rec DSIPaymentRecord) {
	p := w.r.Params
	calc := w.r.terms[e.Term].calculator(p)

	payDate := rec.PaymentDate
	d.IsPaid = true
	d.PaymentDate = &payDate
	d.PreviousPaymentDate = rec.PreviousPaymentDate
	if d.PreviousPaymentDate == nil && w.paidOn != nil {
		prev := *w.paidOn
		d.PreviousPaymentDate = &prev
	}
	d.InterestDaysUsed = rec.InterestDaysUsed
	d.ActualStartBalance = rec.ActualStartBalance
	d.ActualEndBalance = rec.ActualEndBalance
	d.ActualInterest = rec.ActualInterest
	d.ActualPrincipal = rec.ActualPrincipal
	d.ActualFees = rec.ActualFees

	d.ReAmortizedStartBalance = rec.ActualStartBalance
	d.ReAmortizedEndBalance = rec.ActualEndBalance
	d.ReAmortizedInterest = rec.ActualInterest
	d.ReAmortizedPrincipal = rec.ActualPrincipal
	d.ReAmortizedFees = rec.ActualFees
	d.ReAmortizedTotalPayment = rec.ActualInterest.Add(rec.ActualPrincipal).Add(rec.ActualFees)
	d.ReAmortizedDays = rec.InterestDaysUsed

	if standardDays := calc.Days(e.PeriodStartDate, e.PeriodEndDate); rec.InterestDaysUsed != standardDays {
		standard := p.round(calc.Interest(rec.ActualStartBalance, e.PeriodInterestRate, e.PeriodStartDate, e.PeriodEndDate))
		diff := rec.ActualInterest.Sub(standard)
		if diff.IsNegative() {
			d.InterestSavings = diff.Neg()
		} else {
			d.InterestPenalty = diff
		}
	}

	w.balance = rec.ActualEndBalance
	w.paidOn = &payDate
	w.accrualFrom = payDate
}

// delinquentTerm freezes the balance and accrues interest on it from the
// last payment. A cascaded current term accrues only to the current date.
func (w *dsiWalk) delinquentTerm(e *ScheduleEntry, d *DSIDetails, cascaded bool) {
	p := w.r.Params
	calc := w.r.terms[e.Term].calculator(p)
	w.delinquent = true
	d.IsDelinquent = true

	end := e.PeriodEndDate
	if cascaded {
		end = w.r.CurrentDate
	}
	from := w.accrualFrom
	if w.paidOn == nil && from.Before(e.PeriodStartDate) {
		from = e.PeriodStartDate
	}
	if end.Before(from) {
		end = from
	}
	if w.paidOn != nil {
		d.PreviousPaymentDate = w.paidOn
	}

	d.ReAmortizedStartBalance = w.balance
	d.ReAmortizedEndBalance = w.balance
	d.ReAmortizedDays = calc.Days(from, end)
	d.ReAmortizedInterest = p.round(calc.Interest(w.balance, e.PeriodInterestRate, from, end))
	d.ReAmortizedFees = e.Fees
	d.ReAmortizedTotalPayment = d.ReAmortizedInterest.Add(d.ReAmortizedFees)
	d.InterestDaysUsed = d.ReAmortizedDays
	w.accrualFrom = end
}

// currentTerm projects a payment on the due date from the last actual payment.
func (w *dsiWalk) currentTerm(e *ScheduleEntry, d *DSIDetails) {
	start := w.balance
	from := w.accrualFrom
	if w.paidOn == nil {
		start = e.StartBalance
		from = e.PeriodStartDate
	} else {
		d.PreviousPaymentDate = w.paidOn
	}
	end := calendar.MaxDate(e.PeriodEndDate, from)
	w.project(e, d, start, from, end, false)
}

// futureTerm re-amortizes over the standard period from the previous
// projection.
func (w *dsiWalk) futureTerm(e *ScheduleEntry, d *DSIDetails, final bool) {
	start := e.StartBalance
	if w.prevEnd != nil {
		start = *w.prevEnd
	}
	w.project(e, d, start, e.PeriodStartDate, e.PeriodEndDate, final)
}

func (w *dsiWalk) project(e *ScheduleEntry, d *DSIDetails, start decimal.Decimal, from, end civil.Date, final bool) {
	p := w.r.Params
	calc := w.r.terms[e.Term].calculator(p)

	interest := p.round(calc.Interest(start, e.PeriodInterestRate, from, end))
	principal := money.Max(e.TotalPayment.Sub(interest).Sub(e.Fees), decimal.Zero)
	principal = money.Min(principal, start)
	if final {
		principal = start
	}
	d.ReAmortizedStartBalance = start
	d.ReAmortizedDays = calc.Days(from, end)
	d.ReAmortizedInterest = interest
	d.ReAmortizedFees = e.Fees
	d.ReAmortizedPrincipal = principal
	d.ReAmortizedEndBalance = start.Sub(principal)
	d.ReAmortizedTotalPayment = interest.Add(principal).Add(e.Fees)
}

// DSIPaymentOutcome returns the history record for paying amount towards a
// daily simple interest term on paymentDate. Interest accrues from the
// previous term's recorded payment, or from the period start when there is
// none. The amount covers interest, then the term's fees, then principal.
func (r *Result) DSIPaymentOutcome(term int, paymentDate civil.Date, amount decimal.Decimal) (DSIPaymentRecord, error) {
	e, ok := r.BillableEntry(term)
	if !ok {
		return DSIPaymentRecord{}, fmt.Errorf("%w: no billable entry for term %d", ErrTermOutOfRange, term)
	}
	if e.BillingModel != BillingModelDailySimpleInterest {
		return DSIPaymentRecord{}, fmt.Errorf("%w: term %d is not billed as daily simple interest", ErrInvalidParameter, term)
	}
	if amount.IsNegative() {
		return DSIPaymentRecord{}, fmt.Errorf("%w: payment amount %s", ErrInvalidAmount, amount)
	}

	p := r.Params
	calc := r.terms[term].calculator(p)
	from := e.PeriodStartDate
	start := e.StartBalance
	var previous *civil.Date
	for t := term - 1; t >= 0; t-- {
		if rec, ok := p.DSIPaymentHistory[t]; ok && rec.hasPayment() {
			prev := rec.PaymentDate
			previous = &prev
			from = prev
			start = rec.ActualEndBalance
			break
		}
	}
	if paymentDate.Before(from) {
		return DSIPaymentRecord{}, fmt.Errorf("%w: payment date %s is before %s", ErrInvalidDate, paymentDate, from)
	}

	interest := p.round(calc.Interest(start, e.PeriodInterestRate, from, paymentDate))
	remaining := amount
	paidInterest := money.Min(remaining, interest)
	remaining = remaining.Sub(paidInterest)
	fees := money.Min(remaining, e.Fees)
	remaining = remaining.Sub(fees)
	principal := money.Min(remaining, start)

	return DSIPaymentRecord{
		TermNumber:          term,
		PaymentDate:         paymentDate,
		PreviousPaymentDate: previous,
		ActualStartBalance:  start,
		ActualEndBalance:    start.Sub(principal),
		ActualInterest:      paidInterest,
		ActualPrincipal:     principal,
		ActualFees:          fees,
		InterestDaysUsed:    calc.Days(from, paymentDate),
	}, nil
}

package amortization

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
)

// buildPeriods returns one accrual window per term. A caller-supplied
// periods schedule is validated and used as is; otherwise periods are
// generated monthly from the first payment date, re-anchoring on any
// payment date change.
func buildPeriods(p LoanParams, n int) ([]PeriodScheduleEntry, error) {
	if len(p.PeriodsSchedule) > 0 {
		if err := validatePeriods(p.PeriodsSchedule, n, p.StartDate, p.EndDate); err != nil {
			return nil, err
		}
		return append([]PeriodScheduleEntry(nil), p.PeriodsSchedule...), nil
	}

	changes := make(map[int]civil.Date, len(p.ChangePaymentDates))
	for _, c := range p.ChangePaymentDates {
		changes[c.TermNumber] = c.NewDate
	}

	anchor := calendar.AddMonths(p.StartDate, 1)
	if p.FirstPaymentDate != nil {
		anchor = *p.FirstPaymentDate
	}
	anchorTerm := 0

	periods := make([]PeriodScheduleEntry, n)
	start := p.StartDate
	for term := 0; term < n; term++ {
		end := calendar.AddMonths(anchor, term-anchorTerm)
		if d, ok := changes[term]; ok {
			end = d
			anchor, anchorTerm = d, term
		}
		if term == n-1 && p.EndDate != nil {
			end = *p.EndDate
		}
		if !end.After(start) {
			return nil, fmt.Errorf("%w: term %d ends %s on or before its start %s", ErrInvalidPeriodSchedule, term, end, start)
		}
		periods[term] = PeriodScheduleEntry{StartDate: start, EndDate: end}
		start = end
	}
	return periods, nil
}

func validatePeriods(periods []PeriodScheduleEntry, n int, start civil.Date, end *civil.Date) error {
	if len(periods) != n {
		return fmt.Errorf("%w: %d periods for %d terms", ErrInvalidPeriodSchedule, len(periods), n)
	}
	if periods[0].StartDate != start {
		return fmt.Errorf("%w: first period starts %s, loan starts %s", ErrInvalidPeriodSchedule, periods[0].StartDate, start)
	}
	for i, pe := range periods {
		if !pe.EndDate.After(pe.StartDate) {
			return fmt.Errorf("%w: period %d is empty", ErrInvalidPeriodSchedule, i)
		}
		if i > 0 && periods[i-1].EndDate != pe.StartDate {
			return fmt.Errorf("%w: period %d starts %s but period %d ends %s", ErrInvalidPeriodSchedule, i, pe.StartDate, i-1, periods[i-1].EndDate)
		}
	}
	if end != nil && periods[n-1].EndDate != *end {
		return fmt.Errorf("%w: last period ends %s, loan ends %s", ErrInvalidPeriodSchedule, periods[n-1].EndDate, end)
	}
	return nil
}

package amortization

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/shopspring/decimal"
)

// rateTable is a gap-free partition of [start, end) into annual rates.
type rateTable []RateScheduleEntry

// buildRateTable validates caller entries and fills every uncovered range
// with the nominal rate. Entries are clipped to the loan window.
func buildRateTable(custom []RateScheduleEntry, start, end civil.Date, nominal decimal.Decimal) (rateTable, error) {
	entries := append([]RateScheduleEntry(nil), custom...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartDate.Before(entries[j].StartDate)
	})

	var out rateTable
	cursor := start
	for i, e := range entries {
		if !e.EndDate.After(e.StartDate) {
			return nil, fmt.Errorf("%w: entry %s-%s is empty", ErrInvalidRateSchedule, e.StartDate, e.EndDate)
		}
		if i > 0 && e.StartDate.Before(entries[i-1].EndDate) {
			return nil, fmt.Errorf("%w: entry starting %s overlaps entry ending %s", ErrInvalidRateSchedule, e.StartDate, entries[i-1].EndDate)
		}
		s, en := calendar.MaxDate(e.StartDate, start), calendar.MinDate(e.EndDate, end)
		if !en.After(s) {
			continue
		}
		if s.After(cursor) {
			out = append(out, RateScheduleEntry{StartDate: cursor, EndDate: s, AnnualInterestRate: nominal, Type: RateEntryGenerated})
		}
		typ := e.Type
		if typ == "" {
			typ = RateEntryCustom
		}
		out = append(out, RateScheduleEntry{StartDate: s, EndDate: en, AnnualInterestRate: e.AnnualInterestRate, Type: typ})
		cursor = en
	}
	if cursor.Before(end) {
		out = append(out, RateScheduleEntry{StartDate: cursor, EndDate: end, AnnualInterestRate: nominal, Type: RateEntryGenerated})
	}
	return out, nil
}

// at returns the rate in force on d; dates past the table use the last rate.
func (t rateTable) at(d civil.Date) decimal.Decimal {
	for _, e := range t {
		if calendar.Within(d, e.StartDate, e.EndDate) {
			return e.AnnualInterestRate
		}
	}
	if len(t) == 0 {
		return decimal.Zero
	}
	if d.Before(t[0].StartDate) {
		return t[0].AnnualInterestRate
	}
	return t[len(t)-1].AnnualInterestRate
}

// ratePiece is a sub-range carrying a single rate and balance.
type ratePiece struct {
	start, end civil.Date
	rate       decimal.Decimal
	balance    decimal.Decimal
}

// split cuts [start, end) wherever the rate changes.
func (t rateTable) split(start, end civil.Date, balance decimal.Decimal) []ratePiece {
	var out []ratePiece
	for _, e := range t {
		s, en := calendar.MaxDate(e.StartDate, start), calendar.MinDate(e.EndDate, end)
		if en.After(s) {
			out = append(out, ratePiece{start: s, end: en, rate: e.AnnualInterestRate, balance: balance})
		}
	}
	if len(out) == 0 && end.After(start) {
		out = append(out, ratePiece{start: start, end: end, rate: t.at(start), balance: balance})
	}
	return out
}

// boundaries returns rate change dates strictly inside (start, end).
func (t rateTable) boundaries(start, end civil.Date) []civil.Date {
	var out []civil.Date
	for i := 1; i < len(t); i++ {
		d := t[i].StartDate
		if d.After(start) && d.Before(end) && !t[i].AnnualInterestRate.Equal(t[i-1].AnnualInterestRate) {
			out = append(out, d)
		}
	}
	return out
}

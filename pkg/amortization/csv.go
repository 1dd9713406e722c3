package amortization

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var csvColumns = []string{
	"term", "billablePeriod", "billingModel",
	"periodStartDate", "periodEndDate", "periodBillOpenDate", "periodBillDueDate",
	"calendarType", "periodInterestRate", "daysInPeriod", "perDiem",
	"startBalance", "balanceModificationAmount", "principal",
	"accruedInterestForPeriod", "dueInterestForTerm", "interestRoundingError", "unbilledTotalRoundingError",
	"billedDeferredInterest", "unbilledDeferredInterest",
	"fees", "billedDeferredFees", "unbilledDeferredFees",
	"totalPayment", "endBalance",
	"dsiIsCurrentActiveTerm", "dsiIsDelinquent", "dsiIsPaid",
	"dsiPaymentDate", "dsiPreviousPaymentDate", "dsiInterestDaysUsed",
	"dsiActualStartBalance", "dsiActualEndBalance",
	"dsiActualInterest", "dsiActualPrincipal", "dsiActualFees",
	"dsiInterestSavings", "dsiInterestPenalty",
	"reAmortizedStartBalance", "reAmortizedEndBalance",
	"reAmortizedInterest", "reAmortizedPrincipal", "reAmortizedFees",
	"reAmortizedTotalPayment", "reAmortizedDays", "reAmortizedPerDiem",
}

// WriteCSV writes one row per schedule entry. Metadata keys seen on any
// entry are appended as "meta:<key>" columns in sorted order.
func WriteCSV(w io.Writer, entries []ScheduleEntry) error {
	keys := metadataKeys(entries)
	cw := csv.NewWriter(w)

	header := append([]string(nil), csvColumns...)
	for _, k := range keys {
		header = append(header, "meta:"+k)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, e := range entries {
		row := append(entryFields(e), dsiFields(e.DSI)...)
		for _, k := range keys {
			row = append(row, e.Metadata[k])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row for term %d: %w", e.Term, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func metadataKeys(entries []ScheduleEntry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		for k := range e.Metadata {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func entryFields(e ScheduleEntry) []string {
	return []string{
		strconv.Itoa(e.Term), strconv.FormatBool(e.BillablePeriod), string(e.BillingModel),
		e.PeriodStartDate.String(), e.PeriodEndDate.String(), e.PeriodBillOpenDate.String(), e.PeriodBillDueDate.String(),
		string(e.CalendarType), e.PeriodInterestRate.String(), strconv.Itoa(e.DaysInPeriod), e.PerDiem.String(),
		e.StartBalance.String(), e.BalanceModificationAmount.String(), e.Principal.String(),
		e.AccruedInterestForPeriod.String(), e.DueInterestForTerm.String(), e.InterestRoundingError.String(), e.UnbilledTotalRoundingError.String(),
		e.BilledDeferredInterest.String(), e.UnbilledDeferredInterest.String(),
		e.Fees.String(), e.BilledDeferredFees.String(), e.UnbilledDeferredFees.String(),
		e.TotalPayment.String(), e.EndBalance.String(),
	}
}

func dsiFields(d *DSIDetails) []string {
	if d == nil {
		return make([]string, 21)
	}
	date := func(p *civil.Date) string {
		if p == nil {
			return ""
		}
		return p.String()
	}
	dec := func(v decimal.Decimal) string { return v.String() }
	return []string{
		strconv.FormatBool(d.IsCurrentActiveTerm), strconv.FormatBool(d.IsDelinquent), strconv.FormatBool(d.IsPaid),
		date(d.PaymentDate), date(d.PreviousPaymentDate), strconv.Itoa(d.InterestDaysUsed),
		dec(d.ActualStartBalance), dec(d.ActualEndBalance),
		dec(d.ActualInterest), dec(d.ActualPrincipal), dec(d.ActualFees),
		dec(d.InterestSavings), dec(d.InterestPenalty),
		dec(d.ReAmortizedStartBalance), dec(d.ReAmortizedEndBalance),
		dec(d.ReAmortizedInterest), dec(d.ReAmortizedPrincipal), dec(d.ReAmortizedFees),
		dec(d.ReAmortizedTotalPayment), strconv.Itoa(d.ReAmortizedDays), dec(d.ReAmortizedPerDiem),
	}
}

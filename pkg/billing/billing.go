// Package billing turns billable schedule entries into bills and tracks what
// has been paid against them.
package billing

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
)

// Allocation is the part of one deposit applied to one bill.
type Allocation struct {
	DepositID uuid.UUID       `json:"depositId"`
	Date      civil.Date      `json:"date"`
	Interest  decimal.Decimal `json:"interest"`
	Fees      decimal.Decimal `json:"fees"`
	Principal decimal.Decimal `json:"principal"`
}

// Total is the sum of the allocated components.
func (a Allocation) Total() decimal.Decimal {
	return a.Interest.Add(a.Fees).Add(a.Principal)
}

// Bill is the amount owed for one term. The *Due fields hold what is still
// unpaid; Principal, Interest and Fees hold the billed amounts.
type Bill struct {
	ID           uuid.UUID                 `json:"id"`
	LoanID       uuid.UUID                 `json:"loanId"`
	Term         int                       `json:"term"`
	BillingModel amortization.BillingModel `json:"billingModel"`

	PeriodStartDate civil.Date `json:"periodStartDate"`
	PeriodEndDate   civil.Date `json:"periodEndDate"`
	OpenDate        civil.Date `json:"openDate"`
	DueDate         civil.Date `json:"dueDate"`

	Principal    decimal.Decimal `json:"principal"`
	Interest     decimal.Decimal `json:"interest"`
	Fees         decimal.Decimal `json:"fees"`
	PrincipalDue decimal.Decimal `json:"principalDue"`
	InterestDue  decimal.Decimal `json:"interestDue"`
	FeesDue      decimal.Decimal `json:"feesDue"`
	TotalDue     decimal.Decimal `json:"totalDue"`

	IsPaid      bool `json:"isPaid"`
	IsOpen      bool `json:"isOpen"`
	IsDue       bool `json:"isDue"`
	IsPastDue   bool `json:"isPastDue"`
	DaysPastDue int  `json:"daysPastDue"`

	Allocations []Allocation `json:"allocations,omitempty"`
}

// BillID derives a stable bill id from the loan id and term.
func BillID(loanID uuid.UUID, term int) uuid.UUID {
	return uuid.NewSHA1(loanID, []byte(fmt.Sprintf("bill/%d", term)))
}

// Generate returns one bill per billable entry, in term order, with status
// evaluated on today.
func Generate(loanID uuid.UUID, entries []amortization.ScheduleEntry, today civil.Date) []*Bill {
	var bills []*Bill
	for _, e := range entries {
		if !e.BillablePeriod {
			continue
		}
		b := &Bill{
			ID:              BillID(loanID, e.Term),
			LoanID:          loanID,
			Term:            e.Term,
			BillingModel:    e.BillingModel,
			PeriodStartDate: e.PeriodStartDate,
			PeriodEndDate:   e.PeriodEndDate,
			OpenDate:        e.PeriodBillOpenDate,
			DueDate:         e.PeriodBillDueDate,
			Principal:       e.Principal,
			Interest:        e.DueInterestForTerm,
			Fees:            e.Fees,
			PrincipalDue:    e.Principal,
			InterestDue:     e.DueInterestForTerm,
			FeesDue:         e.Fees,
			TotalDue:        e.TotalPayment,
		}
		b.Refresh(today)
		bills = append(bills, b)
	}
	return bills
}

// Refresh re-evaluates the status flags on today.
func (b *Bill) Refresh(today civil.Date) {
	b.IsPaid = b.TotalDue.IsZero()
	b.IsOpen = !today.Before(b.OpenDate)
	b.IsDue = !b.IsPaid && !today.Before(b.DueDate)
	b.IsPastDue = b.IsDue
	b.DaysPastDue = today.DaysSince(b.DueDate)
}

// OpenOn reports whether the bill can take payments on d. Daily simple
// interest bills are never pre-billed but take payments from the start of
// their period, so paying early reduces the interest charged.
func (b *Bill) OpenOn(d civil.Date) bool {
	if b.BillingModel == amortization.BillingModelDailySimpleInterest {
		return !d.Before(b.PeriodStartDate)
	}
	return !d.Before(b.OpenDate)
}

// Record applies a to the bill's outstanding components. It fails when a
// component would go below zero.
func (b *Bill) Record(a Allocation) error {
	if a.Interest.GreaterThan(b.InterestDue) || a.Fees.GreaterThan(b.FeesDue) || a.Principal.GreaterThan(b.PrincipalDue) {
		return fmt.Errorf("allocation %s exceeds amount due on bill %s", a.Total(), b.ID)
	}
	b.InterestDue = b.InterestDue.Sub(a.Interest)
	b.FeesDue = b.FeesDue.Sub(a.Fees)
	b.PrincipalDue = b.PrincipalDue.Sub(a.Principal)
	b.TotalDue = b.InterestDue.Add(b.FeesDue).Add(b.PrincipalDue)
	b.IsPaid = b.TotalDue.IsZero()
	if b.IsPaid {
		b.IsDue, b.IsPastDue = false, false
	}
	b.Allocations = append(b.Allocations, a)
	return nil
}

// Paid is what has been allocated to the bill so far.
func (b *Bill) Paid() decimal.Decimal {
	total := decimal.Zero
	for _, a := range b.Allocations {
		total = total.Add(a.Total())
	}
	return total
}

// Summary totals a set of bills.
type Summary struct {
	Bills         int             `json:"bills"`
	Paid          int             `json:"paid"`
	PastDue       int             `json:"pastDue"`
	TotalBilled   decimal.Decimal `json:"totalBilled"`
	TotalPaid     decimal.Decimal `json:"totalPaid"`
	Outstanding   decimal.Decimal `json:"outstanding"`
	PastDueAmount decimal.Decimal `json:"pastDueAmount"`
}

// Summarize totals bills as they stand.
func Summarize(bills []*Bill) Summary {
	s := Summary{Bills: len(bills)}
	var billed, paid, outstanding, pastDue []decimal.Decimal
	for _, b := range bills {
		billed = append(billed, b.Principal.Add(b.Interest).Add(b.Fees))
		paid = append(paid, b.Paid())
		outstanding = append(outstanding, b.TotalDue)
		if b.IsPaid {
			s.Paid++
		}
		if b.IsPastDue {
			s.PastDue++
			pastDue = append(pastDue, b.TotalDue)
		}
	}
	s.TotalBilled = money.Sum(billed...)
	s.TotalPaid = money.Sum(paid...)
	s.Outstanding = money.Sum(outstanding...)
	s.PastDueAmount = money.Sum(pastDue...)
	return s
}

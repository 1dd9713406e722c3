// Package payments allocates deposits to bills.
package payments

import (
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/billing"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidConfig  = errors.New("invalid payment allocation config")
	ErrInvalidDeposit = errors.New("invalid deposit")
)

var validate = validator.New()

// Component is a part of a bill that a deposit can pay.
type Component string

const (
	Interest  Component = "interest"
	Fees      Component = "fees"
	Principal Component = "principal"
)

// Strategy orders the bills a deposit is applied to.
type Strategy string

const (
	// FIFO pays the oldest bill first.
	FIFO Strategy = "fifo"
	// LIFO pays the newest bill first.
	LIFO Strategy = "lifo"
)

// Config controls allocation order.
type Config struct {
	Priority []Component `json:"priority" validate:"omitempty,unique,dive,oneof=interest fees principal"`
	Strategy Strategy    `json:"strategy" validate:"omitempty,oneof=fifo lifo"`
}

// DefaultConfig pays interest, then fees, then principal, oldest bill first.
func DefaultConfig() Config {
	return Config{Priority: []Component{Interest, Fees, Principal}, Strategy: FIFO}
}

// Validate rejects unknown or repeated components and unknown strategies.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) normalized() (Config, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}
	def := DefaultConfig()
	if len(c.Priority) == 0 {
		c.Priority = def.Priority
	}
	// Components left out of the priority list are paid last, in default order.
	for _, comp := range def.Priority {
		found := false
		for _, p := range c.Priority {
			found = found || p == comp
		}
		if !found {
			c.Priority = append(c.Priority, comp)
		}
	}
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	return c, nil
}

// Deposit is money received for a loan.
type Deposit struct {
	ID                     uuid.UUID       `json:"id"`
	Amount                 decimal.Decimal `json:"amount"`
	EffectiveDate          civil.Date      `json:"effectiveDate"`
	ApplyExcessToPrincipal bool            `json:"applyExcessToPrincipal"`
	Description            string          `json:"description,omitempty"`
}

// UsageDetail records one deposit paying one bill.
type UsageDetail struct {
	DepositID uuid.UUID       `json:"depositId"`
	BillID    uuid.UUID       `json:"billId"`
	Term      int             `json:"term"`
	Date      civil.Date      `json:"date"`
	Interest  decimal.Decimal `json:"interest"`
	Fees      decimal.Decimal `json:"fees"`
	Principal decimal.Decimal `json:"principal"`
	Total     decimal.Decimal `json:"total"`
}

// DepositResult is how a single deposit was used.
type DepositResult struct {
	DepositID          uuid.UUID                         `json:"depositId"`
	Amount             decimal.Decimal                   `json:"amount"`
	Used               decimal.Decimal                   `json:"used"`
	AppliedToPrincipal decimal.Decimal                   `json:"appliedToPrincipal"`
	Unallocated        decimal.Decimal                   `json:"unallocatedAmount"`
	Usage              []UsageDetail                     `json:"usageDetails"`
	Modification       *amortization.BalanceModification `json:"balanceModification,omitempty"`
}

// Result is the outcome of one allocation run.
type Result struct {
	Deposits             []DepositResult                    `json:"deposits"`
	BalanceModifications []amortization.BalanceModification `json:"balanceModifications"`
}

// ExcessModificationID is the id of the principal reduction created from a
// deposit's excess. It is stable so a rerun replaces rather than adds.
func ExcessModificationID(deposit uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(deposit, []byte("excess-principal"))
}

// Apply allocates deposits to bills in effective-date order. Bills are
// updated in place. A deposit only pays bills open on its effective date.
func Apply(bills []*billing.Bill, deposits []Deposit, cfg Config) (*Result, error) {
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(deposits))
	for _, dep := range deposits {
		switch {
		case dep.ID == uuid.Nil:
			return nil, fmt.Errorf("%w: missing id", ErrInvalidDeposit)
		case seen[dep.ID]:
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidDeposit, dep.ID)
		case !dep.Amount.IsPositive():
			return nil, fmt.Errorf("%w: %s amount %s", ErrInvalidDeposit, dep.ID, dep.Amount)
		case !dep.EffectiveDate.IsValid():
			return nil, fmt.Errorf("%w: %s effective date", ErrInvalidDeposit, dep.ID)
		}
		seen[dep.ID] = true
	}

	ordered := append([]Deposit(nil), deposits...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EffectiveDate.Before(ordered[j].EffectiveDate)
	})
	queue := orderBills(bills, cfg.Strategy)

	res := &Result{}
	for _, dep := range ordered {
		dr, err := allocate(dep, queue, cfg.Priority)
		if err != nil {
			return nil, err
		}
		if dr.Modification != nil {
			res.BalanceModifications = append(res.BalanceModifications, *dr.Modification)
		}
		res.Deposits = append(res.Deposits, dr)
	}
	return res, nil
}

func orderBills(bills []*billing.Bill, s Strategy) []*billing.Bill {
	out := append([]*billing.Bill(nil), bills...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.DueDate != b.DueDate {
			if s == LIFO {
				return a.DueDate.After(b.DueDate)
			}
			return a.DueDate.Before(b.DueDate)
		}
		if s == LIFO {
			return a.Term > b.Term
		}
		return a.Term < b.Term
	})
	return out
}

func allocate(dep Deposit, bills []*billing.Bill, priority []Component) (DepositResult, error) {
	dr := DepositResult{DepositID: dep.ID, Amount: dep.Amount}
	remaining := dep.Amount
	for _, b := range bills {
		if !remaining.IsPositive() {
			break
		}
		if b.IsPaid || !b.OpenOn(dep.EffectiveDate) {
			continue
		}
		a := billing.Allocation{DepositID: dep.ID, Date: dep.EffectiveDate}
		for _, comp := range priority {
			switch comp {
			case Interest:
				a.Interest = money.Min(remaining, b.InterestDue)
				remaining = remaining.Sub(a.Interest)
			case Fees:
				a.Fees = money.Min(remaining, b.FeesDue)
				remaining = remaining.Sub(a.Fees)
			case Principal:
				a.Principal = money.Min(remaining, b.PrincipalDue)
				remaining = remaining.Sub(a.Principal)
			}
		}
		if a.Total().IsZero() {
			continue
		}
		if err := b.Record(a); err != nil {
			return dr, err
		}
		dr.Usage = append(dr.Usage, UsageDetail{
			DepositID: dep.ID,
			BillID:    b.ID,
			Term:      b.Term,
			Date:      dep.EffectiveDate,
			Interest:  a.Interest,
			Fees:      a.Fees,
			Principal: a.Principal,
			Total:     a.Total(),
		})
	}
	dr.Used = dep.Amount.Sub(remaining)

	if !remaining.IsPositive() {
		return dr, nil
	}
	if !dep.ApplyExcessToPrincipal {
		dr.Unallocated = remaining
		return dr, nil
	}
	id := dep.ID
	dr.AppliedToPrincipal = remaining
	dr.Modification = &amortization.BalanceModification{
		ID:                   ExcessModificationID(dep.ID),
		Amount:               remaining,
		Date:                 dep.EffectiveDate,
		Type:                 amortization.BalanceDecrease,
		Description:          fmt.Sprintf("excess of deposit %s", dep.ID),
		IsSystemModification: true,
		LinkedDepositID:      &id,
	}
	return dr, nil
}

// ModificationsByDeposit groups a run's balance modifications by deposit id,
// with an empty entry for every deposit that created none. Writing each group
// back replaces what an earlier run produced for that deposit.
func ModificationsByDeposit(deposits []Deposit, res *Result) map[uuid.UUID][]amortization.BalanceModification {
	out := make(map[uuid.UUID][]amortization.BalanceModification, len(deposits))
	for _, dep := range deposits {
		out[dep.ID] = nil
	}
	for _, m := range res.BalanceModifications {
		if m.LinkedDepositID != nil {
			out[*m.LinkedDepositID] = append(out[*m.LinkedDepositID], m)
		}
	}
	return out
}

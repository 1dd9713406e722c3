package models

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusClosed LoanStatus = "closed"
)

type Loan struct {
	ID                   uuid.UUID               `json:"id"`
	CustomerKey          string                  `json:"customer_key"`           // Link to external customer system
	BaseInterestRate     decimal.Decimal         `json:"base_interest_rate"`     // Standard rate for the product
	InterestRateVariance decimal.Decimal         `json:"interest_rate_variance"` // Adjustment (positive or negative)
	Status               LoanStatus              `json:"status"`
	StatementCycleDay    int                     `json:"statement_cycle_day"` // Day of the month bills fall due, 0 when the schedule sets it
	Params               amortization.LoanParams `json:"params"`              // Effective rate lives in Params.AnnualInterestRate
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

// Deposit is money received against a loan.
type Deposit struct {
	ID                     uuid.UUID       `json:"id"`
	LoanID                 uuid.UUID       `json:"loan_id"`
	Amount                 decimal.Decimal `json:"amount"`
	EffectiveDate          civil.Date      `json:"effective_date"`
	ApplyExcessToPrincipal bool            `json:"apply_excess_to_principal"`
	Description            string          `json:"description,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

// DepositUsage is the part of a deposit that paid one bill in the latest
// reconciliation.
type DepositUsage struct {
	DepositID uuid.UUID       `json:"deposit_id"`
	LoanID    uuid.UUID       `json:"loan_id"`
	BillID    uuid.UUID       `json:"bill_id"`
	Term      int             `json:"term"`
	Date      civil.Date      `json:"date"`
	Interest  decimal.Decimal `json:"interest"`
	Fees      decimal.Decimal `json:"fees"`
	Principal decimal.Decimal `json:"principal"`
}

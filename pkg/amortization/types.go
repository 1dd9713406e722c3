package amortization

import (
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidLoanAmount        = errors.New("invalid loan amount")
	ErrInvalidInterestRate      = errors.New("invalid interest rate")
	ErrInvalidRoundingPrecision = errors.New("invalid rounding precision")
	ErrInvalidTerm              = errors.New("invalid term")
	ErrTermOutOfRange           = errors.New("term number out of range")
	ErrInvalidPeriodSchedule    = errors.New("invalid period schedule")
	ErrInvalidRateSchedule      = errors.New("invalid rate schedule")
	ErrInvalidDate              = errors.New("invalid date")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidParameter         = errors.New("invalid parameter")
	ErrUnknownOption            = errors.New("unknown option value")
	ErrSnapshotMismatch         = errors.New("snapshot schedule does not match recomputed schedule")
)

// BillingModel is how a term accrues and bills interest.
type BillingModel string

const (
	BillingModelAmortized           BillingModel = "amortized"
	BillingModelDailySimpleInterest BillingModel = "dailySimpleInterest"
)

// FlushMethod controls when accumulated rounding residue is billed.
type FlushMethod string

const (
	FlushNone        FlushMethod = "none"
	FlushAtEnd       FlushMethod = "at_end"
	FlushAtThreshold FlushMethod = "at_threshold"
)

// BalanceModificationType is the direction of a principal adjustment.
type BalanceModificationType string

const (
	BalanceIncrease BalanceModificationType = "increase"
	BalanceDecrease BalanceModificationType = "decrease"
)

// EMIRecalculationMode says how a term extension affects the fixed payment.
type EMIRecalculationMode string

const (
	EMIRecalculationNone      EMIRecalculationMode = "none"
	EMIRecalculationFromStart EMIRecalculationMode = "fromStart"
	EMIRecalculationFromTerm  EMIRecalculationMode = "fromTerm"
)

// FeeType distinguishes flat fees from percentage fees.
type FeeType string

const (
	FeeFixed      FeeType = "fixed"
	FeePercentage FeeType = "percentage"
)

// FeeBase is what a percentage fee is computed on.
type FeeBase string

const (
	FeeBaseInterest     FeeBase = "interest"
	FeeBaseTotalPayment FeeBase = "totalPayment"
	FeeBasePrincipal    FeeBase = "principal"
)

// BillDaysKind records where a resolved bill-days value came from.
type BillDaysKind string

const (
	BillDaysCustom    BillDaysKind = "custom"
	BillDaysGenerated BillDaysKind = "generated"
	BillDaysDefault   BillDaysKind = "default"
)

// RateEntryType records provenance of a rate schedule entry.
type RateEntryType string

const (
	RateEntryCustom    RateEntryType = "custom"
	RateEntryGenerated RateEntryType = "generated"
)

func isActive(b *bool) bool {
	return b == nil || *b
}

// RateScheduleEntry is an annual rate over [StartDate, EndDate).
type RateScheduleEntry struct {
	StartDate          civil.Date      `json:"startDate"`
	EndDate            civil.Date      `json:"endDate"`
	AnnualInterestRate decimal.Decimal `json:"annualInterestRate"`
	Type               RateEntryType   `json:"type,omitempty" validate:"omitempty,oneof=custom generated"`
}

// PeriodScheduleEntry is one term's accrual window [StartDate, EndDate).
type PeriodScheduleEntry struct {
	StartDate civil.Date `json:"startDate"`
	EndDate   civil.Date `json:"endDate"`
}

// PaymentDateChange moves the end of a term; later terms re-anchor on it.
type PaymentDateChange struct {
	TermNumber int        `json:"termNumber" validate:"gte=0"`
	NewDate    civil.Date `json:"newDate"`
}

// BalanceModification is a principal adjustment independent of scheduled
// payments. UsedAmount and UnusedAmount are filled in by recomputation.
type BalanceModification struct {
	ID                   uuid.UUID               `json:"id"`
	Amount               decimal.Decimal         `json:"amount"`
	Date                 civil.Date              `json:"date"`
	Type                 BalanceModificationType `json:"type" validate:"oneof=increase decrease"`
	Description          string                  `json:"description,omitempty"`
	IsSystemModification bool                    `json:"isSystemModification,omitempty"`
	LinkedDepositID      *uuid.UUID              `json:"linkedDepositId,omitempty"`
	UsedAmount           decimal.Decimal         `json:"usedAmount"`
	UnusedAmount         decimal.Decimal         `json:"unusedAmount"`
}

// PaymentAmountOverride replaces the scheduled payment for one term. A zero
// amount makes the term a skip-a-pay term.
type PaymentAmountOverride struct {
	TermNumber    int             `json:"termNumber" validate:"gte=0"`
	PaymentAmount decimal.Decimal `json:"paymentAmount"`
}

// InterestAmountOverride fixes the interest billed for one term.
type InterestAmountOverride struct {
	TermNumber             int              `json:"termNumber" validate:"gte=0"`
	InterestAmount         decimal.Decimal  `json:"interestAmount"`
	AcceptableRateVariance *decimal.Decimal `json:"acceptableRateVariance,omitempty"`
	Active                 *bool            `json:"active,omitempty"`
}

// InterestRateOverride replaces the annual rate for one whole term.
type InterestRateOverride struct {
	TermNumber   int             `json:"termNumber" validate:"gte=0"`
	InterestRate decimal.Decimal `json:"interestRate"`
}

// BillDaysConfig is one row of a pre-bill or due-bill table.
type BillDaysConfig struct {
	TermNumber int          `json:"termNumber" validate:"gte=0"`
	Days       int          `json:"days" validate:"gte=0"`
	Kind       BillDaysKind `json:"kind,omitempty" validate:"omitempty,oneof=custom generated default"`
	Active     *bool        `json:"active,omitempty"`
}

// TermExtension adds terms to the nominal count.
type TermExtension struct {
	Quantity             int                  `json:"termChange" validate:"gt=0"`
	Active               *bool                `json:"active,omitempty"`
	EMIRecalculationMode EMIRecalculationMode `json:"emiRecalculationMode,omitempty" validate:"omitempty,oneof=none fromStart fromTerm"`
	EMIRecalculationTerm int                  `json:"emiRecalculationTerm,omitempty" validate:"gte=0"`
	ExcludeSkipAPayTerms bool                 `json:"excludeSkipAPayTerms,omitempty"`
	Description          string               `json:"description,omitempty"`
}

// TermCalendar selects a day-count convention for one term.
type TermCalendar struct {
	TermNumber   int           `json:"termNumber" validate:"gte=0"`
	CalendarType calendar.Type `json:"calendarType" validate:"oneof=ACTUAL_ACTUAL ACTUAL_360 ACTUAL_365 THIRTY_360 THIRTY_ACTUAL"`
}

// BillingModelOverride selects the billing model for one term.
type BillingModelOverride struct {
	TermNumber   int          `json:"termNumber" validate:"gte=0"`
	BillingModel BillingModel `json:"billingModel" validate:"oneof=amortized dailySimpleInterest"`
}

// Fee is a charge billed with a term. A nil TermNumber applies to every term.
type Fee struct {
	ID          string          `json:"id,omitempty"`
	Type        FeeType         `json:"type" validate:"oneof=fixed percentage"`
	Amount      decimal.Decimal `json:"amount"`
	Percentage  decimal.Decimal `json:"percentage"`
	BasedOn     FeeBase         `json:"basedOn,omitempty" validate:"omitempty,oneof=interest totalPayment principal"`
	TermNumber  *int            `json:"termNumber,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (f Fee) appliesTo(term int) bool {
	return f.TermNumber == nil || *f.TermNumber == term
}

// DSIPaymentRecord is the actual outcome of paying one daily-simple-interest term.
type DSIPaymentRecord struct {
	TermNumber          int             `json:"termNumber" validate:"gte=0"`
	PaymentDate         civil.Date      `json:"paymentDate"`
	PreviousPaymentDate *civil.Date     `json:"previousPaymentDate,omitempty"`
	ActualStartBalance  decimal.Decimal `json:"actualStartBalance"`
	ActualEndBalance    decimal.Decimal `json:"actualEndBalance"`
	ActualInterest      decimal.Decimal `json:"actualInterest"`
	ActualPrincipal     decimal.Decimal `json:"actualPrincipal"`
	ActualFees          decimal.Decimal `json:"actualFees"`
	InterestDaysUsed    int             `json:"interestDaysUsed"`
}

func (r DSIPaymentRecord) hasPayment() bool {
	return !r.ActualInterest.IsZero() || !r.ActualPrincipal.IsZero()
}

// DSILedger is the owned payment history, keyed by term number.
type DSILedger map[int]DSIPaymentRecord

package ledger

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mcclellann/loanengine/pkg/amortization"
	"github.com/mcclellann/loanengine/pkg/billing"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/mcclellann/loanengine/pkg/models"
	"github.com/mcclellann/loanengine/pkg/payments"
	"github.com/mcclellann/loanengine/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrLoanNotActive  = errors.New("loan is not active")
	ErrInvalidRequest = errors.New("invalid request")
)

var validate = validator.New()

// Ledger runs the servicing loop for stored loans: schedule, bills, deposit
// allocation, write-back and recompute.
type Ledger struct {
	storage  store.Storage // Use the Storage interface
	logger   *zap.Logger
	payments payments.Config
	preBill  int
	dueBill  int
	today    func() civil.Date
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger passed down to the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithPaymentConfig sets the allocation priority and bill ordering.
func WithPaymentConfig(cfg payments.Config) Option {
	return func(l *Ledger) { l.payments = cfg }
}

// WithBillDayDefaults sets the pre-bill and due-bill days given to new loans.
func WithBillDayDefaults(preBill, dueBill int) Option {
	return func(l *Ledger) { l.preBill, l.dueBill = preBill, dueBill }
}

// WithClock replaces the source of today's date.
func WithClock(today func() civil.Date) Option {
	return func(l *Ledger) { l.today = today }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	def := amortization.DefaultLoanParams()
	l := &Ledger{
		storage:  s,
		logger:   zap.NewNop(),
		payments: payments.DefaultConfig(),
		preBill:  def.DefaultPreBillDays,
		dueBill:  def.DefaultDueBillDays,
		today:    func() civil.Date { return civil.DateOf(time.Now()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultParams returns loan parameters carrying the ledger's defaults.
// Decode requests on top of it.
func (l *Ledger) DefaultParams() amortization.LoanParams {
	p := amortization.DefaultLoanParams()
	p.DefaultPreBillDays = l.preBill
	p.DefaultDueBillDays = l.dueBill
	return p
}

// CreateLoanRequest opens a loan. Params.AnnualInterestRate is the base rate
// for the product; the variance adjusts it for this customer.
type CreateLoanRequest struct {
	CustomerKey          string                  `json:"customer_key" validate:"required"`
	InterestRateVariance decimal.Decimal         `json:"interest_rate_variance"`
	StatementCycleDay    int                     `json:"statement_cycle_day" validate:"gte=0,lte=28"`
	Params               amortization.LoanParams `json:"params" validate:"-"`
}

// CreateLoan validates the request, computes the schedule once and stores the loan.
func (l *Ledger) CreateLoan(req CreateLoanRequest) (*models.Loan, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	params := req.Params.Clone()
	base := params.AnnualInterestRate
	params.AnnualInterestRate = base.Add(req.InterestRateVariance) // Effective rate
	if req.StatementCycleDay > 0 && params.FirstPaymentDate == nil && len(params.PeriodsSchedule) == 0 {
		first := firstPaymentOn(params.StartDate, req.StatementCycleDay)
		params.FirstPaymentDate = &first
	}
	if _, err := l.engine(params); err != nil {
		return nil, fmt.Errorf("invalid loan params: %w", err)
	}

	now := time.Now()
	loan := &models.Loan{
		ID:                   uuid.New(),
		CustomerKey:          req.CustomerKey,
		BaseInterestRate:     base,
		InterestRateVariance: req.InterestRateVariance,
		Status:               models.LoanStatusActive,
		StatementCycleDay:    req.StatementCycleDay,
		Params:               params,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan created",
		zap.String("op", "ledger.CreateLoan"),
		zap.Stringer("loan", loan.ID),
		zap.String("customer", loan.CustomerKey),
		zap.Stringer("rate", params.AnnualInterestRate),
	)
	return loan, nil
}

// firstPaymentOn is the statement cycle day in the month after start.
func firstPaymentOn(start civil.Date, day int) civil.Date {
	next := calendar.AddMonths(start, 1)
	next.Day = day
	return next
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// DeleteLoan deletes a loan with its deposits.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	if err := l.storage.DeleteLoan(id); err != nil {
		return err
	}
	l.logger.Info("loan deleted", zap.String("op", "ledger.DeleteLoan"), zap.Stringer("loan", id))
	return nil
}

// UpdateLoanParams replaces a loan's parameters and reconciles its deposits
// against the new schedule.
func (l *Ledger) UpdateLoanParams(id uuid.UUID, params amortization.LoanParams) (*Statement, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if _, err := l.engine(params); err != nil {
		return nil, fmt.Errorf("invalid loan params: %w", err)
	}
	loan.Params = params
	return l.reconcile(loan)
}

// Statement is a loan's schedule with its bills as paid by the loan's deposits.
type Statement struct {
	Loan     *models.Loan         `json:"loan"`
	Schedule *amortization.Result `json:"schedule"`
	Bills    []*billing.Bill      `json:"bills"`
	Payments *payments.Result     `json:"payments"`
	Summary  billing.Summary      `json:"summary"`
}

// Statement computes the loan's current statement without storing anything.
func (l *Ledger) Statement(id uuid.UUID) (*Statement, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	stmt, _, err := l.build(loan)
	return stmt, err
}

// Schedule returns the loan's current schedule.
func (l *Ledger) Schedule(id uuid.UUID) (*amortization.Result, error) {
	stmt, err := l.Statement(id)
	if err != nil {
		return nil, err
	}
	return stmt.Schedule, nil
}

// Bills returns the loan's bills with deposits applied.
func (l *Ledger) Bills(id uuid.UUID) ([]*billing.Bill, error) {
	stmt, err := l.Statement(id)
	if err != nil {
		return nil, err
	}
	return stmt.Bills, nil
}

// Deposits returns every deposit recorded for a loan.
func (l *Ledger) Deposits(id uuid.UUID) ([]*models.Deposit, error) {
	if _, err := l.storage.GetLoan(id); err != nil {
		return nil, err
	}
	return l.storage.GetDepositsForLoan(id)
}

// RecordDeposit stores a deposit for an active loan and reconciles the loan.
func (l *Ledger) RecordDeposit(loanID uuid.UUID, deposit models.Deposit) (*models.Deposit, *Statement, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, nil, ErrLoanNotActive
	}
	if !deposit.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: deposit amount must be positive", ErrInvalidRequest)
	}

	deposit.ID = uuid.New()
	deposit.LoanID = loanID
	deposit.CreatedAt = time.Now()
	if deposit.EffectiveDate.IsZero() {
		deposit.EffectiveDate = l.today()
	}
	if err := l.storage.CreateDeposit(&deposit); err != nil {
		return nil, nil, fmt.Errorf("failed to store deposit: %w", err)
	}
	l.logger.Info("deposit recorded",
		zap.String("op", "ledger.RecordDeposit"),
		zap.Stringer("loan", loanID),
		zap.Stringer("deposit", deposit.ID),
		zap.Stringer("amount", deposit.Amount),
		zap.Stringer("effective", deposit.EffectiveDate),
	)

	stmt, err := l.reconcile(loan)
	if err != nil {
		return &deposit, nil, err
	}
	return &deposit, stmt, nil
}

// Reconcile reapplies every deposit of the loan, writes the results back
// into its parameters and stores it. Running it again without new deposits
// changes nothing.
func (l *Ledger) Reconcile(id uuid.UUID) (*Statement, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	return l.reconcile(loan)
}

// ReconcileAll reconciles every active loan and returns how many succeeded.
func (l *Ledger) ReconcileAll() (int, error) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		return 0, err
	}
	var errs []error
	done := 0
	for _, loan := range loans {
		if _, err := l.reconcile(loan); err != nil {
			errs = append(errs, fmt.Errorf("loan %s: %w", loan.ID, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (l *Ledger) reconcile(loan *models.Loan) (*Statement, error) {
	stmt, usages, err := l.build(loan)
	if err != nil {
		return nil, err
	}
	loan.Params = stmt.Schedule.Params.Clone()
	loan.UpdatedAt = time.Now()
	if stmt.Summary.Paid == stmt.Summary.Bills && stmt.Schedule.Last().EndBalance.IsZero() {
		loan.Status = models.LoanStatusClosed
	}
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}
	if err := l.storage.ReplaceDepositUsages(loan.ID, usages); err != nil {
		return nil, fmt.Errorf("failed to store deposit usages: %w", err)
	}
	stmt.Loan = loan

	l.logger.Info("loan reconciled",
		zap.String("op", "ledger.reconcile"),
		zap.Stringer("loan", loan.ID),
		zap.Int("bills", stmt.Summary.Bills),
		zap.Int("paid", stmt.Summary.Paid),
		zap.Stringer("outstanding", stmt.Summary.Outstanding),
		zap.String("status", string(loan.Status)),
	)
	return stmt, nil
}

// build runs the loop for one loan. Balance modifications created from
// deposits and the DSI payment history are derived here, so they are
// dropped from the stored parameters and rebuilt from the deposits.
func (l *Ledger) build(loan *models.Loan) (*Statement, []models.DepositUsage, error) {
	base := loan.Params.Clone()
	base.DSIPaymentHistory = nil
	kept := base.BalanceModifications[:0]
	for _, m := range base.BalanceModifications {
		if m.LinkedDepositID == nil {
			kept = append(kept, m)
		}
	}
	base.BalanceModifications = kept

	engine, err := l.engine(base)
	if err != nil {
		return nil, nil, err
	}
	stored, err := l.storage.GetDepositsForLoan(loan.ID)
	if err != nil {
		return nil, nil, err
	}
	deposits := make([]payments.Deposit, 0, len(stored))
	for _, d := range stored {
		deposits = append(deposits, payments.Deposit{
			ID:                     d.ID,
			Amount:                 d.Amount,
			EffectiveDate:          d.EffectiveDate,
			ApplyExcessToPrincipal: d.ApplyExcessToPrincipal,
			Description:            d.Description,
		})
	}

	bills, applied, err := l.settle(loan.ID, engine, deposits)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range bills {
		if b.BillingModel != amortization.BillingModelDailySimpleInterest || !b.IsPaid || len(b.Allocations) == 0 {
			continue
		}
		paidOn := b.Allocations[len(b.Allocations)-1].Date
		if _, err := engine.PayDSITerm(b.Term, paidOn, b.Paid()); err != nil {
			return nil, nil, fmt.Errorf("recording dsi payment for term %d: %w", b.Term, err)
		}
	}

	var usages []models.DepositUsage
	for _, dr := range applied.Deposits {
		for _, u := range dr.Usage {
			usages = append(usages, models.DepositUsage{
				DepositID: u.DepositID,
				LoanID:    loan.ID,
				BillID:    u.BillID,
				Term:      u.Term,
				Date:      u.Date,
				Interest:  u.Interest,
				Fees:      u.Fees,
				Principal: u.Principal,
			})
		}
	}

	return &Statement{
		Loan:     loan,
		Schedule: engine.Result(),
		Bills:    bills,
		Payments: applied,
		Summary:  billing.Summarize(bills),
	}, usages, nil
}

// maxSettlePasses bounds how often deposits are reapplied while their
// principal reductions are still reshaping the bills.
const maxSettlePasses = 8

// settle applies the deposits to bills generated from the engine's schedule
// and writes each deposit's principal reduction back, repeating until the
// reductions stop changing. The bills returned then come from the schedule
// that already carries every reduction.
func (l *Ledger) settle(loanID uuid.UUID, engine *amortization.Engine, deposits []payments.Deposit) ([]*billing.Bill, *payments.Result, error) {
	for pass := 1; ; pass++ {
		bills := billing.Generate(loanID, engine.Schedule(), l.today())
		applied, err := payments.Apply(bills, deposits, l.payments)
		if err != nil {
			return nil, nil, err
		}

		current := engine.Params().BalanceModifications
		groups := payments.ModificationsByDeposit(deposits, applied)
		changed := false
		for _, d := range deposits {
			if sameModifications(linkedTo(current, d.ID), groups[d.ID]) {
				continue
			}
			if err := engine.ReplaceDepositModifications(d.ID, groups[d.ID]); err != nil {
				return nil, nil, fmt.Errorf("writing back deposit %s: %w", d.ID, err)
			}
			changed = true
		}
		if !changed {
			return bills, applied, nil
		}
		if pass == maxSettlePasses {
			l.logger.Warn("principal reductions did not settle",
				zap.String("op", "ledger.settle"),
				zap.Stringer("loan", loanID),
				zap.Int("passes", pass),
			)
			bills = billing.Generate(loanID, engine.Schedule(), l.today())
			applied, err = payments.Apply(bills, deposits, l.payments)
			return bills, applied, err
		}
	}
}

func linkedTo(mods []amortization.BalanceModification, deposit uuid.UUID) []amortization.BalanceModification {
	var out []amortization.BalanceModification
	for _, m := range mods {
		if m.LinkedDepositID != nil && *m.LinkedDepositID == deposit {
			out = append(out, m)
		}
	}
	return out
}

func sameModifications(a, b []amortization.BalanceModification) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Type != b[i].Type || a[i].Date != b[i].Date || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}

func (l *Ledger) engine(p amortization.LoanParams) (*amortization.Engine, error) {
	return amortization.New(p, amortization.WithLogger(l.logger), amortization.WithCurrentDate(l.today()))
}

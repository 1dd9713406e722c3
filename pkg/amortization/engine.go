package amortization

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const memoSize = 8

// Engine holds one loan and its current schedule. It has a single writer:
// callers serialize all mutations. Every mutation recomputes eagerly and
// bumps Version; a failed mutation leaves the engine unchanged.
type Engine struct {
	params  LoanParams
	current civil.Date
	logger  *zap.Logger

	version uint64
	result  *Result
	memo    map[[sha256.Size]byte]*Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCurrentDate fixes the date used for DSI classification.
func WithCurrentDate(d civil.Date) Option {
	return func(e *Engine) { e.current = d }
}

// New validates p and computes its schedule.
func New(p LoanParams, opts ...Option) (*Engine, error) {
	e := &Engine{
		params: p.Clone(),
		logger: zap.NewNop(),
		memo:   make(map[[sha256.Size]byte]*Result),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.current.IsZero() {
		e.current = civil.DateOf(time.Now())
	}
	res, err := e.compute(e.params, e.current)
	if err != nil {
		return nil, err
	}
	e.result = res
	return e, nil
}

// Params returns a copy of the loan parameters.
func (e *Engine) Params() LoanParams { return e.params.Clone() }

// Version counts successful mutations.
func (e *Engine) Version() uint64 { return e.version }

// CurrentDate is the date DSI classification is computed against.
func (e *Engine) CurrentDate() civil.Date { return e.current }

// Result returns the current computation. It is shared and must not be
// modified.
func (e *Engine) Result() *Result { return e.result }

// Schedule returns the current schedule entries.
func (e *Engine) Schedule() []ScheduleEntry { return e.result.Entries }

// EMI returns the current fixed payment.
func (e *Engine) EMI() decimal.Decimal { return e.result.EMI }

// Update applies fn to a copy of the parameters and recomputes. If fn or
// the recomputation fails the engine keeps its previous state.
func (e *Engine) Update(fn func(p *LoanParams) error) error {
	next := e.params.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	return e.commit(next, e.current)
}

// SetCurrentDate moves the DSI clock and recomputes.
func (e *Engine) SetCurrentDate(d civil.Date) error {
	if !d.IsValid() {
		return fmt.Errorf("%w: current date %s", ErrInvalidDate, d)
	}
	return e.commit(e.params, d)
}

// Recompute forces a recomputation of the current parameters.
func (e *Engine) Recompute() error {
	return e.commit(e.params, e.current)
}

// AddBalanceModification appends m, assigning an id when it has none.
func (e *Engine) AddBalanceModification(m BalanceModification) (BalanceModification, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := e.Update(func(p *LoanParams) error {
		p.BalanceModifications = append(p.BalanceModifications, m)
		return nil
	})
	return m, err
}

// RemoveBalanceModification drops the modification with id.
func (e *Engine) RemoveBalanceModification(id uuid.UUID) error {
	return e.Update(func(p *LoanParams) error {
		for i, m := range p.BalanceModifications {
			if m.ID == id {
				p.BalanceModifications = append(p.BalanceModifications[:i], p.BalanceModifications[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: no balance modification %s", ErrInvalidParameter, id)
	})
}

// ReplaceDepositModifications swaps every modification linked to deposit
// for mods, so repeated payment runs never duplicate them.
func (e *Engine) ReplaceDepositModifications(deposit uuid.UUID, mods []BalanceModification) error {
	return e.Update(func(p *LoanParams) error {
		kept := p.BalanceModifications[:0]
		for _, m := range p.BalanceModifications {
			if m.LinkedDepositID == nil || *m.LinkedDepositID != deposit {
				kept = append(kept, m)
			}
		}
		p.BalanceModifications = append(kept, mods...)
		return nil
	})
}

// AddTermExtension appends an extension; the schedule grows or shrinks by
// its quantity.
func (e *Engine) AddTermExtension(x TermExtension) error {
	return e.Update(func(p *LoanParams) error {
		p.TermExtensions = append(p.TermExtensions, x)
		return nil
	})
}

// RecordDSIPayment stores rec in the DSI payment history.
func (e *Engine) RecordDSIPayment(rec DSIPaymentRecord) error {
	return e.Update(func(p *LoanParams) error {
		if p.DSIPaymentHistory == nil {
			p.DSIPaymentHistory = make(DSILedger)
		}
		p.DSIPaymentHistory[rec.TermNumber] = rec
		return nil
	})
}

// PayDSITerm computes the outcome of paying amount on date and records it.
func (e *Engine) PayDSITerm(term int, date civil.Date, amount decimal.Decimal) (DSIPaymentRecord, error) {
	rec, err := e.result.DSIPaymentOutcome(term, date, amount)
	if err != nil {
		return DSIPaymentRecord{}, err
	}
	return rec, e.RecordDSIPayment(rec)
}

func (e *Engine) commit(p LoanParams, current civil.Date) error {
	res, err := e.compute(p, current)
	if err != nil {
		e.logger.Warn("recompute rejected",
			zap.String("op", "amortization.Engine.commit"),
			zap.Uint64("version", e.version),
			zap.Error(err),
		)
		return err
	}
	e.params = p
	e.current = current
	e.result = res
	e.version++
	return nil
}

func (e *Engine) compute(p LoanParams, current civil.Date) (*Result, error) {
	key, err := contentKey(p, current)
	if err != nil {
		return nil, err
	}
	if res, ok := e.memo[key]; ok {
		e.logger.Debug("schedule served from memo", zap.String("op", "amortization.Engine.compute"))
		return res, nil
	}
	res, err := Recompute(p, Options{CurrentDate: current, Logger: e.logger})
	if err != nil {
		return nil, err
	}
	if len(e.memo) >= memoSize {
		clear(e.memo)
	}
	e.memo[key] = res
	return res, nil
}

func contentKey(p LoanParams, current civil.Date) ([sha256.Size]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("hashing loan params: %w", err)
	}
	b = append(b, current.String()...)
	return sha256.Sum256(b), nil
}

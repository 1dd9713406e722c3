package amortization

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Snapshot is the JSON projection of a loan and its computed schedule.
type Snapshot struct {
	Loan        LoanParams      `json:"loan"`
	CurrentDate civil.Date      `json:"currentDate"`
	EMI         decimal.Decimal `json:"emi"`
	Schedule    []ScheduleEntry `json:"schedule"`
}

// Snapshot returns the engine's current projection.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Loan:        e.Params(),
		CurrentDate: e.current,
		EMI:         e.result.EMI,
		Schedule:    slices.Clone(e.result.Entries),
	}
}

// MarshalJSON encodes the engine as a Snapshot.
func (e *Engine) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

// ImportSnapshot rebuilds an engine from a snapshot. Loan fields missing
// from data take their defaults. When the snapshot carries a schedule it
// must match the recomputed one exactly.
func ImportSnapshot(data []byte, opts ...Option) (*Engine, error) {
	snap := Snapshot{Loan: DefaultLoanParams()}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if !snap.CurrentDate.IsZero() {
		opts = append([]Option{WithCurrentDate(snap.CurrentDate)}, opts...)
	}
	e, err := New(snap.Loan, opts...)
	if err != nil {
		return nil, err
	}
	if snap.Schedule == nil {
		return e, nil
	}
	want, err := json.Marshal(snap.Schedule)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot schedule: %w", err)
	}
	got, err := json.Marshal(e.Schedule())
	if err != nil {
		return nil, fmt.Errorf("encoding schedule: %w", err)
	}
	if !bytes.Equal(want, got) {
		return nil, ErrSnapshotMismatch
	}
	return e, nil
}

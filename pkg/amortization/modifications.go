package amortization

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/loanengine/pkg/calendar"
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
)

// balanceSlice is a stretch of a period with a constant opening balance.
type balanceSlice struct {
	start, end civil.Date
	balance    decimal.Decimal
}

// sortedModifications copies mods in date order with usage reset: nothing is
// used until a period applies it.
func sortedModifications(mods []BalanceModification) []BalanceModification {
	out := append([]BalanceModification(nil), mods...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	for i := range out {
		out[i].UsedAmount = decimal.Zero
		out[i].UnusedAmount = out[i].Amount
	}
	return out
}

// applyModifications slices a period at each modification dated inside it
// and applies them in order. Modifications dated before the loan start are
// applied at the start of the first period. A decrease never takes the
// balance below zero; the excess stays unused.
func applyModifications(start, end civil.Date, first bool, balance decimal.Decimal, mods []BalanceModification) ([]balanceSlice, decimal.Decimal, decimal.Decimal) {
	var slices []balanceSlice
	cursor, bal, net := start, balance, decimal.Zero
	for i := range mods {
		m := &mods[i]
		at := m.Date
		if first && at.Before(start) {
			at = start
		}
		if !calendar.Within(at, start, end) {
			continue
		}
		if at.After(cursor) {
			slices = append(slices, balanceSlice{start: cursor, end: at, balance: bal})
			cursor = at
		}
		switch m.Type {
		case BalanceIncrease:
			bal = bal.Add(m.Amount)
			net = net.Add(m.Amount)
			m.UsedAmount, m.UnusedAmount = m.Amount, decimal.Zero
		case BalanceDecrease:
			used := money.Min(m.Amount, money.Max(bal, decimal.Zero))
			bal = bal.Sub(used)
			net = net.Sub(used)
			m.UsedAmount, m.UnusedAmount = used, m.Amount.Sub(used)
		}
	}
	slices = append(slices, balanceSlice{start: cursor, end: end, balance: bal})
	return slices, bal, net
}

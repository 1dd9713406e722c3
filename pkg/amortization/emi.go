package amortization

import (
	"github.com/mcclellann/loanengine/pkg/money"
	"github.com/shopspring/decimal"
)

var (
	twelve = decimal.NewFromInt(12)
	one    = decimal.NewFromInt(1)
)

// CalculateEMI is the annuity payment P*r / (1 - (1+r)^-n) with r the
// monthly rate, or P/n when the rate is zero. The result is rounded.
func CalculateEMI(principal, annualRate decimal.Decimal, n int, method money.RoundingMethod, places int32) decimal.Decimal {
	if n <= 0 {
		return money.RoundValue(principal, method, places)
	}
	if annualRate.IsZero() {
		return money.RoundValue(principal.DivRound(decimal.NewFromInt(int64(n)), 20), method, places)
	}
	r := annualRate.DivRound(twelve, 20)
	discount := one.Sub(money.PowInt(one.Add(r), -n))
	return money.RoundValue(principal.Mul(r).DivRound(discount, 20), method, places)
}

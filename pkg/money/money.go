// Package money holds the rounding rules used for every monetary amount in the
// engine. Amounts are shopspring decimals; rounding always reports the residual
// it discarded so callers can account for it explicitly.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RoundingMethod selects how a value is brought to a fixed number of places.
type RoundingMethod string

const (
	RoundUp        RoundingMethod = "ROUND_UP"         // away from zero
	RoundDown      RoundingMethod = "ROUND_DOWN"       // toward zero
	RoundHalfUp    RoundingMethod = "ROUND_HALF_UP"    // ties away from zero
	RoundHalfDown  RoundingMethod = "ROUND_HALF_DOWN"  // ties toward zero
	RoundHalfEven  RoundingMethod = "ROUND_HALF_EVEN"  // banker's rounding
	RoundHalfCeil  RoundingMethod = "ROUND_HALF_CEIL"  // ties toward +inf
	RoundHalfFloor RoundingMethod = "ROUND_HALF_FLOOR" // ties toward -inf
)

// RoundingMethods lists every supported method.
var RoundingMethods = []RoundingMethod{
	RoundUp, RoundDown, RoundHalfUp, RoundHalfDown, RoundHalfEven, RoundHalfCeil, RoundHalfFloor,
}

// ParseRoundingMethod rejects unknown names instead of defaulting.
func ParseRoundingMethod(s string) (RoundingMethod, error) {
	for _, m := range RoundingMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown rounding method %q", s)
}

// Valid reports whether m is one of the supported methods.
func (m RoundingMethod) Valid() bool {
	_, err := ParseRoundingMethod(string(m))
	return err == nil
}

// Rounded is a rounded value together with the signed residual
// (original - rounded) that rounding discarded.
type Rounded struct {
	Value    decimal.Decimal `json:"value"`
	Residual decimal.Decimal `json:"residual"`
}

// Round rounds d to places using method m.
func Round(d decimal.Decimal, m RoundingMethod, places int32) Rounded {
	v := roundValue(d, m, places)
	return Rounded{Value: v, Residual: d.Sub(v)}
}

// RoundValue is Round without the residual.
func RoundValue(d decimal.Decimal, m RoundingMethod, places int32) decimal.Decimal {
	return roundValue(d, m, places)
}

func roundValue(d decimal.Decimal, m RoundingMethod, places int32) decimal.Decimal {
	switch m {
	case RoundUp:
		return d.RoundUp(places)
	case RoundDown:
		return d.RoundDown(places)
	case RoundHalfEven:
		return d.RoundBank(places)
	case RoundHalfDown, RoundHalfCeil, RoundHalfFloor:
		return roundHalf(d, m, places)
	default:
		return d.Round(places)
	}
}

// roundHalf handles the tie-breaking variants shopspring does not provide.
func roundHalf(d decimal.Decimal, m RoundingMethod, places int32) decimal.Decimal {
	lower := d.RoundFloor(places)
	upper := d.RoundCeil(places)
	if lower.Equal(upper) {
		return lower
	}
	switch d.Sub(lower).Cmp(upper.Sub(d)) {
	case -1:
		return lower
	case 1:
		return upper
	}
	switch m {
	case RoundHalfCeil:
		return upper
	case RoundHalfFloor:
		return lower
	default:
		if d.IsNegative() {
			return upper
		}
		return lower
	}
}

const powPrecision = 30

// PowInt raises base to an integer power, keeping powPrecision places at each
// step so long terms do not grow the mantissa without bound.
func PowInt(base decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.NewFromInt(1)
	}
	neg := n < 0
	if neg {
		n = -n
	}
	result := decimal.NewFromInt(1)
	b := base
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(b).Round(powPrecision)
		}
		b = b.Mul(b).Round(powPrecision)
		n >>= 1
	}
	if neg {
		return decimal.NewFromInt(1).DivRound(result, powPrecision)
	}
	return result
}

// Sum adds the given amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

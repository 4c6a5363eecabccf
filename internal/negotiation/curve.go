package negotiation

import (
	"math"

	"github.com/shopspring/decimal"
)

// curveSteepness scales the risk tolerance into the concession exponent.
const curveSteepness = 0.65

// Concession computes the seller's counter price for a given round on the
// exponential concession curve:
//
//	target - (target - minimum) * (1 - exp(-0.65 * risk * round/maxRounds))
//
// It is target at round 0, non-increasing in round, and converges toward the
// [minimum, target] interval. Intermediate arithmetic stays in decimal; the
// single rounding step is half-even to 2 fractional digits at the end.
func Concession(target, minimum decimal.Decimal, round, maxRounds int, risk float64) decimal.Decimal {
	t := float64(round) / float64(maxRounds)
	factor := decimal.NewFromFloat(1 - math.Exp(-curveSteepness*risk*t))
	return target.Sub(target.Sub(minimum).Mul(factor)).RoundBank(2)
}

package negotiation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestConcessionAtRoundZero(t *testing.T) {
	c := Concession(dec("25"), dec("15"), 0, 5, 0.6)
	assert.True(t, c.Equal(dec("25")), "round 0 must return target, got %s", c)
}

func TestConcessionKnownValues(t *testing.T) {
	// target=25, minimum=15, maxRounds=5, balanced risk.
	tests := []struct {
		round int
		want  string
	}{
		{1, "24.25"},
		{2, "23.56"},
		{3, "22.91"},
		{4, "22.32"},
	}
	for _, tt := range tests {
		c := Concession(dec("25"), dec("15"), tt.round, 5, 0.6)
		assert.True(t, c.Equal(dec(tt.want)), "round %d: want %s got %s", tt.round, tt.want, c)
	}
}

func TestConcessionMonotonicNonIncreasing(t *testing.T) {
	for _, risk := range []float64{0.3, 0.6, 0.85} {
		prev := dec("100")
		for round := 0; round <= 10; round++ {
			c := Concession(dec("100"), dec("40"), round, 5, risk)
			require.True(t, c.LessThanOrEqual(prev), "risk %v round %d: %s > %s", risk, round, c, prev)
			require.True(t, c.GreaterThanOrEqual(dec("40")))
			require.True(t, c.LessThanOrEqual(dec("100")))
			prev = c
		}
	}
}

func TestConcessionStrategyOrdering(t *testing.T) {
	// Firmer strategies concede less at every round: firm >= balanced >= flexible.
	for round := 1; round <= 5; round++ {
		firm := Concession(dec("25"), dec("15"), round, 5, 0.3)
		balanced := Concession(dec("25"), dec("15"), round, 5, 0.6)
		flexible := Concession(dec("25"), dec("15"), round, 5, 0.85)

		assert.True(t, firm.GreaterThanOrEqual(balanced), "round %d: firm %s < balanced %s", round, firm, balanced)
		assert.True(t, balanced.GreaterThanOrEqual(flexible), "round %d: balanced %s < flexible %s", round, balanced, flexible)
	}
}

func TestConcessionDegenerateRange(t *testing.T) {
	// target == minimum collapses the curve to a constant.
	for round := 0; round <= 5; round++ {
		c := Concession(dec("10"), dec("10"), round, 5, 0.85)
		assert.True(t, c.Equal(dec("10")))
	}
}

package pricing

import (
	"encoding/json"
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

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestNewFixed(t *testing.T) {
	f, err := NewFixed(dec("5.00"), "")
	require.NoError(t, err)
	assert.Equal(t, "USDC", f.Currency)
	assert.True(t, f.Amount.Equal(dec("5")))

	_, err = NewFixed(dec("-1"), "USDC")
	assert.ErrorIs(t, err, ErrInvalidPricing)
}

func TestNewNegotiatedValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      Negotiated
		wantErr bool
	}{
		{"legacy bounds", Negotiated{Target: decp("25"), Minimum: decp("15")}, false},
		{"base mode", Negotiated{Base: decp("20")}, false},
		{"neither", Negotiated{}, true},
		{"both", Negotiated{Base: decp("20"), Target: decp("25"), Minimum: decp("15")}, true},
		{"target below minimum", Negotiated{Target: decp("10"), Minimum: decp("15")}, true},
		{"negative minimum", Negotiated{Target: decp("10"), Minimum: decp("-1")}, true},
		{"zero base", Negotiated{Base: decp("0")}, true},
		{"bad rounds", Negotiated{Target: decp("25"), Minimum: decp("15"), MaxRounds: -2}, true},
		{"bad strategy", Negotiated{Target: decp("25"), Minimum: decp("15"), Strategy: "ruthless"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewNegotiated(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPricing)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultMaxRounds, n.MaxRounds)
			assert.Equal(t, "USDC", n.Currency)
		})
	}
}

func TestStrategyDefaults(t *testing.T) {
	// No strategy but a model configured means full LLM control.
	n, err := NewNegotiated(Negotiated{Target: decp("25"), Minimum: decp("15"), Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, StrategyLLM, n.Strategy)

	// No strategy and no model defaults to balanced.
	n, err = NewNegotiated(Negotiated{Target: decp("25"), Minimum: decp("15")})
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, n.Strategy)
}

func TestStrategyRisk(t *testing.T) {
	assert.Equal(t, 0.3, StrategyFirm.Risk())
	assert.Equal(t, 0.6, StrategyBalanced.Risk())
	assert.Equal(t, 0.85, StrategyFlexible.Risk())
	assert.Equal(t, 0.6, StrategyLLM.Risk())
}

func TestWireDescriptors(t *testing.T) {
	f, err := NewFixed(dec("5.00"), "USDC")
	require.NoError(t, err)
	w := f.Wire()
	assert.Equal(t, "fixed", w["model"])
	assert.Equal(t, 5.0, w["amount"])

	base, err := NewNegotiated(Negotiated{Base: decp("20")})
	require.NoError(t, err)
	w = base.Wire()
	assert.Equal(t, "negotiated", w["model"])
	assert.Equal(t, true, w["requires_estimation"])
	assert.Equal(t, 20.0, w["base"])

	legacy, err := NewNegotiated(Negotiated{Target: decp("25"), Minimum: decp("15"), Strategy: StrategyFirm})
	require.NoError(t, err)
	w = legacy.Wire()
	assert.Equal(t, 25.0, w["target_amount"])
	assert.Equal(t, 15.0, w["min_amount"])
	assert.Equal(t, "firm", w["strategy"])
}

func TestJSONRoundTrip(t *testing.T) {
	cases := []Pricing{
		mustFixed(t, "5.00"),
		mustNegotiated(t, Negotiated{Target: decp("25.00"), Minimum: decp("15.00"), Strategy: StrategyFirm}),
		mustNegotiated(t, Negotiated{Base: decp("20.00"), MaxRounds: 3}),
	}

	for _, p := range cases {
		data, err := json.Marshal(p)
		require.NoError(t, err)

		back, err := Parse(data)
		require.NoError(t, err)

		again, err := json.Marshal(back)
		require.NoError(t, err)
		assert.JSONEq(t, string(data), string(again))
	}
}

func TestParseRejectsUnknownModel(t *testing.T) {
	_, err := Parse([]byte(`{"model":"auction","amount":1}`))
	assert.ErrorIs(t, err, ErrInvalidPricing)
}

func mustFixed(t *testing.T, amount string) *Fixed {
	t.Helper()
	f, err := NewFixed(dec(amount), "USDC")
	require.NoError(t, err)
	return f
}

func mustNegotiated(t *testing.T, n Negotiated) *Negotiated {
	t.Helper()
	p, err := NewNegotiated(n)
	require.NoError(t, err)
	return p
}

package estimate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexprotocol/apexd/internal/llm"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fakeCompleter returns a canned completion or error.
type fakeCompleter struct {
	response string
	err      error
	lastReq  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestEstimateAppliesMultiplier(t *testing.T) {
	fake := &fakeCompleter{response: `{"multiplier": 1.5, "reasoning": "multiple sources"}`}
	est := New(Config{Client: fake})

	r := est.Estimate(context.Background(), dec("20"), map[string]interface{}{"topic": "AI trends"}, nil, "research")

	assert.True(t, r.Amount.Equal(dec("30")), "amount %s", r.Amount)
	assert.True(t, r.Minimum.Equal(dec("24")), "minimum %s", r.Minimum)
	assert.Equal(t, 1.5, r.Multiplier)
	assert.Equal(t, "multiple sources", r.Reasoning)
	assert.Equal(t, "USDC", r.Currency)
	require.Len(t, r.Factors, 2)
	assert.Equal(t, "base_rate", r.Factors[0].Name)
	assert.Equal(t, "$20.00", r.Factors[0].Value)
	assert.Equal(t, "1.50x", r.Factors[1].Value)

	// Low temperature, forced JSON.
	assert.InDelta(t, 0.1, fake.lastReq.Temperature, 1e-6)
	assert.True(t, fake.lastReq.ForceJSON)
	assert.Contains(t, fake.lastReq.User, "AI trends")
}

func TestEstimateClampsMultiplier(t *testing.T) {
	tests := []struct {
		response string
		want     float64
	}{
		{`{"multiplier": 0.01}`, 0.25},
		{`{"multiplier": 10.0}`, 4.0},
		{`{"multiplier": 2.0}`, 2.0},
	}
	for _, tt := range tests {
		fake := &fakeCompleter{response: tt.response}
		r := New(Config{Client: fake}).Estimate(context.Background(), dec("10"), nil, nil, "")
		assert.Equal(t, tt.want, r.Multiplier, "response %s", tt.response)
		assert.True(t, r.Amount.Equal(dec("10").Mul(decimal.NewFromFloat(tt.want)).RoundBank(2)))
	}
}

func TestEstimateFallsBackOnModelFailure(t *testing.T) {
	for _, fake := range []*fakeCompleter{
		{err: errors.New("connection refused")},
		{response: "I think this task is quite hard."},
		{response: `{"multiplier": "lots"}`},
	} {
		r := New(Config{Client: fake}).Estimate(context.Background(), dec("20"), nil, nil, "")
		assert.Equal(t, 1.0, r.Multiplier)
		assert.True(t, r.Amount.Equal(dec("20")))
		assert.True(t, r.Minimum.Equal(dec("16")))
		assert.NotEmpty(t, r.Reasoning)
	}
}

func TestEstimateWithoutClient(t *testing.T) {
	r := New(Config{}).Estimate(context.Background(), dec("12.50"), nil, nil, "")
	assert.Equal(t, 1.0, r.Multiplier)
	assert.True(t, r.Amount.Equal(dec("12.50")))
	assert.True(t, r.Minimum.Equal(dec("10")))
}

func TestEstimateIDFormat(t *testing.T) {
	r := New(Config{}).Estimate(context.Background(), dec("1"), nil, nil, "")
	require.True(t, strings.HasPrefix(r.ID, "est-"), "id %s", r.ID)
	assert.GreaterOrEqual(t, len(strings.TrimPrefix(r.ID, "est-")), 12)

	other := New(Config{}).Estimate(context.Background(), dec("1"), nil, nil, "")
	assert.NotEqual(t, r.ID, other.ID)
}

func TestEstimateExpiry(t *testing.T) {
	now := time.Now()
	est := New(Config{Clock: func() time.Time { return now }})
	r := est.Estimate(context.Background(), dec("1"), nil, nil, "")

	assert.Equal(t, now.Add(TTL), r.ExpiresAt)
	assert.False(t, r.Expired(now.Add(TTL)))
	assert.True(t, r.Expired(now.Add(TTL+time.Millisecond)))
}

func TestTaskDescriptionProbesKnownFields(t *testing.T) {
	assert.Equal(t, "a", taskDescription(map[string]interface{}{"topic": "a", "query": "b"}))
	assert.Equal(t, "b", taskDescription(map[string]interface{}{"query": "b"}))
	assert.Equal(t, "c", taskDescription(map[string]interface{}{"task": "c"}))
	assert.Contains(t, taskDescription(map[string]interface{}{"city": "Paris"}), "Paris")
}

// Package estimate prices a concrete task by scaling a human-supplied base
// rate with an LLM-derived complexity multiplier, and caches the resulting
// estimates for the negotiation dispatcher to resolve.
package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/llm"
)

const (
	// TTL is how long an estimate can parameterize a negotiation.
	TTL = 300 * time.Second

	// floorPct derives the seller's negotiation floor from the estimate.
	floorPct = 0.80

	// Multiplier clamp bounds.
	minMultiplier = 0.25
	maxMultiplier = 4.0

	// estimationTemperature keeps the multiplier JSON deterministic.
	estimationTemperature = 0.1
)

var floorFactor = decimal.NewFromFloat(floorPct)

const multiplierGuide = `
Multiplier guide:
- 0.25x: Trivial (simple lookup, basic question)
- 0.5x: Simple (straightforward task, clear scope)
- 1.0x: Standard (typical task for this capability)
- 1.5x: Moderate (multiple sources, some synthesis)
- 2.0x: Complex (cross-domain, significant analysis)
- 3.0x: Hard (deep research, many dimensions)
- 4.0x: Very hard (novel territory, extensive work)
`

// Factor is one named input to an estimate, surfaced on the wire.
type Factor struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Result is a cached, expiring task estimate. Amount is the seller's
// negotiation target; Minimum its floor.
type Result struct {
	ID         string
	Amount     decimal.Decimal
	Minimum    decimal.Decimal
	Currency   string
	Multiplier float64
	Reasoning  string
	ExpiresAt  time.Time
	Factors    []Factor
}

// Expired reports whether the estimate can no longer back a negotiation.
func (r *Result) Expired(now time.Time) bool { return now.After(r.ExpiresAt) }

// Estimator derives estimates through an LLM with an algorithmic fallback
// of multiplier 1.0 on any upstream failure.
type Estimator struct {
	client   llm.Completer
	currency string
	log      *zap.Logger
	now      func() time.Time
}

// Config parameterizes an Estimator.
type Config struct {
	Client   llm.Completer
	Currency string
	Logger   *zap.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New builds an estimator.
func New(cfg Config) *Estimator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "USDC"
	}
	return &Estimator{client: cfg.Client, currency: currency, log: log.Named("estimate"), now: now}
}

// Estimate prices one task. LLM faults never surface: they degrade to a
// standard-complexity estimate.
func (e *Estimator) Estimate(ctx context.Context, base decimal.Decimal, input map[string]interface{}, instructions []string, capability string) *Result {
	multiplier := 1.0
	reasoning := "Standard complexity estimate."

	if e.client != nil {
		if m, r, err := e.askModel(ctx, base, input, instructions, capability); err == nil {
			multiplier, reasoning = m, r
		} else {
			e.log.Warn("estimation model failed, using standard multiplier", zap.Error(err))
		}
	}

	multiplier = clampMultiplier(multiplier)
	amount := base.Mul(decimal.NewFromFloat(multiplier)).RoundBank(2)
	minimum := amount.Mul(floorFactor).RoundBank(2)

	now := e.now()
	return &Result{
		ID:         newEstimateID(),
		Amount:     amount,
		Minimum:    minimum,
		Currency:   e.currency,
		Multiplier: multiplier,
		Reasoning:  reasoning,
		ExpiresAt:  now.Add(TTL),
		Factors: []Factor{
			{Name: "base_rate", Value: "$" + base.StringFixed(2)},
			{Name: "multiplier", Value: fmt.Sprintf("%.2fx", multiplier)},
		},
	}
}

func (e *Estimator) askModel(ctx context.Context, base decimal.Decimal, input map[string]interface{}, instructions []string, capability string) (float64, string, error) {
	text, err := e.client.Complete(ctx, llm.Request{
		System:      estimationPrompt(base, instructions, capability),
		User:        "Task: " + taskDescription(input),
		Temperature: estimationTemperature,
		ForceJSON:   true,
	})
	if err != nil {
		return 0, "", err
	}
	return parseEstimation(text)
}

// taskDescription probes the known task fields before falling back to the
// serialized input.
func taskDescription(input map[string]interface{}) string {
	for _, key := range []string{"topic", "query", "task"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return string(raw)
}

func estimationPrompt(base decimal.Decimal, instructions []string, capability string) string {
	var b strings.Builder

	b.WriteString("You are a PRICING ESTIMATOR. Your ONLY job is to analyze task complexity and output a JSON object.\n\n")
	b.WriteString("DO NOT negotiate. DO NOT write conversational text. ONLY output JSON.\n\n")
	fmt.Fprintf(&b, "Base rate: $%s\n", base.StringFixed(2))
	if capability != "" {
		fmt.Fprintf(&b, "Capability: %s\n", capability)
	}
	if len(instructions) > 0 {
		b.WriteString("Complexity guidelines:\n")
		for _, inst := range instructions {
			b.WriteString("- " + inst + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(multiplierGuide)
	b.WriteString(`
Analyze the task complexity and respond with ONLY this JSON format:
{"multiplier": 1.0, "reasoning": "Brief explanation of complexity"}

Rules:
- multiplier: 0.25 (trivial) to 4.0 (very complex)
- reasoning: 1 sentence explaining why this multiplier

RESPOND WITH JSON ONLY. NO OTHER TEXT.`)

	return b.String()
}

func parseEstimation(text string) (float64, string, error) {
	raw, err := llm.ExtractJSON(text)
	if err != nil {
		return 0, "", err
	}

	var resp struct {
		Multiplier *float64 `json:"multiplier"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, "", fmt.Errorf("decode estimation: %w", err)
	}

	multiplier := 1.0
	if resp.Multiplier != nil {
		multiplier = *resp.Multiplier
	}
	reasoning := resp.Reasoning
	if reasoning == "" {
		reasoning = defaultReasoning(multiplier)
	}
	return multiplier, reasoning, nil
}

// defaultReasoning supplies prose when the model returned only a number.
func defaultReasoning(multiplier float64) string {
	switch {
	case multiplier < 0.5:
		return "Quick factual lookup - minimal research required."
	case multiplier < 1.0:
		return "Straightforward task with limited scope."
	case multiplier < 1.5:
		return "Standard research task requiring synthesis."
	case multiplier < 2.5:
		return "Complex analysis requiring multiple sources and deep synthesis."
	default:
		return "Comprehensive cross-domain research with high complexity."
	}
}

func clampMultiplier(m float64) float64 {
	if m < minMultiplier {
		return minMultiplier
	}
	if m > maxMultiplier {
		return maxMultiplier
	}
	return m
}

// newEstimateID allocates "est-" + 24 hex characters (96 random bits).
func newEstimateID() string {
	id := uuid.New()
	return "est-" + strings.ReplaceAll(id.String(), "-", "")[:24]
}

// Package pricing defines the two pricing models an agent can advertise:
// a fixed price or a negotiated price range. The dispatcher type-switches
// on the concrete model; adding a variant requires touching the dispatcher.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a pricing block omits the currency.
const DefaultCurrency = "USDC"

// DefaultMaxRounds bounds a negotiation when the configuration omits it.
const DefaultMaxRounds = 5

// ErrInvalidPricing is returned when a pricing configuration is rejected.
var ErrInvalidPricing = errors.New("invalid pricing")

// Strategy selects the seller's (or buyer's) concession behaviour.
type Strategy string

const (
	StrategyFirm     Strategy = "firm"
	StrategyBalanced Strategy = "balanced"
	StrategyFlexible Strategy = "flexible"
	StrategyLLM      Strategy = "llm"
)

// Risk returns the risk tolerance driving the exponential concession curve.
// The llm strategy falls back to the balanced curve when the model is
// unavailable, so it shares the balanced risk.
func (s Strategy) Risk() float64 {
	switch s {
	case StrategyFirm:
		return 0.3
	case StrategyFlexible:
		return 0.85
	default:
		return 0.6
	}
}

// Valid reports whether s is one of the four known strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFirm, StrategyBalanced, StrategyFlexible, StrategyLLM:
		return true
	}
	return false
}

// Pricing is the closed set of pricing models.
type Pricing interface {
	// Wire emits the discovery descriptor for the model.
	Wire() map[string]interface{}
	// PaymentCurrency returns the settlement currency.
	PaymentCurrency() string

	isPricing()
}

// Fixed is an exact price with no negotiation.
type Fixed struct {
	Amount   decimal.Decimal
	Currency string
}

// NewFixed validates and builds a fixed price.
func NewFixed(amount decimal.Decimal, currency string) (*Fixed, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: fixed amount %s is negative", ErrInvalidPricing, amount)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Fixed{Amount: amount, Currency: currency}, nil
}

func (f *Fixed) isPricing() {}

func (f *Fixed) PaymentCurrency() string { return f.Currency }

func (f *Fixed) Wire() map[string]interface{} {
	return map[string]interface{}{
		"model":    "fixed",
		"amount":   f.Amount.InexactFloat64(),
		"currency": f.Currency,
	}
}

// Negotiated is a price range the seller defends over a bounded number of
// rounds. Exactly one of Base (estimation-driven) or Target/Minimum (static
// bounds) is set.
type Negotiated struct {
	// Base is the human-supplied rate the estimator scales per task.
	// When set, Target and Minimum are resolved per job from an estimate.
	Base *decimal.Decimal

	// Target and Minimum are static negotiation bounds.
	Target  *decimal.Decimal
	Minimum *decimal.Decimal

	MaxRounds    int
	Currency     string
	Strategy     Strategy
	Model        string
	BaseURL      string
	Instructions []string
}

// NewNegotiated validates and normalizes a negotiated pricing configuration.
func NewNegotiated(n Negotiated) (*Negotiated, error) {
	if n.Currency == "" {
		n.Currency = DefaultCurrency
	}
	if n.MaxRounds == 0 {
		n.MaxRounds = DefaultMaxRounds
	}
	if n.MaxRounds < 1 {
		return nil, fmt.Errorf("%w: max_rounds %d < 1", ErrInvalidPricing, n.MaxRounds)
	}
	if n.Strategy == "" {
		if n.Model != "" {
			n.Strategy = StrategyLLM
		} else {
			n.Strategy = StrategyBalanced
		}
	}
	if !n.Strategy.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidPricing, n.Strategy)
	}

	switch {
	case n.Base != nil:
		if n.Target != nil || n.Minimum != nil {
			return nil, fmt.Errorf("%w: base and target/minimum are mutually exclusive", ErrInvalidPricing)
		}
		if !n.Base.IsPositive() {
			return nil, fmt.Errorf("%w: base %s must be positive", ErrInvalidPricing, n.Base)
		}
	case n.Target != nil && n.Minimum != nil:
		if n.Minimum.IsNegative() {
			return nil, fmt.Errorf("%w: minimum %s is negative", ErrInvalidPricing, n.Minimum)
		}
		if n.Target.LessThan(*n.Minimum) {
			return nil, fmt.Errorf("%w: target %s below minimum %s", ErrInvalidPricing, n.Target, n.Minimum)
		}
	default:
		return nil, fmt.Errorf("%w: either base or target and minimum required", ErrInvalidPricing)
	}

	return &n, nil
}

func (n *Negotiated) isPricing() {}

func (n *Negotiated) PaymentCurrency() string { return n.Currency }

// RequiresEstimation reports whether negotiation bounds must be resolved
// from a task estimate before an engine can be created.
func (n *Negotiated) RequiresEstimation() bool { return n.Base != nil }

func (n *Negotiated) Wire() map[string]interface{} {
	w := map[string]interface{}{
		"model":      "negotiated",
		"max_rounds": n.MaxRounds,
		"currency":   n.Currency,
		"strategy":   string(n.Strategy),
	}
	if n.Base != nil {
		w["base"] = n.Base.InexactFloat64()
		w["requires_estimation"] = true
	} else {
		w["target_amount"] = n.Target.InexactFloat64()
		w["min_amount"] = n.Minimum.InexactFloat64()
	}
	return w
}

// wirePricing is the serialized form shared by both models.
type wirePricing struct {
	Model              string           `json:"model"`
	Amount             *decimal.Decimal `json:"amount,omitempty"`
	Base               *decimal.Decimal `json:"base,omitempty"`
	TargetAmount       *decimal.Decimal `json:"target_amount,omitempty"`
	MinAmount          *decimal.Decimal `json:"min_amount,omitempty"`
	MaxRounds          int              `json:"max_rounds,omitempty"`
	Currency           string           `json:"currency,omitempty"`
	Strategy           string           `json:"strategy,omitempty"`
	RequiresEstimation bool             `json:"requires_estimation,omitempty"`
}

// MarshalJSON serializes a Fixed with its model tag.
func (f *Fixed) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePricing{Model: "fixed", Amount: &f.Amount, Currency: f.Currency})
}

// MarshalJSON serializes a Negotiated with its model tag.
func (n *Negotiated) MarshalJSON() ([]byte, error) {
	w := wirePricing{
		Model:     "negotiated",
		MaxRounds: n.MaxRounds,
		Currency:  n.Currency,
		Strategy:  string(n.Strategy),
	}
	if n.Base != nil {
		w.Base = n.Base
		w.RequiresEstimation = true
	} else {
		w.TargetAmount = n.Target
		w.MinAmount = n.Minimum
	}
	return json.Marshal(w)
}

// Parse decodes a pricing descriptor by its model tag.
func Parse(data []byte) (Pricing, error) {
	var w wirePricing
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPricing, err)
	}
	switch w.Model {
	case "fixed":
		if w.Amount == nil {
			return nil, fmt.Errorf("%w: fixed pricing missing amount", ErrInvalidPricing)
		}
		return NewFixed(*w.Amount, w.Currency)
	case "negotiated":
		return NewNegotiated(Negotiated{
			Base:      w.Base,
			Target:    w.TargetAmount,
			Minimum:   w.MinAmount,
			MaxRounds: w.MaxRounds,
			Currency:  w.Currency,
			Strategy:  Strategy(w.Strategy),
		})
	default:
		return nil, fmt.Errorf("%w: unknown pricing model %q", ErrInvalidPricing, w.Model)
	}
}

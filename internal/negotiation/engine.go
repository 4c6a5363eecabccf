// Package negotiation implements the seller-side negotiation state machine,
// the exponential concession curve that drives algorithmic strategies, and
// the hash-chained transcript that makes a finished negotiation tamper
// evident.
package negotiation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/pricing"
)

// State is the lifecycle of a single negotiation.
type State string

const (
	StateInProgress State = "in_progress"
	StateAccepted   State = "accepted"
	StateRejected   State = "rejected"
	StateExpired    State = "expired"
)

// Terminal reports whether the state machine has finished.
func (s State) Terminal() bool { return s != StateInProgress }

// DefaultDeadline bounds the wall-clock lifetime of a negotiation.
const DefaultDeadline = 300 * time.Second

// counterBackoff shrinks an LLM counter that tried to rise above the
// previous one: the replacement is max(last*0.98, minimum).
var counterBackoff = decimal.NewFromFloat(0.98)

// ErrRequiresDynamicBounds is returned when base-mode pricing reaches the
// engine without target/minimum bounds resolved from an estimate.
var ErrRequiresDynamicBounds = errors.New("negotiation requires bounds resolved from an estimate")

// Bounds are per-job negotiation bounds, typically resolved from a task
// estimate when the pricing is base-mode.
type Bounds struct {
	Target  decimal.Decimal
	Minimum decimal.Decimal
}

// Offer is a counter offer emitted by the engine.
type Offer struct {
	Price  decimal.Decimal
	Round  int
	Reason string
}

// Config assembles an engine.
type Config struct {
	Pricing *pricing.Negotiated

	// Bounds overrides the pricing's static bounds; required in base mode.
	Bounds *Bounds

	// Task gives the LLM advisor context about the job. Optional.
	Task *TaskContext

	// Advisor enables LLM-driven decisions and counter dialogue. Optional.
	Advisor Advisor

	Logger *zap.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine is the seller-side state machine for one job. It is not safe for
// concurrent use; the dispatcher serialises access per job.
type Engine struct {
	target       decimal.Decimal
	minimum      decimal.Decimal
	maxRounds    int
	currency     string
	strategy     pricing.Strategy
	instructions []string

	advisor Advisor
	task    *TaskContext
	log     *zap.Logger
	now     func() time.Time

	deadline       time.Time
	round          int
	state          State
	lastCounter    *decimal.Decimal
	bestBuyerOffer *decimal.Decimal
	transcript     Transcript
}

// New builds an engine for one job. Base-mode pricing must arrive with
// resolved Bounds; the dispatcher resolves the estimate first.
func New(cfg Config) (*Engine, error) {
	if cfg.Pricing == nil {
		return nil, pricing.ErrInvalidPricing
	}

	var target, minimum decimal.Decimal
	switch {
	case cfg.Bounds != nil:
		target, minimum = cfg.Bounds.Target, cfg.Bounds.Minimum
	case cfg.Pricing.RequiresEstimation():
		return nil, ErrRequiresDynamicBounds
	default:
		target, minimum = *cfg.Pricing.Target, *cfg.Pricing.Minimum
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Engine{
		target:       target,
		minimum:      minimum,
		maxRounds:    cfg.Pricing.MaxRounds,
		currency:     cfg.Pricing.Currency,
		strategy:     cfg.Pricing.Strategy,
		instructions: cfg.Pricing.Instructions,
		advisor:      cfg.Advisor,
		task:         cfg.Task,
		log:          log,
		now:          now,
		deadline:     now().Add(DefaultDeadline),
		state:        StateInProgress,
	}, nil
}

// State returns the current negotiation state.
func (e *Engine) State() State { return e.state }

// Round returns the number of buyer offers processed so far.
func (e *Engine) Round() int { return e.round }

// MaxRounds returns the round budget.
func (e *Engine) MaxRounds() int { return e.maxRounds }

// Currency returns the settlement currency.
func (e *Engine) Currency() string { return e.currency }

// LastCounter returns the most recent seller counter, if any.
func (e *Engine) LastCounter() *decimal.Decimal { return e.lastCounter }

// BestBuyerOffer returns the highest buyer offer seen, if any.
func (e *Engine) BestBuyerOffer() *decimal.Decimal { return e.bestBuyerOffer }

// Transcript exposes the hash-chained event log.
func (e *Engine) Transcript() *Transcript { return &e.transcript }

// ReceiveOffer processes one buyer offer and advances the state machine.
// It is the engine's only mutator besides AcceptTerms.
func (e *Engine) ReceiveOffer(ctx context.Context, price decimal.Decimal) (State, *Offer) {
	if e.state.Terminal() {
		return e.state, nil
	}

	if e.now().After(e.deadline) {
		e.logEntry(PartySystem, ActionExpired, nil)
		e.state = StateExpired
		return e.state, nil
	}

	e.round++
	e.logEntry(PartyBuyer, ActionOffer, &price)
	if e.bestBuyerOffer == nil || price.GreaterThan(*e.bestBuyerOffer) {
		p := price
		e.bestBuyerOffer = &p
	}

	if e.round > e.maxRounds {
		e.logEntry(PartySystem, ActionReject, nil)
		e.state = StateRejected
		return e.state, nil
	}

	decision := e.decide(ctx, price)

	// Floor protection: inside the round budget the seller never walks away
	// from an offer at or above its minimum.
	if decision.Action == DecideReject && price.GreaterThanOrEqual(e.minimum) {
		decision = Decision{
			Action: DecideCounter,
			Price:  e.minimum,
			Reason: "Let's find a middle ground.",
		}
	}

	switch decision.Action {
	case DecideAccept:
		e.logEntry(PartySeller, ActionAccept, &price)
		e.state = StateAccepted
		return e.state, nil

	case DecideReject:
		e.logEntry(PartySeller, ActionReject, nil)
		e.state = StateRejected
		return e.state, nil
	}

	counter := e.clampCounter(decision.Price.RoundBank(2))
	e.lastCounter = &counter
	e.logEntry(PartySeller, ActionCounter, &counter)

	return e.state, &Offer{Price: counter, Round: e.round, Reason: decision.Reason}
}

// AcceptTerms records the buyer accepting the seller's standing counter and
// moves the engine to ACCEPTED.
func (e *Engine) AcceptTerms(price decimal.Decimal) State {
	if e.state.Terminal() {
		return e.state
	}
	e.logEntry(PartyBuyer, ActionAccept, &price)
	e.state = StateAccepted
	return e.state
}

func (e *Engine) decide(ctx context.Context, price decimal.Decimal) Decision {
	if e.strategy == pricing.StrategyLLM && e.advisor != nil {
		d, err := e.advisor.Decide(ctx, e.situation(price))
		if err == nil {
			return d
		}
		e.log.Warn("llm decision failed, falling back to curve", zap.Error(err))
	}
	return e.curveDecide(ctx, price)
}

func (e *Engine) curveDecide(ctx context.Context, price decimal.Decimal) Decision {
	if price.GreaterThanOrEqual(e.target) {
		return Decision{Action: DecideAccept}
	}

	counter := Concession(e.target, e.minimum, e.round, e.maxRounds, e.strategy.Risk())
	if price.GreaterThanOrEqual(counter) {
		return Decision{Action: DecideAccept}
	}

	// Price comes from the curve; the advisor only supplies dialogue.
	reason := ""
	if e.advisor != nil {
		if r, err := e.advisor.CounterReason(ctx, e.situation(price), counter); err == nil {
			reason = r
		}
	}

	return Decision{Action: DecideCounter, Price: counter, Reason: reason}
}

// clampCounter enforces the seller's counter invariants: the sequence is
// non-increasing, and every counter lies in [minimum, target]. The curve
// preserves both naturally; the LLM path is forcibly clamped here.
func (e *Engine) clampCounter(q decimal.Decimal) decimal.Decimal {
	if e.lastCounter != nil && q.GreaterThan(*e.lastCounter) {
		q = decimal.Max(e.lastCounter.Mul(counterBackoff).RoundBank(2), e.minimum)
	}
	if q.LessThan(e.minimum) {
		q = e.minimum
	}
	if q.GreaterThan(e.target) {
		q = e.target
	}
	return q
}

func (e *Engine) situation(price decimal.Decimal) Situation {
	return Situation{
		Offer:        price,
		Target:       e.target,
		Minimum:      e.minimum,
		LastCounter:  e.lastCounter,
		Round:        e.round,
		MaxRounds:    e.maxRounds,
		Instructions: e.instructions,
		Task:         e.task,
		History:      e.transcript.Entries(),
	}
}

func (e *Engine) logEntry(party Party, action Action, price *decimal.Decimal) {
	e.transcript.Append(party, action, price, e.now())
}

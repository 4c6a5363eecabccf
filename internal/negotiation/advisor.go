package negotiation

import (
	"context"

	"github.com/shopspring/decimal"
)

// DecisionAction is the advisor's verdict on a buyer offer.
type DecisionAction string

const (
	DecideAccept  DecisionAction = "accept"
	DecideCounter DecisionAction = "counter"
	DecideReject  DecisionAction = "reject"
)

// Decision is the outcome of a pricing decision, either from the concession
// curve or from an LLM advisor. Price is meaningful only for counters.
type Decision struct {
	Action DecisionAction
	Price  decimal.Decimal
	Reason string
}

// TaskContext carries what is known about the job being priced, surfaced to
// the LLM advisor so its dialogue can reference the actual task.
type TaskContext struct {
	Description string
	Reasoning   string
}

// Situation is the full negotiation position handed to an advisor.
type Situation struct {
	Offer        decimal.Decimal
	Target       decimal.Decimal
	Minimum      decimal.Decimal
	LastCounter  *decimal.Decimal
	Round        int
	MaxRounds    int
	Instructions []string
	Task         *TaskContext
	History      []Entry
}

// Advisor lets an LLM drive or annotate seller decisions. Implementations
// are treated as unreliable oracles: any error or out-of-bounds output falls
// back to the algorithmic curve and hard clamps in the engine.
type Advisor interface {
	// Decide produces a full decision for the llm strategy.
	Decide(ctx context.Context, s Situation) (Decision, error)

	// CounterReason produces dialogue for a curve-decided counter.
	CounterReason(ctx context.Context, s Situation, counter decimal.Decimal) (string, error)
}

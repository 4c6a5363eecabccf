package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/negotiation"
)

// dialogueTemperature gives negotiation replies some variation.
const dialogueTemperature = 0.9

// SellerAdvisor drives seller decisions through the model. The engine clamps
// everything it returns, so the prompt constraints are advisory.
type SellerAdvisor struct {
	client Completer
	log    *zap.Logger
}

// NewSellerAdvisor wires a completer into the negotiation engine.
func NewSellerAdvisor(client Completer, log *zap.Logger) *SellerAdvisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &SellerAdvisor{client: client, log: log.Named("advisor")}
}

var _ negotiation.Advisor = (*SellerAdvisor)(nil)

// Decide asks the model for a full accept/counter/reject decision.
func (a *SellerAdvisor) Decide(ctx context.Context, s negotiation.Situation) (negotiation.Decision, error) {
	text, err := a.client.Complete(ctx, Request{
		System:      sellerSystemPrompt(s),
		User:        fmt.Sprintf("Buyer offers $%s. What's your counter?", s.Offer.StringFixed(2)),
		Temperature: dialogueTemperature,
	})
	if err != nil {
		return negotiation.Decision{}, err
	}

	wire, err := ParseDecision(text)
	if err != nil {
		return negotiation.Decision{}, err
	}

	switch wire.Action {
	case "accept":
		return negotiation.Decision{Action: negotiation.DecideAccept, Reason: wire.Reason}, nil
	case "reject":
		return negotiation.Decision{Action: negotiation.DecideReject, Reason: wire.Reason}, nil
	case "counter":
		if wire.Price == nil {
			return negotiation.Decision{}, fmt.Errorf("counter decision missing price")
		}
		return negotiation.Decision{
			Action: negotiation.DecideCounter,
			Price:  *wire.Price,
			Reason: wire.Reason,
		}, nil
	default:
		return negotiation.Decision{}, fmt.Errorf("unknown decision action %q", wire.Action)
	}
}

// CounterReason asks the model for one or two sentences of dialogue for a
// counter whose price the curve already fixed. Errors leave the counter
// without a reason.
func (a *SellerAdvisor) CounterReason(ctx context.Context, s negotiation.Situation, counter decimal.Decimal) (string, error) {
	prompt := fmt.Sprintf(`Generate a 1-2 sentence negotiation response.
You are countering $%s with $%s.
Round %d of %d.
%s
Be brief and natural.`,
		s.Offer.StringFixed(2), counter.StringFixed(2), s.Round, s.MaxRounds,
		formatInstructions(s.Instructions))

	text, err := a.client.Complete(ctx, Request{
		System:      prompt,
		User:        "Your response:",
		Temperature: dialogueTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func sellerSystemPrompt(s negotiation.Situation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are negotiating price for an AI agent service.\n\n")
	fmt.Fprintf(&b, "Target: $%s (your ideal price)\n", s.Target.StringFixed(2))
	fmt.Fprintf(&b, "Minimum: $%s (absolute floor - only go this low in final rounds!)\n", s.Minimum.StringFixed(2))
	fmt.Fprintf(&b, "Round: %d of %d\n", s.Round, s.MaxRounds)
	if s.LastCounter != nil {
		fmt.Fprintf(&b, "Your last counter: $%s - never counter above it.\n", s.LastCounter.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "This is your first counter - never go above your target.\n")
	}

	if s.Task != nil {
		b.WriteString("\n")
		if s.Task.Description != "" {
			fmt.Fprintf(&b, "Task: %s\n", s.Task.Description)
		}
		if s.Task.Reasoning != "" {
			fmt.Fprintf(&b, "Pricing analysis: %s\n", s.Task.Reasoning)
		}
	}

	if inst := formatInstructions(s.Instructions); inst != "" {
		b.WriteString("\n" + inst + "\n")
	}

	b.WriteString(`
NEGOTIATION STRATEGY:
- Round 1: counter at your target.
- Round 2: concede about 25% of the gap toward the buyer.
- Round 3: about 40% of the gap.
- Round 4: about 55% of the gap.
- Round 5: about 75% of the gap - close the deal if reasonable.

DON'T jump to minimum immediately! Real negotiators concede gradually.

History:
`)
	b.WriteString(formatHistory(s.History))
	b.WriteString(`

Respond with JSON only (no markdown):
{"action": "accept"}
{"action": "counter", "price": 0.20, "reason": "1-2 sentences max"}`)

	return b.String()
}

func formatInstructions(instructions []string) string {
	if len(instructions) == 0 {
		return ""
	}
	lines := make([]string, len(instructions))
	for i, inst := range instructions {
		lines[i] = "- " + inst
	}
	return "Instructions:\n" + strings.Join(lines, "\n")
}

// formatHistory renders the last six transcript entries for the prompt.
func formatHistory(history []negotiation.Entry) string {
	if len(history) == 0 {
		return "No prior exchanges."
	}
	if len(history) > 6 {
		history = history[len(history)-6:]
	}
	lines := make([]string, 0, len(history))
	for _, e := range history {
		if e.Price != nil {
			lines = append(lines, fmt.Sprintf("%s: %s $%s", e.Party, e.Action, e.Price.StringFixed(2)))
		} else {
			lines = append(lines, fmt.Sprintf("%s: %s", e.Party, e.Action))
		}
	}
	return strings.Join(lines, "\n")
}

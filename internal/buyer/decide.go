package buyer

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/apexprotocol/apexd/internal/llm"
	"github.com/apexprotocol/apexd/internal/pricing"
)

type decideAction int

const (
	decideAccept decideAction = iota
	decideCounter
	decideReject
)

type decision struct {
	action decideAction
	price  decimal.Decimal
	reason string
}

// acceptMargin is the 10% slack used by the firm and balanced accept rules.
var acceptMargin = decimal.NewFromFloat(1.10)

// decide chooses the buyer's next move against the seller's counter.
func (b *Buyer) decide(ctx context.Context, myOffer, sellerOffer decimal.Decimal, round, maxRounds int) decision {
	if b.Strategy == pricing.StrategyLLM && b.Completer != nil {
		if d, err := b.llmDecide(ctx, myOffer, sellerOffer, round, maxRounds); err == nil {
			return d
		}
	}
	return b.curveDecide(myOffer, sellerOffer, round, maxRounds)
}

func (b *Buyer) curveDecide(myOffer, sellerOffer decimal.Decimal, round, maxRounds int) decision {
	// A seller at or below our own offer is a deal.
	if sellerOffer.LessThanOrEqual(myOffer) {
		return decision{action: decideAccept}
	}

	withinBudget := sellerOffer.LessThanOrEqual(b.Budget)
	if withinBudget && b.acceptRule(myOffer, sellerOffer) {
		return decision{action: decideAccept}
	}

	if round >= maxRounds && !withinBudget {
		return decision{action: decideReject, reason: "over budget at final round"}
	}

	next := b.curveCounter(myOffer, sellerOffer, round, maxRounds)
	if next.GreaterThanOrEqual(sellerOffer) && withinBudget {
		return decision{action: decideAccept}
	}
	return decision{action: decideCounter, price: next}
}

// acceptRule applies the strategy's accept test to an in-budget counter.
func (b *Buyer) acceptRule(myOffer, sellerOffer decimal.Decimal) bool {
	switch b.Strategy {
	case pricing.StrategyFirm:
		return sellerOffer.LessThanOrEqual(myOffer.Mul(acceptMargin))
	case pricing.StrategyFlexible:
		return true
	default: // balanced, llm fallback
		midpoint := myOffer.Add(sellerOffer).Div(decimal.NewFromInt(2))
		return sellerOffer.LessThanOrEqual(midpoint.Mul(acceptMargin))
	}
}

// curveCounter concedes an exponential fraction of the remaining gap, capped
// by the budget.
func (b *Buyer) curveCounter(myOffer, sellerOffer decimal.Decimal, round, maxRounds int) decimal.Decimal {
	risk := b.Strategy.Risk()
	progress := float64(round) / float64(maxRounds)
	fraction := 1 - math.Exp(-risk*progress*3)

	room := decimal.Min(b.Budget, sellerOffer).Sub(myOffer)
	if room.IsNegative() {
		room = decimal.Zero
	}

	next := myOffer.Add(room.Mul(decimal.NewFromFloat(fraction))).RoundBank(2)
	if next.GreaterThan(b.Budget) {
		next = b.Budget
	}
	if next.LessThan(myOffer) {
		next = myOffer
	}
	return next
}

// llmDecide delegates the move to the model, then clamps its price to
// [myOffer, budget]; an accept above budget is coerced to a counter at
// budget.
func (b *Buyer) llmDecide(ctx context.Context, myOffer, sellerOffer decimal.Decimal, round, maxRounds int) (decision, error) {
	text, err := b.Completer.Complete(ctx, llm.Request{
		System:      b.buyerPrompt(myOffer, sellerOffer, round, maxRounds),
		User:        fmt.Sprintf("The seller countered at $%s. What is your move?", sellerOffer.StringFixed(2)),
		Temperature: 0.9,
		ForceJSON:   true,
	})
	if err != nil {
		return decision{}, err
	}
	wire, err := llm.ParseDecision(text)
	if err != nil {
		return decision{}, err
	}

	switch wire.Action {
	case "accept":
		if sellerOffer.GreaterThan(b.Budget) {
			return decision{action: decideCounter, price: b.Budget, reason: wire.Reason}, nil
		}
		return decision{action: decideAccept, reason: wire.Reason}, nil
	case "reject":
		return decision{action: decideReject, reason: wire.Reason}, nil
	case "counter":
		if wire.Price == nil {
			return decision{}, fmt.Errorf("counter without price")
		}
		price := wire.Price.RoundBank(2)
		if price.LessThan(myOffer) {
			price = myOffer
		}
		if price.GreaterThan(b.Budget) {
			price = b.Budget
		}
		return decision{action: decideCounter, price: price, reason: wire.Reason}, nil
	default:
		return decision{}, fmt.Errorf("unknown action %q", wire.Action)
	}
}

func (b *Buyer) buyerPrompt(myOffer, sellerOffer decimal.Decimal, round, maxRounds int) string {
	var s strings.Builder

	s.WriteString("You are negotiating to BUY a service. Stay within your budget.\n\n")
	fmt.Fprintf(&s, "Budget (hard ceiling): $%s\n", b.Budget.StringFixed(2))
	fmt.Fprintf(&s, "Your current offer: $%s\n", myOffer.StringFixed(2))
	fmt.Fprintf(&s, "Seller's counter: $%s\n", sellerOffer.StringFixed(2))
	fmt.Fprintf(&s, "Round %d of %d\n\n", round, maxRounds)

	if len(b.Instructions) > 0 {
		s.WriteString("Your instructions:\n")
		for _, inst := range b.Instructions {
			s.WriteString("- " + inst + "\n")
		}
		s.WriteString("\n")
	}

	s.WriteString(`Concession guidance: move roughly 25% of the remaining gap in early
rounds, up to 75% near the final round. Any counter must be between your
current offer and your budget.

Respond with ONLY this JSON:
{"action": "accept" | "counter" | "reject", "price": 12.50, "reason": "one short sentence"}`)

	return s.String()
}

// Opening offer fractions.
var (
	pctHalf       = decimal.NewFromFloat(0.50)
	pctEstBal     = decimal.NewFromFloat(0.55)
	pctBudgetBal  = decimal.NewFromFloat(0.60)
	pctEstFlex    = decimal.NewFromFloat(0.70)
	pctBudgetFlex = decimal.NewFromFloat(0.75)
	pctFloorGuard = decimal.NewFromFloat(0.90)
)

// initialFromEstimate opens relative to the seller's estimated amount,
// bounded below by 90% of the floor and above by the budget.
func (b *Buyer) initialFromEstimate(amount, floor decimal.Decimal) decimal.Decimal {
	var pct decimal.Decimal
	switch b.Strategy {
	case pricing.StrategyFirm:
		pct = pctHalf
	case pricing.StrategyFlexible:
		pct = pctEstFlex
	default:
		pct = pctEstBal
	}

	offer := amount.Mul(pct)
	if guard := floor.Mul(pctFloorGuard); offer.LessThan(guard) {
		offer = guard
	}
	if offer.GreaterThan(b.Budget) {
		offer = b.Budget
	}
	return offer.RoundBank(2)
}

// initialFromBudget opens as a fraction of the budget.
func (b *Buyer) initialFromBudget() decimal.Decimal {
	if b.InitialOfferPct > 0 {
		return b.Budget.Mul(decimal.NewFromFloat(b.InitialOfferPct)).RoundBank(2)
	}
	var pct decimal.Decimal
	switch b.Strategy {
	case pricing.StrategyFirm:
		pct = pctHalf
	case pricing.StrategyFlexible:
		pct = pctBudgetFlex
	default:
		pct = pctBudgetBal
	}
	return b.Budget.Mul(pct).RoundBank(2)
}

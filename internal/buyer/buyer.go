// Package buyer implements the auto-negotiating client: it discovers a
// seller, obtains an estimate when the pricing needs one, then trades
// offers until settlement or a terminal outcome, optionally paying on
// success.
package buyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/llm"
	"github.com/apexprotocol/apexd/internal/payments"
	"github.com/apexprotocol/apexd/internal/pricing"
	"github.com/apexprotocol/apexd/internal/rpc"
)

// Terminal buyer outcomes that are protocol results, not faults.
var (
	// ErrBudgetBelowFloor means the seller's floor (or fixed price) exceeds
	// the buyer's budget; no negotiation can close the gap.
	ErrBudgetBelowFloor = errors.New("seller floor exceeds budget")

	// ErrRejected means the buyer walked away from the seller's terms.
	ErrRejected = errors.New("buyer rejected the seller's terms")

	// ErrMaxRounds means the round budget ran out without agreement.
	ErrMaxRounds = errors.New("negotiation exhausted max rounds")
)

// DefaultMaxRounds bounds a negotiation when the caller does not say.
const DefaultMaxRounds = 5

// HistoryEntry is one step of the buyer-side negotiation record.
type HistoryEntry struct {
	Round  int             `json:"round"`
	Party  string          `json:"party"`
	Action string          `json:"action"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
}

// Result is the outcome of one Call.
type Result struct {
	Success       bool
	JobID         string
	FinalPrice    decimal.Decimal
	Currency      string
	Rounds        int
	Output        map[string]interface{}
	History       []HistoryEntry
	SellerAddress string
	EstimateID    string
	Payment       *payments.PaymentResult
}

// Buyer negotiates purchases within a budget.
type Buyer struct {
	Budget   decimal.Decimal
	Strategy pricing.Strategy

	// Completer enables LLM-driven decisions for the llm strategy.
	Completer    llm.Completer
	Instructions []string

	// InitialOfferPct overrides the strategy's budget-based opening
	// fraction when positive.
	InitialOfferPct float64

	Wallet  *payments.Wallet
	AutoPay bool

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Wire shapes for the seller's responses.

type wireMoney struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type discoverReply struct {
	Agent struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
	Capabilities []struct {
		ID      string                 `json:"id"`
		Pricing map[string]interface{} `json:"pricing"`
	} `json:"capabilities"`
	Payment struct {
		Address  string   `json:"address"`
		Networks []string `json:"networks"`
	} `json:"payment"`
}

type estimateReply struct {
	EstimateID string `json:"estimate_id"`
	Estimate   struct {
		Amount   decimal.Decimal `json:"amount"`
		Minimum  decimal.Decimal `json:"minimum"`
		Currency string          `json:"currency"`
	} `json:"estimate"`
	Negotiation struct {
		Target decimal.Decimal `json:"target"`
		Floor  decimal.Decimal `json:"floor"`
	} `json:"negotiation"`
	Reasoning string `json:"reasoning"`
}

type negotiationReply struct {
	Status    string                 `json:"status"`
	JobID     string                 `json:"job_id"`
	Terms     *wireMoney             `json:"terms"`
	Offer     *wireMoney             `json:"offer"`
	Round     int                    `json:"round"`
	MaxRounds int                    `json:"max_rounds"`
	Reason    string                 `json:"reason"`
	Output    map[string]interface{} `json:"output"`
}

// Call negotiates the capability at url and returns the settled result.
// Terminal negotiation outcomes surface as the package's sentinel errors.
func (b *Buyer) Call(ctx context.Context, url, capability string, input map[string]interface{}, maxRounds int) (*Result, error) {
	log := b.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("buyer")
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	c := newClient(url, b.HTTPClient)
	result := &Result{JobID: "job-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]}

	disc, err := b.discover(ctx, c)
	if err != nil {
		return result, err
	}
	result.SellerAddress = disc.Payment.Address

	if capability == "" && len(disc.Capabilities) > 0 {
		capability = disc.Capabilities[0].ID
	}
	capPricing := b.capabilityPricing(disc, capability)
	if capPricing == nil {
		return result, fmt.Errorf("seller does not advertise capability %q", capability)
	}

	// A fixed price is an offer we either meet or decline.
	if model, _ := capPricing["model"].(string); model == "fixed" {
		return b.callFixed(ctx, c, log, result, capability, input, capPricing)
	}

	myOffer, err := b.openingOffer(ctx, c, log, result, capability, input, capPricing)
	if err != nil {
		return result, err
	}

	for round := 1; round <= maxRounds; round++ {
		method := rpc.MethodCounter
		params := map[string]interface{}{
			"job_id": result.JobID,
			"offer":  b.offerBody(myOffer),
			"input":  input,
		}
		if round == 1 {
			method = rpc.MethodPropose
			params["capability"] = capability
			if b.Wallet != nil {
				params["buyer_address"] = b.Wallet.Address()
			}
			if result.EstimateID != "" {
				params["estimate_id"] = result.EstimateID
			}
		} else {
			params["round"] = round
		}

		result.History = append(result.History, HistoryEntry{
			Round: round, Party: "buyer", Action: "offer", Amount: myOffer,
		})
		log.Info("offering", zap.Int("round", round), zap.String("amount", myOffer.StringFixed(2)))

		raw, err := c.call(ctx, method, params)
		if err != nil {
			return result, err
		}
		var reply negotiationReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			return result, fmt.Errorf("decode %s reply: %w", method, err)
		}

		result.Rounds = round

		if reply.Status == "completed" {
			return b.completed(ctx, log, result, &reply, myOffer)
		}
		if reply.Status != "counter" || reply.Offer == nil {
			return result, fmt.Errorf("unexpected reply status %q", reply.Status)
		}

		sellerOffer := reply.Offer.Amount
		result.Currency = reply.Offer.Currency
		result.History = append(result.History, HistoryEntry{
			Round: round, Party: "seller", Action: "counter",
			Amount: sellerOffer, Reason: reply.Reason,
		})
		log.Info("seller countered",
			zap.Int("round", round),
			zap.String("amount", sellerOffer.StringFixed(2)),
			zap.String("reason", reply.Reason))

		d := b.decide(ctx, myOffer, sellerOffer, round, maxRounds)
		switch d.action {
		case decideAccept:
			return b.acceptTerms(ctx, c, log, result, sellerOffer, reply.Offer.Currency, input)
		case decideReject:
			result.History = append(result.History, HistoryEntry{
				Round: round, Party: "buyer", Action: "reject", Amount: sellerOffer,
			})
			return result, ErrRejected
		default:
			myOffer = d.price
		}
	}

	return result, ErrMaxRounds
}

// callFixed settles against fixed pricing in a single propose.
func (b *Buyer) callFixed(ctx context.Context, c *client, log *zap.Logger, result *Result, capability string, input map[string]interface{}, capPricing map[string]interface{}) (*Result, error) {
	amount, err := decimal.NewFromString(fmt.Sprintf("%v", capPricing["amount"]))
	if err != nil {
		return result, fmt.Errorf("malformed fixed amount: %w", err)
	}
	if amount.GreaterThan(b.Budget) {
		return result, fmt.Errorf("%w: fixed price %s", ErrBudgetBelowFloor, amount.StringFixed(2))
	}

	params := map[string]interface{}{
		"capability": capability,
		"job_id":     result.JobID,
		"offer":      b.offerBody(amount),
		"input":      input,
	}
	if b.Wallet != nil {
		params["buyer_address"] = b.Wallet.Address()
	}

	raw, err := c.call(ctx, rpc.MethodPropose, params)
	if err != nil {
		return result, err
	}
	var reply negotiationReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return result, fmt.Errorf("decode propose reply: %w", err)
	}
	result.Rounds = 1
	return b.completed(ctx, log, result, &reply, amount)
}

// openingOffer runs the estimate step when required and derives the buyer's
// first price.
func (b *Buyer) openingOffer(ctx context.Context, c *client, log *zap.Logger, result *Result, capability string, input map[string]interface{}, capPricing map[string]interface{}) (decimal.Decimal, error) {
	requiresEstimation, _ := capPricing["requires_estimation"].(bool)
	if !requiresEstimation {
		return b.initialFromBudget(), nil
	}

	raw, err := c.call(ctx, rpc.MethodEstimate, map[string]interface{}{
		"capability": capability,
		"input":      input,
	})
	if err != nil {
		return decimal.Zero, err
	}
	var est estimateReply
	if err := json.Unmarshal(raw, &est); err != nil {
		return decimal.Zero, fmt.Errorf("decode estimate: %w", err)
	}

	if est.Negotiation.Floor.GreaterThan(b.Budget) {
		return decimal.Zero, fmt.Errorf("%w: floor %s, budget %s",
			ErrBudgetBelowFloor, est.Negotiation.Floor.StringFixed(2), b.Budget.StringFixed(2))
	}

	result.EstimateID = est.EstimateID
	log.Info("estimated",
		zap.String("estimate_id", est.EstimateID),
		zap.String("amount", est.Estimate.Amount.StringFixed(2)),
		zap.String("reasoning", est.Reasoning))

	return b.initialFromEstimate(est.Estimate.Amount, est.Estimate.Minimum), nil
}

func (b *Buyer) discover(ctx context.Context, c *client) (*discoverReply, error) {
	raw, err := c.call(ctx, rpc.MethodDiscover, nil)
	if err != nil {
		return nil, err
	}
	var disc discoverReply
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, fmt.Errorf("decode discover: %w", err)
	}
	return &disc, nil
}

func (b *Buyer) capabilityPricing(disc *discoverReply, capability string) map[string]interface{} {
	for _, c := range disc.Capabilities {
		if c.ID == capability {
			return c.Pricing
		}
	}
	return nil
}

// acceptTerms closes the negotiation on the seller's standing counter.
func (b *Buyer) acceptTerms(ctx context.Context, c *client, log *zap.Logger, result *Result, price decimal.Decimal, currency string, input map[string]interface{}) (*Result, error) {
	result.History = append(result.History, HistoryEntry{
		Round: result.Rounds, Party: "buyer", Action: "accept", Amount: price,
	})
	log.Info("accepting", zap.String("amount", price.StringFixed(2)))

	raw, err := c.call(ctx, rpc.MethodAccept, map[string]interface{}{
		"job_id": result.JobID,
		"terms": map[string]interface{}{
			"amount":   json.Number(price.StringFixed(2)),
			"currency": currency,
		},
		"input": input,
	})
	if err != nil {
		return result, err
	}
	var reply negotiationReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return result, fmt.Errorf("decode accept reply: %w", err)
	}
	return b.completed(ctx, log, result, &reply, price)
}

// completed finalizes the result and pays when configured to.
func (b *Buyer) completed(ctx context.Context, log *zap.Logger, result *Result, reply *negotiationReply, fallbackPrice decimal.Decimal) (*Result, error) {
	if reply.Status != "completed" {
		return result, fmt.Errorf("unexpected reply status %q", reply.Status)
	}

	result.Success = true
	result.Output = reply.Output
	result.FinalPrice = fallbackPrice
	if reply.Terms != nil {
		result.FinalPrice = reply.Terms.Amount
		result.Currency = reply.Terms.Currency
	}
	log.Info("settled", zap.String("amount", result.FinalPrice.StringFixed(2)), zap.Int("rounds", result.Rounds))

	if b.AutoPay && b.Wallet != nil && result.SellerAddress != "" {
		payment := &payments.Payment{
			JobID:         result.JobID,
			Amount:        result.FinalPrice,
			Currency:      result.Currency,
			Network:       b.Wallet.NetworkName(),
			BuyerWallet:   b.Wallet,
			SellerAddress: result.SellerAddress,
		}
		result.Payment = payment.Execute(ctx)
		if !result.Payment.Success {
			log.Warn("payment failed", zap.String("error", result.Payment.Error))
		}
	}

	return result, nil
}

func (b *Buyer) offerBody(amount decimal.Decimal) map[string]interface{} {
	body := map[string]interface{}{
		"amount":   json.Number(amount.StringFixed(2)),
		"currency": "USDC",
	}
	if b.Wallet != nil {
		body["network"] = b.Wallet.NetworkName()
	}
	return body
}

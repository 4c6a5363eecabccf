package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexprotocol/apexd/internal/buyer"
	"github.com/apexprotocol/apexd/internal/llm"
	"github.com/apexprotocol/apexd/internal/payments"
	"github.com/apexprotocol/apexd/internal/pricing"
)

var (
	buyBudget     float64
	buyStrategy   string
	buyCapability string
	buyTopic      string
	buyInput      string
	buyRounds     int
	buyAutoPay    bool
)

var buyCmd = &cobra.Command{
	Use:   "buy <seller-url>",
	Short: "Negotiate a purchase from a seller agent",
	Long: `Discover the seller at the given URL, negotiate the capability within
the budget, and print the settled result. With --pay, settle in USDC from the
APEX_PRIVATE_KEY wallet after agreement.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuy,
}

func init() {
	rootCmd.AddCommand(buyCmd)

	buyCmd.Flags().Float64Var(&buyBudget, "budget", 0, "maximum spend in USDC (required)")
	buyCmd.Flags().StringVar(&buyStrategy, "strategy", "", "firm | balanced | flexible | llm")
	buyCmd.Flags().StringVar(&buyCapability, "capability", "", "capability to purchase (default: first advertised)")
	buyCmd.Flags().StringVar(&buyTopic, "topic", "", "task topic shorthand")
	buyCmd.Flags().StringVar(&buyInput, "input", "", "task input as JSON")
	buyCmd.Flags().IntVar(&buyRounds, "rounds", 0, "max negotiation rounds")
	buyCmd.Flags().BoolVar(&buyAutoPay, "pay", false, "pay on agreement")
	buyCmd.MarkFlagRequired("budget")
}

func runBuy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	strategy := cfg.Buyer.Strategy
	if buyStrategy != "" {
		strategy = buyStrategy
	}
	if !pricing.Strategy(strategy).Valid() {
		return fmt.Errorf("unknown strategy %q", strategy)
	}

	budget := decimal.NewFromFloat(buyBudget)
	if budget.IsZero() && cfg.Buyer.Budget > 0 {
		budget = decimal.NewFromFloat(cfg.Buyer.Budget)
	}
	if !budget.IsPositive() {
		return fmt.Errorf("budget must be positive")
	}

	input := map[string]interface{}{}
	if buyInput != "" {
		if err := json.Unmarshal([]byte(buyInput), &input); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}
	}
	if buyTopic != "" {
		input["topic"] = buyTopic
	}

	b := &buyer.Buyer{
		Budget:          budget,
		Strategy:        pricing.Strategy(strategy),
		Instructions:    cfg.Buyer.Instructions,
		InitialOfferPct: cfg.Buyer.InitialOfferPct,
		AutoPay:         buyAutoPay || cfg.Buyer.AutoPay,
		Logger:          log,
	}
	if cfg.LLM.Model != "" {
		b.Completer = llm.NewClient(llm.Config{
			Model:     cfg.LLM.Model,
			BaseURL:   cfg.LLM.BaseURL,
			APIKeyEnv: cfg.LLM.APIKeyEnv,
			Logger:    log,
		})
	}
	if b.AutoPay {
		w, err := payments.FromEnv(cfg.Payment.Network, log)
		if err != nil {
			return fmt.Errorf("wallet required for --pay: %w", err)
		}
		b.Wallet = w
	}

	rounds := buyRounds
	if rounds <= 0 {
		rounds = cfg.Buyer.MaxRounds
	}

	capability := buyCapability
	result, err := b.Call(cmd.Context(), args[0], capability, input, rounds)
	if err != nil {
		return err
	}

	log.Info("purchase complete",
		zap.String("job_id", result.JobID),
		zap.String("price", result.FinalPrice.StringFixed(2)),
		zap.Int("rounds", result.Rounds))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"job_id":  result.JobID,
		"price":   result.FinalPrice,
		"rounds":  result.Rounds,
		"output":  result.Output,
		"history": result.History,
		"payment": result.Payment,
	})
}

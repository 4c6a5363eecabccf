package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexprotocol/apexd/internal/agent"
	"github.com/apexprotocol/apexd/internal/estimate"
	"github.com/apexprotocol/apexd/internal/llm"
	"github.com/apexprotocol/apexd/internal/negotiation"
	"github.com/apexprotocol/apexd/internal/payments"
	"github.com/apexprotocol/apexd/internal/pricing"
	"github.com/apexprotocol/apexd/internal/rpc"
)

var listenFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the seller agent server",
	Long: `Start the JSON-RPC server that advertises the configured capability,
negotiates with buyers, and runs the task handler on agreement.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = runServe

	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	p, err := cfg.Pricing.ToPricing()
	if err != nil {
		return err
	}
	// Operator instructions steer the estimator and the negotiation prompts.
	if neg, ok := p.(*pricing.Negotiated); ok {
		neg.Instructions = cfg.Agent.Instructions
	}

	var completer llm.Completer
	if cfg.LLM.Model != "" {
		completer = llm.NewClient(llm.Config{
			Model:     cfg.LLM.Model,
			BaseURL:   cfg.LLM.BaseURL,
			APIKeyEnv: cfg.LLM.APIKeyEnv,
			Logger:    log,
		})
	}

	address := cfg.Agent.Address
	if address == "" {
		// A configured wallet key doubles as the payment address.
		if w, werr := payments.FromEnv(cfg.Payment.Network, log); werr == nil {
			address = w.Address()
		}
	}

	a := agent.New(agent.Config{
		Name:           cfg.Agent.Name,
		Description:    cfg.Agent.Description,
		Capabilities:   cfg.Agent.Capabilities,
		Instructions:   cfg.Agent.Instructions,
		Pricing:        p,
		Address:        address,
		Networks:       []string{cfg.Payment.Network},
		Handler:        defaultHandler(completer, cfg.Agent.Description),
		HandlerTimeout: time.Duration(cfg.Agent.HandlerTimeoutSeconds) * time.Second,
	})

	var advisor negotiation.Advisor
	if completer != nil {
		advisor = llm.NewSellerAdvisor(completer, log)
	}

	dispatcher := rpc.NewDispatcher(rpc.DispatcherConfig{
		Agent:     a,
		Estimator: estimate.New(estimate.Config{Client: completer, Currency: p.PaymentCurrency(), Logger: log}),
		Advisor:   advisor,
		Logger:    log,
	})

	listen := cfg.Server.Listen
	if listenFlag != "" {
		listen = listenFlag
	}
	server := rpc.NewServer(rpc.ServerConfig{
		Dispatcher: dispatcher,
		AgentName:  a.Name,
		Addr:       listen,
		Logger:     log,
	})

	log.Info("agent ready",
		zap.String("agent", a.Name),
		zap.String("id", a.ID),
		zap.String("address", a.Address),
		zap.String("listen", listen))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(ctx) })
	return g.Wait()
}

// defaultHandler answers the task with the configured LLM, or echoes the
// input when no model is configured.
func defaultHandler(completer llm.Completer, description string) agent.Handler {
	return agent.HandlerFunc(func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		if completer == nil {
			return map[string]interface{}{"status": "done", "input": input}, nil
		}

		system := "You are a service agent. Complete the task and answer concisely."
		if description != "" {
			system += " Your specialty: " + description
		}
		answer, err := completer.Complete(ctx, llm.Request{
			System:    system,
			User:      taskText(input),
			MaxTokens: 800,
		})
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"result": answer}, nil
	})
}

func taskText(input map[string]interface{}) string {
	for _, key := range []string{"topic", "query", "task"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return "Complete the requested task."
}

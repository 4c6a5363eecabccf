// Package agent describes the seller identity a dispatcher serves: who it
// is, what it can do, how its work is priced, and where it gets paid.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apexprotocol/apexd/internal/pricing"
)

// DefaultHandlerTimeout bounds a single task execution.
const DefaultHandlerTimeout = 60 * time.Second

// Handler executes the seller's task once terms are agreed. Supplied by the
// operator and treated as opaque; the dispatcher owns its timeout.
type Handler interface {
	Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, input)
}

// Agent is one seller instance.
type Agent struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
	Pricing      pricing.Pricing
	Instructions []string

	// Address is where the agent receives payment. A mock address is
	// generated when the operator supplies none.
	Address    string
	Networks   []string
	Currencies []string

	Handler        Handler
	HandlerTimeout time.Duration
}

// Config assembles an Agent; zero fields get derived defaults.
type Config struct {
	ID           string
	Name         string
	Description  string
	Capabilities []string
	Pricing      pricing.Pricing
	Instructions []string
	Address      string
	Networks     []string

	Handler        Handler
	HandlerTimeout time.Duration
}

// New derives identity defaults the same way for every construction path:
// the id is a slug of the name plus 8 hex characters, the default
// capability is the slugged name.
func New(cfg Config) *Agent {
	slug := Slug(cfg.Name)

	id := cfg.ID
	if id == "" {
		id = slug + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}

	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = []string{slug}
	}

	address := cfg.Address
	if address == "" {
		address = "0x" + strings.ReplaceAll(uuid.New().String(), "-", "")[:32] + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}

	networks := cfg.Networks
	if len(networks) == 0 {
		networks = []string{"base"}
	}

	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}

	currency := "USDC"
	if cfg.Pricing != nil {
		currency = cfg.Pricing.PaymentCurrency()
	}

	return &Agent{
		ID:             id,
		Name:           cfg.Name,
		Description:    cfg.Description,
		Capabilities:   caps,
		Pricing:        cfg.Pricing,
		Instructions:   cfg.Instructions,
		Address:        address,
		Networks:       networks,
		Currencies:     []string{currency},
		Handler:        cfg.Handler,
		HandlerTimeout: timeout,
	}
}

// HasCapability reports whether the agent advertises the capability.
func (a *Agent) HasCapability(id string) bool {
	for _, c := range a.Capabilities {
		if c == id {
			return true
		}
	}
	return false
}

// Slug normalizes a display name into a capability/id component.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// Package config loads the daemon configuration from apexd.toml, the
// APEX_-prefixed environment, and built-in defaults, in that priority
// order (environment highest).
package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/apexprotocol/apexd/internal/pricing"
)

// Config is the complete apexd configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Agent   AgentConfig   `toml:"agent" mapstructure:"agent"`
	Pricing PricingConfig `toml:"pricing" mapstructure:"pricing"`
	LLM     LLMConfig     `toml:"llm" mapstructure:"llm"`
	Payment PaymentConfig `toml:"payment" mapstructure:"payment"`
	Buyer   BuyerConfig   `toml:"buyer" mapstructure:"buyer"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

// AgentConfig is the advertised seller identity.
type AgentConfig struct {
	Name         string   `toml:"name" mapstructure:"name"`
	Description  string   `toml:"description" mapstructure:"description"`
	Capabilities []string `toml:"capabilities" mapstructure:"capabilities"`
	Instructions []string `toml:"instructions" mapstructure:"instructions"`
	Address      string   `toml:"address" mapstructure:"address"`

	// HandlerTimeoutSeconds bounds one task execution; 0 means the default.
	HandlerTimeoutSeconds int `toml:"handler_timeout" mapstructure:"handler_timeout"`
}

// PricingConfig mirrors the wire pricing descriptor.
type PricingConfig struct {
	Model     string  `toml:"model" mapstructure:"model"`
	Amount    float64 `toml:"amount" mapstructure:"amount"`
	Base      float64 `toml:"base" mapstructure:"base"`
	Target    float64 `toml:"target" mapstructure:"target"`
	Minimum   float64 `toml:"minimum" mapstructure:"minimum"`
	MaxRounds int     `toml:"max_rounds" mapstructure:"max_rounds"`
	Currency  string  `toml:"currency" mapstructure:"currency"`
	Strategy  string  `toml:"strategy" mapstructure:"strategy"`
}

// LLMConfig selects the model backing estimation and llm-strategy dialogue.
type LLMConfig struct {
	Model     string `toml:"model" mapstructure:"model"`
	BaseURL   string `toml:"base_url" mapstructure:"base_url"`
	APIKeyEnv string `toml:"api_key_env" mapstructure:"api_key_env"`
}

// PaymentConfig selects the settlement network.
type PaymentConfig struct {
	Network string `toml:"network" mapstructure:"network"`
}

// BuyerConfig parameterizes the buy command.
type BuyerConfig struct {
	Budget          float64  `toml:"budget" mapstructure:"budget"`
	Strategy        string   `toml:"strategy" mapstructure:"strategy"`
	MaxRounds       int      `toml:"max_rounds" mapstructure:"max_rounds"`
	InitialOfferPct float64  `toml:"initial_offer_pct" mapstructure:"initial_offer_pct"`
	AutoPay         bool     `toml:"auto_pay" mapstructure:"auto_pay"`
	Instructions    []string `toml:"instructions" mapstructure:"instructions"`
}

// LogConfig covers the zap logger.
type LogConfig struct {
	Level string `toml:"level" mapstructure:"level"`
}

// ToPricing converts the pricing block into a validated pricing model.
func (p PricingConfig) ToPricing() (pricing.Pricing, error) {
	switch p.Model {
	case "fixed":
		return pricing.NewFixed(decimal.NewFromFloat(p.Amount), p.Currency)

	case "negotiated":
		n := pricing.Negotiated{
			MaxRounds: p.MaxRounds,
			Currency:  p.Currency,
			Strategy:  pricing.Strategy(p.Strategy),
		}
		if p.Base > 0 {
			base := decimal.NewFromFloat(p.Base)
			n.Base = &base
		} else {
			target := decimal.NewFromFloat(p.Target)
			minimum := decimal.NewFromFloat(p.Minimum)
			n.Target = &target
			n.Minimum = &minimum
		}
		return pricing.NewNegotiated(n)

	default:
		return nil, fmt.Errorf("%w: unknown pricing model %q", pricing.ErrInvalidPricing, p.Model)
	}
}

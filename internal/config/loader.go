package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFile is looked up relative to the working directory when no
// path is given.
const DefaultConfigFile = "apexd.toml"

// Load reads configuration in priority order: defaults, the toml file (when
// present), then APEX_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if path != DefaultConfigFile {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	v.SetEnvPrefix("APEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "0.0.0.0:8420")

	v.SetDefault("agent.name", "APEX Agent")
	v.SetDefault("agent.description", "")

	v.SetDefault("pricing.model", "negotiated")
	v.SetDefault("pricing.target", 25.0)
	v.SetDefault("pricing.minimum", 15.0)
	v.SetDefault("pricing.max_rounds", 5)
	v.SetDefault("pricing.currency", "USDC")
	v.SetDefault("pricing.strategy", "balanced")

	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")

	v.SetDefault("payment.network", "base-sepolia")

	v.SetDefault("buyer.budget", 0.0)
	v.SetDefault("buyer.strategy", "balanced")
	v.SetDefault("buyer.max_rounds", 5)
	v.SetDefault("buyer.auto_pay", false)

	v.SetDefault("log.level", "info")
}

// Validate rejects configurations the daemon could not serve.
func Validate(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if cfg.Agent.Name == "" {
		return fmt.Errorf("agent.name must not be empty")
	}
	if _, err := cfg.Pricing.ToPricing(); err != nil {
		return err
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Log.Level)
	}
	return nil
}

// Package config loads the server configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/outcome-engine/internal/amm"
	"github.com/atmx/outcome-engine/internal/oracle"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the server.
type Config struct {
	Port        string   `yaml:"port"`
	DatabaseURL string   `yaml:"database_url"`
	RedisURL    string   `yaml:"redis_url"`
	CacheTTL    Duration `yaml:"cache_ttl"`

	// Admin may create markets and mint development balances. Defaults to
	// the AMM admin.
	Admin string `yaml:"admin"`

	AMM    amm.Config    `yaml:"amm"`
	Oracle oracle.Config `yaml:"oracle"`
}

// Default returns the configuration used when no file or environment sets
// a value.
func Default() Config {
	cfg := Config{
		Port:     "8080",
		CacheTTL: Duration{30 * time.Second},
		AMM:      amm.DefaultConfig(),
		Oracle:   oracle.DefaultConfig(),
	}
	cfg.AMM.Asset = "USDC"
	cfg.AMM.EscrowAccount = "amm-escrow"
	return cfg
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if cfg.Admin == "" {
		cfg.Admin = cfg.AMM.Admin
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the server fields and both engine records.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if c.CacheTTL.Duration < 0 {
		return errors.New("config: cache_ttl must not be negative")
	}
	if err := c.AMM.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Oracle.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	bps := func(key string, dst *uint32) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = uint32(n)
		return nil
	}

	str("PORT", &cfg.Port)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("REDIS_URL", &cfg.RedisURL)
	str("ADMIN", &cfg.Admin)
	str("AMM_ADMIN", &cfg.AMM.Admin)
	str("AMM_ASSET", &cfg.AMM.Asset)
	str("AMM_ESCROW_ACCOUNT", &cfg.AMM.EscrowAccount)
	str("ORACLE_ADMIN", &cfg.Oracle.Admin)

	if v, ok := lookup("CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = Duration{d}
	}
	if v, ok := lookup("AMM_MAX_LIQUIDITY"); ok && v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("config: AMM_MAX_LIQUIDITY: %w", err)
		}
		cfg.AMM.MaxLiquidity = d
	}
	if err := bps("AMM_TRADING_FEE_BPS", &cfg.AMM.TradingFeeBps); err != nil {
		return err
	}
	if err := bps("AMM_SLIPPAGE_BPS", &cfg.AMM.SlippageBps); err != nil {
		return err
	}
	return bps("ORACLE_REQUIRED_CONSENSUS", &cfg.Oracle.RequiredConsensus)
}

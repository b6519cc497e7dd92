package amm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PricingCPMM is the only supported pricing model.
const PricingCPMM = "CPMM"

// Defaults applied by DefaultConfig.
const (
	DefaultTradingFeeBps = 20  // 0.2%
	DefaultSlippageBps   = 200 // 2%
	MinSlippageBps       = 10
	MaxSlippageBps       = 500
	MaxTradingFeeBps     = 1_000
)

// Config is the engine configuration record. It replaces process-wide admin
// and fee state: every Engine owns its own copy.
type Config struct {
	// Admin may rebalance pools and change slippage tolerance.
	Admin string `yaml:"admin"`

	// Asset names the custodied token; must match the custodian's asset.
	Asset string `yaml:"asset"`

	// EscrowAccount is the custody account holding pool value.
	EscrowAccount string `yaml:"escrow_account"`

	// MaxLiquidity caps yes_reserve + no_reserve per pool. Zero disables the cap.
	MaxLiquidity decimal.Decimal `yaml:"max_liquidity"`

	TradingFeeBps uint32 `yaml:"trading_fee_bps"`
	SlippageBps   uint32 `yaml:"slippage_bps"`
	PricingModel  string `yaml:"pricing_model"`
}

// DefaultConfig returns a config with the documented defaults and no admin,
// asset or escrow account set.
func DefaultConfig() Config {
	return Config{
		TradingFeeBps: DefaultTradingFeeBps,
		SlippageBps:   DefaultSlippageBps,
		PricingModel:  PricingCPMM,
	}
}

// Validate rejects missing dependencies and out-of-range values.
func (c Config) Validate() error {
	switch {
	case c.Admin == "":
		return fmt.Errorf("%w: admin", ErrMissingConfig)
	case c.Asset == "":
		return fmt.Errorf("%w: asset", ErrMissingConfig)
	case c.EscrowAccount == "":
		return fmt.Errorf("%w: escrow account", ErrMissingConfig)
	}
	if c.PricingModel != PricingCPMM {
		return fmt.Errorf("%w: unsupported pricing model %q", ErrInvalidConfig, c.PricingModel)
	}
	if c.TradingFeeBps > MaxTradingFeeBps {
		return fmt.Errorf("%w: trading fee %d bps exceeds %d", ErrInvalidConfig, c.TradingFeeBps, MaxTradingFeeBps)
	}
	if c.SlippageBps < MinSlippageBps || c.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("%w: slippage %d bps outside [%d, %d]", ErrInvalidConfig, c.SlippageBps, MinSlippageBps, MaxSlippageBps)
	}
	if c.MaxLiquidity.IsNegative() || !c.MaxLiquidity.IsInteger() {
		return fmt.Errorf("%w: max liquidity must be a non-negative whole number", ErrInvalidConfig)
	}
	return nil
}

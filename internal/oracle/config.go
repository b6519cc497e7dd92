package oracle

import "fmt"

// Defaults applied by DefaultConfig.
const (
	DefaultRequiredConsensus = 1
	DefaultMaxOracles        = 10

	// InitialAccuracy is the accuracy score of a newly registered oracle.
	InitialAccuracy = 100
)

// Config is the oracle engine configuration record.
type Config struct {
	// Admin registers oracles and markets and sets the threshold.
	Admin string `yaml:"admin"`

	// RequiredConsensus is the initial threshold. A threshold persisted by
	// an earlier run takes precedence.
	RequiredConsensus uint32 `yaml:"required_consensus"`

	// MaxOracles bounds the number of concurrently active oracles.
	MaxOracles int `yaml:"max_oracles"`
}

// DefaultConfig returns a config with the documented defaults and no admin.
func DefaultConfig() Config {
	return Config{
		RequiredConsensus: DefaultRequiredConsensus,
		MaxOracles:        DefaultMaxOracles,
	}
}

func (c Config) Validate() error {
	if c.Admin == "" {
		return fmt.Errorf("%w: admin", ErrMissingConfig)
	}
	if c.RequiredConsensus < 1 {
		return fmt.Errorf("%w: required consensus must be at least 1", ErrInvalidConfig)
	}
	if c.MaxOracles < 1 {
		return fmt.Errorf("%w: max oracles must be at least 1", ErrInvalidConfig)
	}
	return nil
}

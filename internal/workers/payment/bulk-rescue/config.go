// internal/workers/payment/bulk-rescue/config.go
package bulkrescue

import (
	"fmt"
	"time"

	"entitlement-workers/internal/common/config"
)

type Config struct {
	Timeout       time.Duration
	MaxReferences int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:       10 * time.Minute,
		MaxReferences: 500,
	}
}

func NewConfig(wc config.WorkerConfig) *Config {
	cfg := DefaultConfig()
	if wc.Timeout > 0 {
		cfg.Timeout = config.GetDuration(wc.Timeout)
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxReferences <= 0 {
		return fmt.Errorf("maxReferences must be positive")
	}
	return nil
}

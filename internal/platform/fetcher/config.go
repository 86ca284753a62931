package fetcher

import "time"

// Config holds configuration for the refresh loop
type Config struct {
	// UpdateInterval is the cycle cadence, measured start to start. A
	// cycle that overruns the interval triggers the next one
	// immediately after it finishes.
	UpdateInterval time.Duration

	// RetryDelay is the pause before the single retry that database
	// reads and writes get during a cycle
	RetryDelay time.Duration
}

// DefaultConfig returns the default fetcher configuration
func DefaultConfig() *Config {
	return &Config{
		UpdateInterval: 10 * time.Minute,
		RetryDelay:     time.Second,
	}
}

// Validate normalizes out-of-range values
func (c *Config) Validate() error {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 10 * time.Minute
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return nil
}

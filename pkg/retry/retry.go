// Package retry provides bounded exponential backoff for transient failures.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config controls retry pacing.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// AddJitter randomizes each delay by up to ±25% to avoid thundering herds.
	AddJitter bool
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Delay returns the backoff delay preceding the given attempt (1-based;
// attempt 1 has no delay).
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := c.InitialDelay
	for i := 2; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.Multiplier)
		if delay >= c.MaxDelay {
			delay = c.MaxDelay
			break
		}
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	if c.AddJitter && delay > 0 {
		// ±25% jitter
		jitter := time.Duration(rand.Int63n(int64(delay) / 2)) //nolint:gosec // pacing, not crypto
		delay = delay - delay/4 + jitter
	}

	return delay
}

// Do runs op until it succeeds, the attempts are exhausted, or ctx is done.
// The last error is returned on exhaustion.
func Do(ctx context.Context, cfg Config, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if delay := cfg.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = op(); lastErr == nil {
			return nil
		}
	}

	return lastErr
}

// Package delveadapter connects a dapclient.Session to a real `dlv dap`
// process instead of a generic stdio adapter, dialing its TCP listener
// directly rather than spawning a plain stdio child.
package delveadapter

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential-backoff retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultLaunchRetry covers transient failures starting the dlv process
// itself (e.g. a momentarily busy port it picks on its own).
var DefaultLaunchRetry = RetryConfig{
	MaxAttempts:  5,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2.0,
}

// DefaultDialRetry covers the short window between dlv printing its
// listening address and the socket actually accepting connections.
var DefaultDialRetry = RetryConfig{
	MaxAttempts:  3,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     200 * time.Millisecond,
	Multiplier:   2.0,
}

// RetryWithBackoff executes operation, retrying with exponential backoff on
// error up to config.MaxAttempts times. Both the per-attempt wait and the
// retry loop itself respect ctx cancellation.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := operation(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("operation failed after %d attempts, last error: %w", config.MaxAttempts, lastErr)
}

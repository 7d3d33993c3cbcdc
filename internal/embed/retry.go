package embed

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff for provider requests.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
	RequestTimeout time.Duration
}

// ForLocal returns the retry preset for a local model runtime: generous
// timeout (model load), few retries.
func ForLocal() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2.0,
		Jitter:         false,
		RequestTimeout: 120 * time.Second,
	}
}

// ForCloud returns the retry preset for hosted endpoints: tighter timeout,
// more retries, jitter to spread retry storms.
func ForCloud() RetryConfig {
	return RetryConfig{
		MaxRetries:     4,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		RequestTimeout: 30 * time.Second,
	}
}

// do executes fn with exponential backoff. Only network and transient
// failures retry; invalid input, auth failures, and exhausted rate-limit
// budgets surface immediately.
func (c RetryConfig) do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := c.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if c.RequestTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.RequestTimeout)
		}
		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.MaxRetries {
			break
		}

		delay := backoff
		if c.Jitter {
			// ±25% jitter.
			delta := time.Duration(rand.Int63n(int64(backoff)/2+1)) - backoff/4
			delay += delta
		}
		select {
		case <-ctx.Done():
			return newError(ErrNetwork, "cancelled during backoff", ctx.Err())
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
	return lastErr
}

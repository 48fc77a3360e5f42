// Package retry provides the bounded exponential backoff used by the
// command subscription handler. It is a standalone wrapper so tests that
// need to observe first-failure behavior can call the wrapped function
// directly.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means the function runs exactly once.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries. Zero means no cap.
	MaxBackoff time.Duration
	// Multiplier is the factor applied to the backoff after each retry.
	Multiplier float64
	// Jitter adds up to the given fraction of randomness to each delay.
	Jitter float64
	// RetryIf decides whether an error is worth retrying. A nil RetryIf
	// retries everything except context cancellation.
	RetryIf func(error) bool
}

// DefaultConfig is the subscription handler policy: exponential backoff
// starting at 100ms, at most 3 retries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	// Attempts is the total number of attempts made.
	Attempts int
	// LastError is the error from the final attempt.
	LastError error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastError)
}

// Unwrap returns the final attempt's error.
func (e *ExhaustedError) Unwrap() error { return e.LastError }

// Do runs fn, retrying per cfg. Non-retryable errors return immediately;
// context cancellation aborts the wait between attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	attempts := cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryIf(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}
	return &ExhaustedError{Attempts: attempts, LastError: lastErr}
}

// backoff computes the delay before the retry following the given attempt.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
	}
	return time.Duration(d)
}

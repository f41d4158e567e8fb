// Package retry re-runs a failing call with a linearly growing delay.
package retry

import (
	"context"
	"time"

	perrors "github.com/khgapparov/flipApp/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number: BaseDelay, 2*BaseDelay, ...
	BaseDelay time.Duration
	// RetryIf decides whether an error is worth another attempt. Nil retries everything.
	RetryIf func(error) bool
}

// DefaultConfig returns three attempts one second apart, growing linearly.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Transient returns cfg restricted to errors classified as transient.
func (cfg Config) Transient() Config {
	cfg.RetryIf = IsRetryable
	return cfg
}

// IsRetryable reports whether err is a transient API failure.
func IsRetryable(err error) bool {
	return perrors.IsRetryable(err)
}

// Do calls fn until it succeeds, the attempts run out, or ctx is done.
// The last error from fn is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(cfg.BaseDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

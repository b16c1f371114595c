// Package retry runs an operation with exponential backoff. The observer
// client uses it to reach an inspector endpoint that may still be starting.
//
//	err := retry.Do(ctx, retry.DialConfig(), func() error {
//	    return dial()
//	}, isTransient)
//
// The wait before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped at
// MaxBackoff, plus jitter that grows linearly with the attempt number.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
//
// The zero value is not usable; MaxRetries and InitialBackoff must be set.
type Config struct {
	// MaxRetries is the maximum number of attempts.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to this fraction of the backoff, scaled by
	// attempt/MaxRetries. Zero disables jitter.
	Jitter float64

	// OnRetry, when set, is called after a failed attempt that will be
	// retried, with the wait before the next one.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DialConfig is the policy used when connecting to an inspector endpoint.
func DialConfig() Config {
	return Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Jitter:         0.1,
	}
}

// ShouldRetryFunc reports whether an error is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, shouldRetry rejects its error, the attempts
// run out, or ctx is done. Exhaustion wraps the last error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := calculateBackoff(cfg, attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	if cfg.Jitter > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return backoff
}

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// RetryConfig bounds the jittered-backoff retry applied to transient
// remote failures.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt. Each further
	// attempt doubles it.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

// DefaultRetryConfig retries transient failures up to three attempts
// with a short jittered backoff.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Permanent wraps an error to tell [Retry] not to try again.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Retry runs fn until it succeeds, the attempt budget is spent, the
// error is marked [Permanent], or ctx is cancelled. Backoff doubles per
// attempt with full jitter.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		delay := backoff(cfg, attempt)
		slog.Debug("retrying after transient failure",
			"attempt", attempt, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

// backoff computes the full-jitter delay for the given attempt (1-based).
func backoff(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = DefaultRetryConfig.BaseDelay
	}
	max := cfg.MaxDelay
	if max <= 0 {
		max = DefaultRetryConfig.MaxDelay
	}

	d := base << (attempt - 1)
	if d > max {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

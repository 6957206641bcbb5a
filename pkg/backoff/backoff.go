// Package backoff computes capped exponential delays and runs retry loops
// on them.
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	defaultInitial = 100 * time.Millisecond
	defaultMax     = 5 * time.Second
)

// Config shapes the delay curve. The zero value (and nil) means 100ms
// doubling up to 5s with no jitter.
type Config struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter spreads each retry delay uniformly over ±Jitter of its
	// nominal value. It is clamped to [0, 1].
	Jitter float64
}

func (c *Config) bounds() (initial, ceiling time.Duration) {
	initial, ceiling = defaultInitial, defaultMax
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			ceiling = c.Max
		}
	}
	return initial, ceiling
}

// Exponential returns the nominal delay before retry attempt: Initial for
// attempt 1 (and below), doubling each attempt, never above Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, ceiling := cfg.bounds()
	delay := initial
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// Delay is Exponential with the configured jitter applied.
func Delay(attempt int, cfg *Config) time.Duration {
	delay := Exponential(attempt, cfg)
	if cfg == nil || cfg.Jitter <= 0 {
		return delay
	}
	spread := min(cfg.Jitter, 1) * float64(delay)
	return time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, or has been
// retried maxRetries times. Attempt 0 is the first call and retry n waits
// Delay(n, cfg) before running. It returns the last error, or ctx.Err() if
// ctx ends while waiting.
func Retry(ctx context.Context, maxRetries int, cfg *Config, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := range max(maxRetries, 0) + 1 {
		if attempt > 0 {
			timer := time.NewTimer(Delay(attempt, cfg))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}

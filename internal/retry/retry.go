// Package retry provides a generic retry policy with full-jitter exponential
// backoff. It knows nothing about what it retries.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config controls retry behavior.
type Config struct {
	MaxAttempts int           // Total invocations before giving up
	BaseDelay   time.Duration // Backoff base for attempt 0
	MaxDelay    time.Duration // Cap on the exponential backoff

	// Abort, when set, stops retrying as soon as it reports true for an
	// error; the error is returned immediately.
	Abort func(error) bool

	// Test seams. Nil means real time and math/rand.
	sleep func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// DefaultConfig returns the standard retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Do invokes op up to cfg.MaxAttempts times, sleeping a full-jitter backoff
// between attempts: uniform(0, min(MaxDelay, BaseDelay*2^attempt)). The last
// observed error is returned when attempts are exhausted. Context
// cancellation aborts the wait and returns ctx.Err().
func Do(ctx context.Context, cfg Config, op func(attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	sleep := cfg.sleep
	if sleep == nil {
		sleep = realSleep
	}
	jitter := cfg.jitter
	if jitter == nil {
		jitter = randJitter
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if cfg.Abort != nil && cfg.Abort(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.BaseDelay << uint(attempt)
		if delay > cfg.MaxDelay || delay <= 0 {
			delay = cfg.MaxDelay
		}
		if err := sleep(ctx, jitter(delay)); err != nil {
			return err
		}
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(attempt int) error {
		var opErr error
		result, opErr = op(attempt)
		return opErr
	})
	return result, err
}

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// randJitter draws the actual delay uniformly from [0, max].
func randJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

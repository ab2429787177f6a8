// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// Attempts is the total number of attempts, including the first.
	Attempts int
	// Delay is the pause between attempts.
	Delay time.Duration
	// RetryIf decides whether an error is worth another attempt. Nil retries everything.
	RetryIf func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Once is the daily run's policy: one retry after delay.
func Once(delay time.Duration) Config {
	return Config{Attempts: 2, Delay: delay}
}

// Do calls fn until it succeeds, the attempts run out, RetryIf rejects the
// error, or ctx is cancelled. It returns fn's last result and error.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt == cfg.Attempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, cfg.Delay)
		}
		if err := sleep(ctx, cfg.Delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Sleep blocks for d, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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

package utils

import (
	"context"
	"time"
)

// BackoffDelay computes the exponential backoff delay for a zero-based
// attempt number: base * 2^attempt, capped at max when max is positive.
func BackoffDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// SleepContext waits for the given duration or until the context is
// cancelled, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Package backoff holds the exponential delay schedule shared by webhook
// delivery and same-provider dispatch retries.
package backoff

import (
	"context"
	"time"
)

// Defaults used when a caller leaves the schedule unset.
const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

// Delay returns the wait before the attempt following attempt (1-based):
// min(base*2^(attempt-1), maxDelay).
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}
	if maxDelay < base {
		maxDelay = base
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
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

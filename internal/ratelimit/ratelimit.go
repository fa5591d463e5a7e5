// Package ratelimit bounds the rate of keyed operations with fixed-window
// counters shared through the key-value store. The fixed window is a
// deliberate trade-off: a burst straddling a window boundary can admit
// close to twice the limit, which is acceptable for abuse deterrence and
// keeps the counter a single atomic increment.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the wait before the window resets, floored at zero.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Limiter counts requests per key within a fixed window. The first call in
// a window initializes the counter with a TTL equal to the window;
// implementations must make the increment-with-expiry atomic, not a
// separate read and write, so concurrent callers at the threshold cannot
// both pass.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Status reports the current state for key without consuming quota.
	Status(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

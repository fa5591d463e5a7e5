package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Lockout guards login against brute force. Failed attempts are counted
// per key; once the threshold is reached, login fails fast before any
// credential check, so a locked account and a wrong password cannot be
// told apart by timing.
type Lockout struct {
	limiter     Limiter
	maxFailures int
	window      time.Duration
}

// NewLockout creates a lockout guard with the given failure budget.
func NewLockout(limiter Limiter, maxFailures int, window time.Duration) *Lockout {
	return &Lockout{limiter: limiter, maxFailures: maxFailures, window: window}
}

func lockoutKey(key string) string {
	return "lockout:login:" + key
}

// Check reports whether the key is currently locked and, if so, how long
// until the window expires. It does not consume failure budget.
func (g *Lockout) Check(ctx context.Context, key string) (locked bool, retryAfter time.Duration, err error) {
	d, err := g.limiter.Status(ctx, lockoutKey(key), g.maxFailures, g.window)
	if err != nil {
		return false, 0, fmt.Errorf("checking lockout: %w", err)
	}
	if d.Allowed {
		return false, 0, nil
	}
	return true, d.RetryAfter(time.Now()), nil
}

// RecordFailure counts one failed login and reports whether the key is now
// locked (failure budget exhausted).
func (g *Lockout) RecordFailure(ctx context.Context, key string) (locked bool, retryAfter time.Duration, err error) {
	d, err := g.limiter.Allow(ctx, lockoutKey(key), g.maxFailures, g.window)
	if err != nil {
		return false, 0, fmt.Errorf("recording login failure: %w", err)
	}
	if d.Allowed && d.Remaining > 0 {
		return false, 0, nil
	}
	return true, d.RetryAfter(time.Now()), nil
}

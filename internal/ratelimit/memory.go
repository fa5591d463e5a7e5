package ratelimit

import (
	"context"
	"sync"
	"time"
)

// counter tracks the fixed-window state for a single key.
type counter struct {
	count     int
	windowEnd time.Time
}

// MemoryLimiter is an in-process Limiter with the same fixed-window
// semantics as the redis implementation. Used in tests and single-node
// development.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time // injectable clock for testing
}

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// getCounter returns the live counter for key, starting a fresh window if
// none exists or the previous one has ended. Must be called with l.mu held.
func (l *MemoryLimiter) getCounter(key string, now time.Time, window time.Duration) *counter {
	c, ok := l.counters[key]
	if !ok || now.After(c.windowEnd) {
		c = &counter{windowEnd: now.Add(window)}
		l.counters[key] = c
	}
	return c
}

// Allow checks whether a request identified by key is permitted within the
// current window, incrementing the counter when it is. At the threshold
// the counter stops incrementing and calls are rejected until the window
// ends.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := l.getCounter(key, now, window)

	if c.count >= limit {
		return Decision{Allowed: false, Limit: limit, ResetAt: c.windowEnd}, nil
	}

	c.count++
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - c.count,
		ResetAt:   c.windowEnd,
	}, nil
}

// Status reads the counter for key without incrementing it.
func (l *MemoryLimiter) Status(_ context.Context, key string, limit int, _ time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || now.After(c.windowEnd) {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	remaining := limit - c.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   c.count < limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   c.windowEnd,
	}, nil
}

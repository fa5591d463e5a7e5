package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript increments the counter and arms the window TTL in one round
// trip. Running it as a script keeps check-then-act atomic: two concurrent
// requests at the threshold cannot both observe "under limit".
var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter is a Limiter backed by a shared redis instance, so the
// count holds across process restarts and replicas.
type RedisLimiter struct {
	client  *redis.Client
	timeout time.Duration
	now     func() time.Time // injectable clock for testing
}

// NewRedisLimiter creates a limiter over the given client. timeout bounds
// each counter call.
func NewRedisLimiter(client *redis.Client, timeout time.Duration) *RedisLimiter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisLimiter{client: client, timeout: timeout, now: time.Now}
}

// Allow increments the counter for key and reports whether the call is
// within limit. Once the threshold is reached the counter stops mattering;
// the decision is denied until the window TTL expires.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}

	result, err := allowScript.Run(ctx, l.client, []string{key}, windowMillis).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("running rate limit script: %w", err)
	}
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit script response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("invalid rate limit counter response")
	}
	ttlMillis, _ := values[1].(int64)

	resetAt := l.now()
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}

	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Status reads the counter without incrementing it.
func (l *RedisLimiter) Status(ctx context.Context, key string, limit int, _ time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	current, err := l.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
		}
		return Decision{}, fmt.Errorf("reading rate limit counter: %w", err)
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("reading rate limit ttl: %w", err)
	}

	resetAt := l.now()
	if ttl > 0 {
		resetAt = resetAt.Add(ttl)
	}

	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   current < int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

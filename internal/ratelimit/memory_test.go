package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestLimiter creates a MemoryLimiter wired to the given fake clock.
func newTestLimiter(clock *fakeClock) *MemoryLimiter {
	l := NewMemoryLimiter()
	l.now = clock.Now
	return l
}

func TestAllowWithinLimit(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, "k", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 5-(i+1) {
			t.Errorf("request %d: expected remaining %d, got %d", i+1, 5-(i+1), d.Remaining)
		}
	}

	// 6th call inside the window is rejected.
	d, err := l.Allow(ctx, "k", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("6th request should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", d.Remaining)
	}
}

func TestWindowReset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		l.Allow(ctx, "k", 5, time.Minute)
	}
	if d, _ := l.Allow(ctx, "k", 5, time.Minute); d.Allowed {
		t.Fatal("should be denied after exhausting window")
	}

	clock.Advance(61 * time.Second)

	d, err := l.Allow(ctx, "k", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("should be allowed after window elapses")
	}
	if d.Remaining != 4 {
		t.Errorf("fresh window should have remaining 4, got %d", d.Remaining)
	}
}

func TestRejectionDoesNotExtendWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	l := newTestLimiter(clock)

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "k", 3, time.Minute)
	}
	end := l.counters["k"].windowEnd

	// Rejected calls must not increment or re-arm the window.
	clock.Advance(30 * time.Second)
	l.Allow(ctx, "k", 3, time.Minute)
	if got := l.counters["k"].windowEnd; !got.Equal(end) {
		t.Errorf("window end moved from %v to %v on a rejected call", end, got)
	}
	if l.counters["k"].count != 3 {
		t.Errorf("count should stay at 3, got %d", l.counters["k"].count)
	}
}

func TestDifferentKeysIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	l := newTestLimiter(clock)

	if d, _ := l.Allow(ctx, "a", 1, time.Minute); !d.Allowed {
		t.Fatal("first request for key 'a' should be allowed")
	}
	if d, _ := l.Allow(ctx, "a", 1, time.Minute); d.Allowed {
		t.Fatal("second request for key 'a' should be denied")
	}
	// Different key has its own counter.
	if d, _ := l.Allow(ctx, "b", 1, time.Minute); !d.Allowed {
		t.Fatal("first request for key 'b' should be allowed")
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	l := newTestLimiter(clock)

	l.Allow(ctx, "k", 3, time.Minute)

	for i := 0; i < 10; i++ {
		d, err := l.Status(ctx, "k", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed || d.Remaining != 2 {
			t.Fatalf("Status should report remaining 2 without consuming, got %+v", d)
		}
	}
}

func TestStatusUnknownKey(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(clock)

	d, err := l.Status(context.Background(), "never-seen", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed || d.Remaining != 5 {
		t.Errorf("unseen key should report full quota, got %+v", d)
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l := NewMemoryLimiter()
	d, err := l.Allow(context.Background(), "k", 0, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Error("zero limit should disable the guard")
	}
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter()

	const limit = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "k", limit, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("expected exactly %d allowed under concurrency, got %d", limit, allowed)
	}
}

package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "rl:signals:agent-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d denied inside the limit", i)
		}
		if decision.Remaining != 3-i-1 {
			t.Fatalf("request %d: remaining %d, want %d", i, decision.Remaining, 3-i-1)
		}
	}

	decision, err := limiter.Allow(ctx, "rl:signals:agent-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if decision.Allowed {
		t.Fatal("request over the limit was allowed")
	}
	if !decision.ResetAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("reset at %v, want end of window", decision.ResetAt)
	}

	// A different key has its own budget.
	decision, err = limiter.Allow(ctx, "rl:signals:agent-2", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow other key: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("unrelated key was denied")
	}
}

func TestMemoryLimiterWindowRollover(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, "key", 1, time.Minute); err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
	}

	now = now.Add(61 * time.Second)
	decision, err := limiter.Allow(ctx, "key", 1, time.Minute)
	if err != nil {
		t.Fatalf("allow after rollover: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("fresh window denied")
	}
}

func TestMemoryLimiterZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	decision, err := limiter.Allow(context.Background(), "key", 0, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("zero limit should disable limiting")
	}
}

func TestMemoryLimiterEvictsExpiredAtCapacity(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 4})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := limiter.Allow(ctx, fmt.Sprintf("key-%d", i), 1, time.Minute); err != nil {
			t.Fatalf("allow key-%d: %v", i, err)
		}
	}

	// At capacity with every window still live, a new key is refused.
	if _, err := limiter.Allow(ctx, "key-4", 1, time.Minute); err == nil {
		t.Fatal("expected capacity error while all windows are live")
	}

	// Once the old windows lapse they are collected and the key fits.
	now = now.Add(2 * time.Minute)
	decision, err := limiter.Allow(ctx, "key-4", 1, time.Minute)
	if err != nil {
		t.Fatalf("allow after gc: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("fresh key denied after gc")
	}
}

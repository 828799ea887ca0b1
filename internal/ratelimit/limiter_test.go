package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestLimiter creates a Limiter against a local Redis instance. Tests that
// call this helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		for _, prefix := range []string{"rl:msg:test_*", "rl:join:test_*"} {
			iter := client.Scan(ctx, 0, prefix, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_UnderLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RuleMessage.Limit; i++ {
		allowed, err := limiter.Allow(ctx, "test_under", RuleMessage)
		if err != nil {
			t.Fatalf("Allow() #%d error: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d/%d denied, want allowed", i+1, RuleMessage.Limit)
		}
	}
}

func TestAllow_OverLimit(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < RuleMessage.Limit; i++ {
		limiter.Allow(ctx, "test_over", RuleMessage)
	}

	allowed, err := limiter.Allow(ctx, "test_over", RuleMessage)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Errorf("request %d allowed, want denied", RuleMessage.Limit+1)
	}
}

func TestAllow_IndependentIdentifiers(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i <= RuleMessage.Limit; i++ {
		limiter.Allow(ctx, "test_busy", RuleMessage)
	}

	allowed, err := limiter.Allow(ctx, "test_quiet", RuleMessage)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !allowed {
		t.Error("separate identifier throttled by another user's traffic")
	}
}

func TestRemaining(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()

	// Untouched identifier has the full budget.
	n, err := limiter.Remaining(ctx, "test_rem", RuleMessage)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if n != RuleMessage.Limit {
		t.Errorf("remaining = %d, want %d", n, RuleMessage.Limit)
	}

	limiter.Allow(ctx, "test_rem", RuleMessage)
	limiter.Allow(ctx, "test_rem", RuleMessage)

	n, err = limiter.Remaining(ctx, "test_rem", RuleMessage)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if n != RuleMessage.Limit-2 {
		t.Errorf("remaining = %d, want %d", n, RuleMessage.Limit-2)
	}
}

func TestAllow_FailsOpenWhenRedisUnreachable(t *testing.T) {
	// Port 1 is never a Redis server; every command errors out. Unlike the
	// other tests this one must run without a live Redis.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	limiter := NewLimiter(client)
	ctx := context.Background()

	// Well past the limit: every request must still be let through.
	for i := 0; i < RuleMessage.Limit+5; i++ {
		allowed, err := limiter.Allow(ctx, "test_unreachable", RuleMessage)
		if err == nil {
			t.Fatal("expected an error from an unreachable redis")
		}
		if !allowed {
			t.Fatalf("request %d denied, want fail open", i+1)
		}
	}

	n, err := limiter.Remaining(ctx, "test_unreachable", RuleMessage)
	if err == nil {
		t.Fatal("expected an error from an unreachable redis")
	}
	if n != RuleMessage.Limit {
		t.Errorf("remaining = %d, want full budget %d", n, RuleMessage.Limit)
	}
}

func TestAllow_WindowExpiry(t *testing.T) {
	limiter := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:test_win_", Limit: 1, Window: time.Second}

	if allowed, _ := limiter.Allow(ctx, "x", rule); !allowed {
		t.Fatal("first request denied")
	}
	if allowed, _ := limiter.Allow(ctx, "x", rule); allowed {
		t.Fatal("second request in window allowed")
	}

	time.Sleep(1100 * time.Millisecond)

	if allowed, _ := limiter.Allow(ctx, "x", rule); !allowed {
		t.Error("request after window expiry denied")
	}
}

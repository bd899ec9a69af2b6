package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/scholar-bridge/scholar_bridge/internal/logging"
)

func setupLimiter(t *testing.T, quotas map[Class]Quota, policy Policy) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := New(cache, quotas, policy, logging.Discard())
	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return limiter, mr, cleanup
}

func TestAllowWithinQuota(t *testing.T) {
	quotas := map[Class]Quota{ClassVerify: {Limit: 5, Window: time.Minute}}
	limiter, _, cleanup := setupLimiter(t, quotas, StaticPolicy(true))
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d := limiter.Allow(ctx, ClassVerify, "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	d := limiter.Allow(ctx, ClassVerify, "10.0.0.1")
	if d.Allowed {
		t.Fatal("6th request should be rejected")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", d.RetryAfter)
	}
}

func TestIdentitiesCountedSeparately(t *testing.T) {
	quotas := map[Class]Quota{ClassVerify: {Limit: 1, Window: time.Minute}}
	limiter, _, cleanup := setupLimiter(t, quotas, StaticPolicy(true))
	defer cleanup()

	ctx := context.Background()
	if d := limiter.Allow(ctx, ClassVerify, "10.0.0.1"); !d.Allowed {
		t.Fatal("first identity should be allowed")
	}
	if d := limiter.Allow(ctx, ClassVerify, "10.0.0.2"); !d.Allowed {
		t.Fatal("second identity should have its own window")
	}
	if d := limiter.Allow(ctx, ClassVerify, "10.0.0.1"); d.Allowed {
		t.Fatal("first identity should now be over quota")
	}
}

func TestDisabledPolicyBypassesCounting(t *testing.T) {
	quotas := map[Class]Quota{ClassVerify: {Limit: 1, Window: time.Minute}}
	limiter, _, cleanup := setupLimiter(t, quotas, StaticPolicy(false))
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if d := limiter.Allow(ctx, ClassVerify, "10.0.0.1"); !d.Allowed {
			t.Fatalf("request %d should bypass the limiter", i+1)
		}
	}
}

func TestPolicyEvaluatedPerRequest(t *testing.T) {
	quotas := map[Class]Quota{ClassVerify: {Limit: 1, Window: time.Minute}}
	policy := &togglePolicy{enabled: true}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	limiter := New(cache, quotas, policy, logging.Discard())

	ctx := context.Background()
	limiter.Allow(ctx, ClassVerify, "10.0.0.1")
	if d := limiter.Allow(ctx, ClassVerify, "10.0.0.1"); d.Allowed {
		t.Fatal("expected rejection while enabled")
	}

	policy.enabled = false
	if d := limiter.Allow(ctx, ClassVerify, "10.0.0.1"); !d.Allowed {
		t.Fatal("expected allow after runtime toggle without rebuild")
	}
}

type togglePolicy struct{ enabled bool }

func (p *togglePolicy) Enabled() bool { return p.enabled }

func TestFailOpenWhenBackendDown(t *testing.T) {
	quotas := map[Class]Quota{ClassVerify: {Limit: 1, Window: time.Minute}}
	limiter, mr, cleanup := setupLimiter(t, quotas, StaticPolicy(true))
	defer cleanup()

	mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if d := limiter.Allow(ctx, ClassVerify, "10.0.0.1"); !d.Allowed {
			t.Fatal("limiter must fail open when redis is unavailable")
		}
	}
}

func TestNilCacheAllows(t *testing.T) {
	limiter := New(nil, nil, StaticPolicy(true), logging.Discard())
	if d := limiter.Allow(context.Background(), ClassVerify, "10.0.0.1"); !d.Allowed {
		t.Fatal("nil cache should disable counting")
	}
}

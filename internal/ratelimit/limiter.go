// Package ratelimit enforces per-endpoint-class request quotas using fixed
// Redis counter windows. The limiter never returns an error for an exhausted
// quota; callers get a Decision and choose the transport response. When the
// counting backend is unavailable the limiter fails open so a Redis outage
// cannot take the activation pipeline down with it.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Class names a group of endpoints sharing one quota.
type Class string

const (
	ClassRegister     Class = "register"
	ClassVerify       Class = "verify"
	ClassResend       Class = "resend"
	ClassCreateIntent Class = "create_intent"
	ClassConfirm      Class = "confirm"
)

// Quota is the request budget for one class within one window.
type Quota struct {
	Limit  int
	Window time.Duration
}

// DefaultQuotas returns the per-class budgets. Registration is permissive;
// OTP verification and resend are tight to resist brute force; the payment
// endpoints are tighter still.
func DefaultQuotas() map[Class]Quota {
	return map[Class]Quota{
		ClassRegister:     {Limit: 10, Window: time.Minute},
		ClassVerify:       {Limit: 5, Window: time.Minute},
		ClassResend:       {Limit: 3, Window: 5 * time.Minute},
		ClassCreateIntent: {Limit: 5, Window: time.Minute},
		ClassConfirm:      {Limit: 3, Window: time.Minute},
	}
}

// Decision is the outcome of an Allow call. RetryAfter is set only on rejection.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter counts requests per (class, identity, window) in Redis.
type Limiter struct {
	cache  *redis.Client
	quotas map[Class]Quota
	policy Policy
	logger *slog.Logger
}

// New builds a Limiter. A nil cache disables counting (every request is
// allowed), matching the no-Redis development mode.
func New(cache *redis.Client, quotas map[Class]Quota, policy Policy, logger *slog.Logger) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	if policy == nil {
		policy = EnvPolicy{}
	}
	return &Limiter{cache: cache, quotas: quotas, policy: policy, logger: logger}
}

// Allow records one request for identity under class and reports whether it
// fits the quota. The policy is consulted on every call so operators can
// toggle the limiter without a restart.
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) Decision {
	if !l.policy.Enabled() {
		return Decision{Allowed: true}
	}
	if l.cache == nil {
		return Decision{Allowed: true}
	}

	quota, ok := l.quotas[class]
	if !ok || quota.Limit <= 0 {
		return Decision{Allowed: true}
	}

	now := time.Now().UTC()
	windowStart := now.Truncate(quota.Window)
	key := fmt.Sprintf("rl:%s:%s:%d", class, identity, windowStart.Unix())

	count, err := l.cache.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: availability of the pipeline outweighs strict quota
		// enforcement during a backing-store outage.
		if l.logger != nil {
			l.logger.Warn("rate limit backend unavailable, allowing request",
				slog.String("class", string(class)), slog.Any("error", err))
		}
		return Decision{Allowed: true}
	}
	if count == 1 {
		l.cache.Expire(ctx, key, quota.Window)
	}

	if count > int64(quota.Limit) {
		retryAfter := windowStart.Add(quota.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	return Decision{Allowed: true}
}

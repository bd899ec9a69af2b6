package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/scholar-bridge/scholar_bridge/internal/apperror"
	"github.com/scholar-bridge/scholar_bridge/internal/ratelimit"
)

// RateLimit rejects requests over the quota for the given endpoint class,
// keyed by client IP. Runs before the wrapped handler so rejected requests
// never touch domain logic.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.Class) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}
		decision := limiter.Allow(c.UserContext(), class, c.IP())
		if !decision.Allowed {
			return apperror.RateLimited(decision.RetryAfter)
		}
		return c.Next()
	}
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/scholar-bridge/scholar_bridge/internal/middleware"
	"github.com/scholar-bridge/scholar_bridge/internal/ratelimit"
	"github.com/scholar-bridge/scholar_bridge/internal/registration"
)

// RegisterRegistrationRoutes wires signup and OTP verification endpoints.
func RegisterRegistrationRoutes(r fiber.Router, h *registration.Handler, limiter *ratelimit.Limiter) {
	group := r.Group("/auth")
	group.Post("/register/:kind", middleware.RateLimit(limiter, ratelimit.ClassRegister), h.Register)
	group.Post("/verify-otp", middleware.RateLimit(limiter, ratelimit.ClassVerify), h.Verify)
	group.Post("/resend-verification", middleware.RateLimit(limiter, ratelimit.ClassResend), h.Resend)
}

package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/scholar-bridge/scholar_bridge/internal/middleware"
	"github.com/scholar-bridge/scholar_bridge/internal/payment"
	"github.com/scholar-bridge/scholar_bridge/internal/ratelimit"
)

// RegisterPaymentRoutes wires the registration-fee payment endpoints.
// The webhook skips the limiter; it is authenticated by signature instead.
func RegisterPaymentRoutes(r fiber.Router, h *payment.Handler, limiter *ratelimit.Limiter) {
	group := r.Group("/payment")
	group.Post("/create-intent", middleware.RateLimit(limiter, ratelimit.ClassCreateIntent), h.CreateIntent)
	group.Post("/confirm", middleware.RateLimit(limiter, ratelimit.ClassConfirm), h.Confirm)
	group.Post("/webhook/:provider", h.Webhook)
}

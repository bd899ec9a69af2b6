package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/scholar-bridge/scholar_bridge/internal/account"
	"github.com/scholar-bridge/scholar_bridge/internal/middleware"
)

// RegisterMeRoute exposes the authenticated account's profile.
func RegisterMeRoute(r fiber.Router, accounts account.Repository) {
	r.Get("/me", func(c *fiber.Ctx) error {
		id, _ := c.Locals(middleware.LocalAccountID).(string)
		if id == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		acct, err := accounts.FindByID(c.UserContext(), id)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "account not found")
		}
		return c.JSON(fiber.Map{
			"id":         acct.ID,
			"email":      acct.Email,
			"kind":       acct.Kind,
			"name":       acct.Name,
			"school":     acct.School,
			"major":      acct.Major,
			"phone":      acct.Phone,
			"created_at": acct.CreatedAt,
		})
	})
}

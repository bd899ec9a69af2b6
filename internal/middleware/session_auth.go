package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/scholar-bridge/scholar_bridge/internal/apperror"
	"github.com/scholar-bridge/scholar_bridge/internal/token"
)

// Locals keys set by SessionAuth.
const (
	LocalAccountID   = "account_id"
	LocalAccountKind = "account_kind"
	LocalEmail       = "email"
)

// SessionAuth validates the bearer session token and stores the account
// identity in request locals.
func SessionAuth(tokens *token.Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return apperror.New(apperror.KindUnauthorized, "missing bearer token")
		}
		claims, err := tokens.ParseSession(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return apperror.Wrap(apperror.KindUnauthorized, "invalid session token", err)
		}

		c.Locals(LocalAccountID, claims.Subject)
		c.Locals(LocalAccountKind, claims.AccountKind)
		c.Locals(LocalEmail, claims.Email)
		return c.Next()
	}
}

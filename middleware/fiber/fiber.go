// Package fiber provides Fiber middleware that authenticates the caller's identity token.
// It lets services built on Fiber mount the subscription API handlers behind
// the same verifier the threadifier server uses with chi.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/threadifier/pkg/auth"
)

// UserIDKey is the Fiber locals key holding the authenticated user id
const UserIDKey = "UserID"

// Config holds middleware configuration
type Config struct {
	// Verifier resolves bearer tokens to user ids (required)
	Verifier auth.Verifier

	// OnUnauthorized is called when the token is missing or invalid
	// If nil, returns 401 JSON {"success":false,"error":"unauthorized"}
	OnUnauthorized func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that requires a valid bearer token
func Middleware(cfg Config) fiber.Handler {
	if cfg.Verifier == nil {
		panic("threadifier/fiber: Config.Verifier is required")
	}
	if cfg.OnUnauthorized == nil {
		cfg.OnUnauthorized = defaultUnauthorized
	}

	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return cfg.OnUnauthorized(c, err)
		}

		userID, err := cfg.Verifier.Verify(c.UserContext(), token)
		if err != nil {
			return cfg.OnUnauthorized(c, err)
		}

		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}

func defaultUnauthorized(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   "unauthorized",
	})
}

// UserID returns the authenticated user id, or ""
func UserID(c *fiber.Ctx) string {
	if val, ok := c.Locals(UserIDKey).(string); ok {
		return val
	}
	return ""
}

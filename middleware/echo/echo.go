// Package echo provides Echo middleware that authenticates the caller's identity token.
// It lets services built on Echo mount the subscription API handlers behind
// the same verifier the threadifier server uses with chi.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	threadhttp "github.com/mihaimyh/threadifier/middleware/http"
	"github.com/mihaimyh/threadifier/pkg/auth"
)

// UserIDKey is the Echo context key holding the authenticated user id
const UserIDKey = "UserID"

// Config holds middleware configuration
type Config struct {
	// Verifier resolves bearer tokens to user ids (required)
	Verifier auth.Verifier

	// OnUnauthorized is called when the token is missing or invalid
	// If nil, returns 401 JSON {"success":false,"error":"unauthorized"}
	OnUnauthorized func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that requires a valid bearer token
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Verifier == nil {
		panic("threadifier/echo: Config.Verifier is required")
	}
	if cfg.OnUnauthorized == nil {
		cfg.OnUnauthorized = defaultUnauthorized
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			token, err := auth.BearerToken(req.Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return cfg.OnUnauthorized(c, err)
			}

			userID, err := cfg.Verifier.Verify(req.Context(), token)
			if err != nil {
				return cfg.OnUnauthorized(c, err)
			}

			c.Set(UserIDKey, userID)
			c.SetRequest(req.WithContext(threadhttp.WithUserID(req.Context(), userID)))
			return next(c)
		}
	}
}

func defaultUnauthorized(c echo.Context, _ error) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"success": false,
		"error":   "unauthorized",
	})
}

// UserID returns the authenticated user id, or ""
func UserID(c echo.Context) string {
	if val, ok := c.Get(UserIDKey).(string); ok {
		return val
	}
	return ""
}

// Package gin provides Gin middleware that authenticates the caller's identity token.
// It lets services built on Gin mount the subscription API handlers behind
// the same verifier the threadifier server uses with chi.
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	threadhttp "github.com/mihaimyh/threadifier/middleware/http"
	"github.com/mihaimyh/threadifier/pkg/auth"
)

// UserIDKey is the Gin context key holding the authenticated user id
const UserIDKey = "UserID"

// Config holds middleware configuration
type Config struct {
	// Verifier resolves bearer tokens to user ids (required)
	Verifier auth.Verifier

	// OnUnauthorized is called when the token is missing or invalid
	// If nil, aborts with 401 JSON {"success":false,"error":"unauthorized"}
	OnUnauthorized func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that requires a valid bearer token.
// The user id is stored under UserIDKey and in the request context, so
// net/http handlers mounted through gin.WrapH can read it too.
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Verifier == nil {
		panic("threadifier/gin: Config.Verifier is required")
	}
	if cfg.OnUnauthorized == nil {
		cfg.OnUnauthorized = defaultUnauthorized
	}

	return func(c *gongin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			cfg.OnUnauthorized(c, err)
			return
		}

		userID, err := cfg.Verifier.Verify(c.Request.Context(), token)
		if err != nil {
			cfg.OnUnauthorized(c, err)
			return
		}

		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(threadhttp.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func defaultUnauthorized(c *gongin.Context, _ error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{
		"success": false,
		"error":   "unauthorized",
	})
}

// UserID returns the authenticated user id, or ""
func UserID(c *gongin.Context) string {
	return c.GetString(UserIDKey)
}

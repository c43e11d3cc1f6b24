// Package http provides net/http middleware that authenticates the caller's identity token
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/threadifier/pkg/auth"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user ID
	UserIDKey ContextKey = "threadifier:userID"
)

// Config holds middleware configuration
type Config struct {
	// Verifier resolves bearer tokens to user ids (required)
	Verifier auth.Verifier

	// OnUnauthorized is called when the token is missing or invalid
	// If nil, returns 401 JSON {"success":false,"error":"unauthorized"}
	OnUnauthorized func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that requires a valid bearer token
// and stores the user id in the request context.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Verifier == nil {
		panic("threadifier/http: Config.Verifier is required")
	}
	if config.OnUnauthorized == nil {
		config.OnUnauthorized = defaultUnauthorized
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				config.OnUnauthorized(w, r, err)
				return
			}

			userID, err := config.Verifier.Verify(r.Context(), token)
			if err != nil {
				config.OnUnauthorized(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// HandlerFunc creates the middleware in HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

func defaultUnauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "unauthorized",
	})
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID returns the authenticated user id stored by Middleware, or ""
func UserID(r *http.Request) string {
	if userID, ok := r.Context().Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Reconciler re-derives a user's entitlement from the payment processor
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (*billing.ReconcileResult, error)
}

// Sessions creates hosted checkout and customer portal sessions
type Sessions interface {
	CheckoutURL(ctx context.Context, userID string, plan subscription.Plan,
		interval subscription.Interval, successURL, cancelURL string) (string, error)
	PortalURL(ctx context.Context, userID, returnURL string) (string, error)
}

// Config holds configuration for the subscription API handler
type Config struct {
	// Reconciler serves POST /api/subscription/refresh (required)
	Reconciler Reconciler

	// Users serves GET /api/subscription (required)
	Users subscription.UserStore

	// Sessions serves the billing endpoints. If nil they respond 501.
	Sessions Sessions

	// GetUserID extracts the authenticated user ID from the request (required)
	// Similar to middleware/http pattern
	GetUserID func(*http.Request) string

	// AppBaseURL is the frontend origin checkout and portal sessions return to
	AppBaseURL string

	// Logger is optional; defaults to a no-op logger
	Logger subscription.Logger

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.Users == nil {
		return fmt.Errorf("users store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new subscription API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &subscription.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

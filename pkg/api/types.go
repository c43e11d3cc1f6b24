package api

import "time"

// RefreshResponse is the body of POST /api/subscription/refresh
type RefreshResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	OldPlan string `json:"oldPlan,omitempty"`
	NewPlan string `json:"newPlan,omitempty"`
	Plan    string `json:"plan,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EntitlementResponse is the caller's stored entitlement
type EntitlementResponse struct {
	Plan              string         `json:"plan"`
	Status            string         `json:"status"`
	CancelAtPeriodEnd bool           `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  *time.Time     `json:"currentPeriodEnd,omitempty"`
	Credits           CreditsSummary `json:"credits"`
}

// CreditsSummary is the credit balance part of EntitlementResponse
type CreditsSummary struct {
	Available int `json:"available"`
	Lifetime  int `json:"lifetime"`
}

// CheckoutRequest is the body of POST /api/billing/checkout
type CheckoutRequest struct {
	Plan     string `json:"plan"`
	Interval string `json:"interval"`
}

// SessionResponse carries a hosted session URL
type SessionResponse struct {
	URL string `json:"url"`
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

const (
	maxUserIDLen       = 128
	maxRequestBodySize = 4 << 10

	msgUpToDate      = "already up to date"
	msgRefreshFailed = "failed to refresh subscription"

	billingReturnPath = "/settings/billing"
)

// Handler provides the HTTP endpoints for subscription state
type Handler struct {
	config Config
}

// Refresh reconciles the caller's stored subscription with the processor
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	result, err := h.config.Reconciler.Reconcile(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, RefreshResponse{Success: false, Error: msgRefreshFailed})
		return
	}

	resp := RefreshResponse{
		Success: true,
		Plan:    string(result.Plan),
		Status:  string(result.Status),
	}
	switch {
	case result.NoSubscription:
	case result.Changed:
		resp.OldPlan = string(result.OldPlan)
		resp.NewPlan = string(result.Plan)
	default:
		resp.Message = msgUpToDate
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSubscription returns the caller's stored entitlement without consulting the processor
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	resp := EntitlementResponse{
		Plan:   string(subscription.PlanFree),
		Status: string(subscription.StatusNone),
	}

	user, err := h.config.Users.GetUser(r.Context(), userID)
	switch {
	case errors.Is(err, subscription.ErrUserNotFound):
	case err != nil:
		h.config.Logger.Error("failed to load user", subscription.F("user_id", userID), subscription.F("error", err))
		h.handleError(w, r, fmt.Errorf("failed to load subscription"), http.StatusInternalServerError)
		return
	default:
		record := user.Subscription
		resp.Plan = string(record.EffectivePlan())
		if record.Status != "" {
			resp.Status = string(record.Status)
		}
		resp.CancelAtPeriodEnd = record.CancelAtPeriodEnd
		if !record.CurrentPeriodEnd.IsZero() {
			end := record.CurrentPeriodEnd
			resp.CurrentPeriodEnd = &end
		}
		resp.Credits = CreditsSummary{Available: user.Credits.Available, Lifetime: user.Credits.Lifetime}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateCheckout starts a hosted checkout for a paid plan
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	if h.config.Sessions == nil {
		h.handleError(w, r, fmt.Errorf("billing is not configured"), http.StatusNotImplemented)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body"), http.StatusBadRequest)
		return
	}

	plan := subscription.Plan(strings.ToLower(strings.TrimSpace(req.Plan)))
	if plan != subscription.PlanProfessional && plan != subscription.PlanTeam {
		h.handleError(w, r, fmt.Errorf("plan must be professional or team"), http.StatusBadRequest)
		return
	}
	interval := subscription.Interval(strings.ToLower(strings.TrimSpace(req.Interval)))
	if interval == "" {
		interval = subscription.IntervalMonthly
	}
	if interval != subscription.IntervalMonthly && interval != subscription.IntervalYearly {
		h.handleError(w, r, fmt.Errorf("interval must be monthly or yearly"), http.StatusBadRequest)
		return
	}

	base := h.config.AppBaseURL + billingReturnPath
	url, err := h.config.Sessions.CheckoutURL(r.Context(), userID, plan, interval,
		base+"?checkout=success", base+"?checkout=cancelled")
	if err != nil {
		h.sessionError(w, r, userID, "checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{URL: url})
}

// CreatePortal opens the customer portal for the caller's billing account
func (h *Handler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}
	if h.config.Sessions == nil {
		h.handleError(w, r, fmt.Errorf("billing is not configured"), http.StatusNotImplemented)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	url, err := h.config.Sessions.PortalURL(r.Context(), userID, h.config.AppBaseURL+billingReturnPath)
	if err != nil {
		h.sessionError(w, r, userID, "portal", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{URL: url})
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, userID, kind string, err error) {
	switch {
	case errors.Is(err, billing.ErrPlanNotConfigured):
		h.handleError(w, r, fmt.Errorf("plan is not available"), http.StatusBadRequest)
	case errors.Is(err, subscription.ErrUserNotFound), errors.Is(err, billing.ErrCustomerNotFound):
		h.handleError(w, r, fmt.Errorf("no billing account"), http.StatusNotFound)
	default:
		h.config.Logger.Error("failed to create "+kind+" session",
			subscription.F("user_id", userID), subscription.F("error", err))
		h.handleError(w, r, fmt.Errorf("failed to create %s session", kind), http.StatusInternalServerError)
	}
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Log encoding error but response already sent
		_ = err
	}
}

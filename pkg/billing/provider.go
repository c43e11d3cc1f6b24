package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Provider is the interface a billing backend implements for the subscription
// lifecycle: real-time webhook ingestion plus on-demand reconciliation.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, dispatch and store updates internally.
	WebhookHandler() http.Handler

	// Reconcile re-derives the user's entitlement from the provider's live
	// subscription and writes it when it drifted. It never grants credits.
	Reconcile(ctx context.Context, userID string) (*ReconcileResult, error)
}

// ReconcileResult describes the outcome of a Reconcile call
type ReconcileResult struct {
	// Plan and Status are the entitlement after reconciliation
	Plan   subscription.Plan
	Status subscription.Status

	// OldPlan is the stored plan before reconciliation
	OldPlan subscription.Plan

	// Changed reports whether a write happened
	Changed bool

	// NoSubscription is set when the user has no stored subscription id;
	// Plan is then free and Status none.
	NoSubscription bool
}

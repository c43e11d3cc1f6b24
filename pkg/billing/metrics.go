package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The type of event (e.g., "checkout.session.completed")
	// status: "processed", "duplicate", "ignored", "skipped" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "invalid_signature", "payload_too_large", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordReconciliation records a reconcile call.
	// outcome: "no_subscription", "up_to_date", "updated" or "error"
	RecordReconciliation(provider, outcome string)

	// RecordReconciliationDuration records how long a reconcile call took.
	RecordReconciliationDuration(provider string, duration time.Duration)

	// RecordPlanChange records when a user's plan changes.
	// source: "webhook", "reconcile" or "replay"
	RecordPlanChange(provider, source, fromPlan, toPlan string)

	// RecordCreditGrant records credits added to a user's balance for a plan.
	RecordCreditGrant(provider, plan string, amount int)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API operation called (e.g., "subscriptions.retrieve")
	// status: "success" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordReconciliation(_, _ string)                             {}
func (n *NoopMetrics) RecordReconciliationDuration(_ string, _ time.Duration)       {}
func (n *NoopMetrics) RecordPlanChange(_, _, _, _ string)                           {}
func (n *NoopMetrics) RecordCreditGrant(_, _ string, _ int)                         {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}

package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/billing/internal"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Webhook outcomes reported in the acknowledgement body
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeSkipped   = "skipped"
)

// kind is the closed set of events the receiver acts on
type kind int

const (
	kindUnhandled kind = iota
	kindCheckoutCompleted
	kindSubscriptionUpdated
	kindSubscriptionDeleted
	kindPaymentFailed
)

func eventKind(t stripe.EventType) kind {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted:
		return kindCheckoutCompleted
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return kindSubscriptionUpdated
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return kindSubscriptionDeleted
	case stripe.EventTypeInvoicePaymentFailed:
		return kindPaymentFailed
	default:
		return kindUnhandled
	}
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		_ = internal.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	if p.webhookSecret == "" {
		_ = internal.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "webhook not configured"})
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			_ = internal.WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			_ = internal.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		p.logger.Warn("webhook signature verification failed", subscription.F("error", err))
		_ = internal.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: billing.ErrInvalidWebhookSignature.Error()})
		p.metrics.RecordWebhookError(providerName, "invalid_signature")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "unknown"
	}
	defer func() {
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
	}()

	ctx := r.Context()
	if p.alreadyProcessed(ctx, event.ID) {
		p.logger.Info("webhook event already processed",
			subscription.F("event_id", event.ID), subscription.F("event_type", eventType))
		p.ack(w, eventType, outcomeDuplicate)
		return
	}

	outcome, err := p.processWebhookEvent(ctx, &event)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidWebhookPayload):
		p.logger.Warn("webhook payload could not be decoded",
			subscription.F("event_id", event.ID), subscription.F("event_type", eventType), subscription.F("error", err))
		_ = internal.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	case isSkippable(err):
		p.logger.Warn("webhook event skipped",
			subscription.F("event_id", event.ID), subscription.F("event_type", eventType), subscription.F("error", err))
		outcome = outcomeSkipped
	default:
		p.logger.Error("webhook processing failed",
			subscription.F("event_id", event.ID), subscription.F("event_type", eventType), subscription.F("error", err))
		_ = internal.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to process webhook"})
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		return
	}

	if outcome == outcomeProcessed {
		p.markProcessed(ctx, event.ID)
	}
	p.ack(w, eventType, outcome)
}

func (p *Provider) ack(w http.ResponseWriter, eventType, outcome string) {
	_ = internal.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Status: outcome})
	p.metrics.RecordWebhookEvent(providerName, eventType, outcome)
}

// alreadyProcessed consults the optional ledger. A ledger outage falls back to
// the store-level subscription id check.
func (p *Provider) alreadyProcessed(ctx context.Context, eventID string) bool {
	if p.ledger == nil {
		return false
	}
	seen, err := p.ledger.Seen(ctx, eventID)
	if err != nil {
		p.logger.Warn("event ledger lookup failed", subscription.F("event_id", eventID), subscription.F("error", err))
		return false
	}
	return seen
}

func (p *Provider) markProcessed(ctx context.Context, eventID string) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.MarkProcessed(ctx, eventID); err != nil {
		p.logger.Warn("event ledger write failed", subscription.F("event_id", eventID), subscription.F("error", err))
	}
}

// subscriptionFetchError marks a subscription Stripe does not know as
// unresolvable so the event is acknowledged instead of redelivered forever.
func subscriptionFetchError(subscriptionID string, err error) error {
	if isMissingResource(err) {
		return fmt.Errorf("%w: subscription %s not found: %v", billing.ErrUnresolvedEvent, subscriptionID, err)
	}
	return fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
}

// isSkippable reports errors that are acknowledged rather than retried:
// the event cannot be tied to a user, or its data is anomalous.
func isSkippable(err error) bool {
	return errors.Is(err, billing.ErrUnresolvedEvent) ||
		errors.Is(err, subscription.ErrUserNotFound) ||
		subscription.IsDataAnomaly(err)
}

// processWebhookEvent dispatches a verified event and returns its outcome
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) (string, error) {
	t := transition{source: subscription.SourceWebhook, eventID: event.ID, eventType: string(event.Type)}

	ek := eventKind(event.Type)
	if ek != kindUnhandled && event.Data == nil {
		return "", fmt.Errorf("%w: event %s has no data", billing.ErrInvalidWebhookPayload, event.ID)
	}

	var err error
	switch ek {
	case kindCheckoutCompleted:
		err = p.handleCheckoutSessionCompleted(ctx, event, t)
	case kindSubscriptionUpdated:
		err = p.handleSubscriptionUpdated(ctx, event, t)
	case kindSubscriptionDeleted:
		err = p.handleSubscriptionDeleted(ctx, event, t)
	case kindPaymentFailed:
		err = p.handleInvoicePaymentFailed(ctx, event, t)
	default:
		p.logger.Debug("webhook event type not handled",
			subscription.F("event_id", event.ID), subscription.F("event_type", string(event.Type)))
		return outcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	return outcomeProcessed, nil
}

// handleCheckoutSessionCompleted activates the purchased plan and grants its credits once
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event, t transition) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	userID := ""
	if session.Metadata != nil {
		userID = session.Metadata[metadataUserIDKey]
	}
	if userID == "" {
		return fmt.Errorf("%w: metadata.%s missing on checkout session %s",
			billing.ErrUnresolvedEvent, metadataUserIDKey, session.ID)
	}

	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil ||
		session.Subscription.ID == "" {
		return fmt.Errorf("%w: checkout session %s is not a subscription checkout",
			billing.ErrUnresolvedEvent, session.ID)
	}
	subscriptionID := session.Subscription.ID

	if _, err := p.store.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}

	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return subscriptionFetchError(subscriptionID, err)
	}

	snap := snapshotFromSubscription(sub)
	if session.Customer != nil && session.Customer.ID != "" {
		snap.CustomerID = session.Customer.ID
	}

	update, err := subscription.Activation(snap, p.prices, subscription.GrantOncePerSubscription, p.now())
	if err != nil {
		return fmt.Errorf("subscription %s: %w", subscriptionID, err)
	}

	result, err := p.apply(ctx, userID, update, t)
	if err != nil {
		return fmt.Errorf("failed to activate subscription %s: %w", subscriptionID, err)
	}

	p.logger.Info("subscription activated",
		subscription.F("event_id", t.eventID),
		subscription.F("event_type", t.eventType),
		subscription.F("user_id", userID),
		subscription.F("subscription_id", subscriptionID),
		subscription.F("plan", string(result.Current.Plan)),
		subscription.F("credits_granted", result.CreditsGranted),
	)
	return nil
}

// handleSubscriptionUpdated mirrors status and billing period; the plan is left alone
func (p *Provider) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event, t transition) error {
	snap, userID, err := subscriptionFromEvent(event)
	if err != nil {
		return err
	}

	result, err := p.apply(ctx, userID, subscription.StatusChange(snap, p.now()), t)
	if err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", snap.ID, err)
	}
	if !result.Current.Status.Known() {
		p.logger.Warn("unrecognized subscription status stored",
			subscription.F("user_id", userID), subscription.F("status", string(result.Current.Status)))
	}

	p.logger.Info("subscription status updated",
		subscription.F("event_id", t.eventID),
		subscription.F("event_type", t.eventType),
		subscription.F("user_id", userID),
		subscription.F("subscription_id", snap.ID),
		subscription.F("status", string(result.Current.Status)),
	)
	return nil
}

// handleSubscriptionDeleted downgrades the user to free
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, t transition) error {
	snap, userID, err := subscriptionFromEvent(event)
	if err != nil {
		return err
	}

	if _, err := p.apply(ctx, userID, subscription.Cancellation(p.now()), t); err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", snap.ID, err)
	}

	p.logger.Info("subscription cancelled",
		subscription.F("event_id", t.eventID),
		subscription.F("event_type", t.eventType),
		subscription.F("user_id", userID),
		subscription.F("subscription_id", snap.ID),
	)
	return nil
}

// handleInvoicePaymentFailed marks the owning subscription past due
func (p *Provider) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event, t transition) error {
	if !json.Valid(event.Data.Raw) {
		return fmt.Errorf("%w: invoice", billing.ErrInvalidWebhookPayload)
	}

	subscriptionID := invoiceSubscriptionID(event.Data.Raw)
	if subscriptionID == "" {
		return fmt.Errorf("%w: invoice is not tied to a subscription", billing.ErrUnresolvedEvent)
	}

	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return subscriptionFetchError(subscriptionID, err)
	}

	userID := snapshotFromSubscription(sub).UserID
	if userID == "" {
		return fmt.Errorf("%w: metadata.%s missing on subscription %s",
			billing.ErrUnresolvedEvent, metadataUserIDKey, subscriptionID)
	}

	if _, err := p.apply(ctx, userID, subscription.PaymentFailure(p.now()), t); err != nil {
		return fmt.Errorf("failed to mark subscription %s past due: %w", subscriptionID, err)
	}

	p.logger.Info("subscription payment failed",
		subscription.F("event_id", t.eventID),
		subscription.F("event_type", t.eventType),
		subscription.F("user_id", userID),
		subscription.F("subscription_id", subscriptionID),
	)
	return nil
}

// subscriptionFromEvent decodes a subscription event and its metadata user id
func subscriptionFromEvent(event *stripe.Event) (subscription.Snapshot, string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return subscription.Snapshot{}, "", fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	snap := snapshotFromSubscription(&sub)
	if snap.UserID == "" {
		return snap, "", fmt.Errorf("%w: metadata.%s missing on subscription %s",
			billing.ErrUnresolvedEvent, metadataUserIDKey, sub.ID)
	}
	return snap, snap.UserID, nil
}

// Package stripe implements the subscription lifecycle on top of Stripe:
// the webhook receiver, the on-demand reconciler, operator recovery
// operations and checkout/portal session creation.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/billing/internal"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	defaultBreakerReset      = 30 * time.Second
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Prices, Ledger, ...)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// API overrides the Stripe client built from StripeAPIKey
	API API

	// Webhook rate limiting per client IP (defaults: 100 per minute)
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	// Circuit breaker around Stripe API calls. Zero threshold disables it.
	BreakerThreshold    int
	BreakerResetTimeout time.Duration // default: 30s
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	api           API
	store         subscription.UserStore
	prices        *subscription.PriceTable
	ledger        subscription.EventLedger
	audit         subscription.AuditLogger
	logger        subscription.Logger
	metrics       billing.Metrics
	now           func() time.Time
	rateLimiter   *internal.RateLimiter
	webhookSecret string
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil || config.Prices == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.StripeAPIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		api = NewAPI(apiKey)
	}

	logger := config.Logger
	if logger == nil {
		logger = &subscription.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	if config.BreakerThreshold > 0 {
		reset := config.BreakerResetTimeout
		if reset <= 0 {
			reset = defaultBreakerReset
		}
		api = newBreakerAPI(api, internal.NewCircuitBreaker(config.BreakerThreshold, reset,
			func(state internal.BreakerState) {
				logger.Warn("stripe circuit breaker state changed", subscription.F("state", string(state)))
			}))
	}

	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	limit := config.WebhookRateLimit
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	window := config.WebhookRateWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	return &Provider{
		api:           api,
		store:         config.Store,
		prices:        config.Prices,
		ledger:        config.Ledger,
		audit:         config.Audit,
		logger:        logger,
		metrics:       metrics,
		now:           now,
		rateLimiter:   internal.NewRateLimiter(limit, window),
		webhookSecret: strings.TrimSpace(config.StripeWebhookSecret),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// getSubscription retrieves a live subscription with API metrics
func (p *Provider) getSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	start := time.Now()
	sub, err := p.api.GetSubscription(ctx, subscriptionID)
	p.observeAPICall("subscriptions.retrieve", start, err)
	return sub, err
}

func (p *Provider) observeAPICall(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(providerName, endpoint, status)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

// transition describes where an update came from, for audit and metrics
type transition struct {
	source    string
	eventID   string
	eventType string
}

// apply writes update for userID and records the resulting transition.
// Audit failures are logged and never fail the write.
func (p *Provider) apply(ctx context.Context, userID string, update *subscription.RecordUpdate,
	t transition) (*subscription.ApplyResult, error) {
	result, err := p.store.ApplyUpdate(ctx, userID, update)
	if err != nil {
		return nil, err
	}

	oldPlan := result.Previous.EffectivePlan()
	newPlan := result.Current.EffectivePlan()
	if oldPlan != newPlan {
		p.metrics.RecordPlanChange(providerName, t.source, string(oldPlan), string(newPlan))
	}
	if result.CreditsGranted > 0 {
		p.metrics.RecordCreditGrant(providerName, string(newPlan), result.CreditsGranted)
	}

	if p.audit != nil {
		entry := &subscription.AuditEntry{
			UserID:         userID,
			Source:         t.source,
			EventID:        t.eventID,
			EventType:      t.eventType,
			SubscriptionID: result.Current.StripeSubscriptionID,
			OldPlan:        oldPlan,
			NewPlan:        newPlan,
			Status:         result.Current.Status,
			CreditsGranted: result.CreditsGranted,
			Timestamp:      update.UpdatedAt,
		}
		if err := p.audit.LogTransition(ctx, entry); err != nil {
			p.logger.Warn("audit write failed",
				subscription.F("user_id", userID),
				subscription.F("source", t.source),
				subscription.F("error", err),
			)
		}
	}
	return result, nil
}

package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/billing/internal"
)

// breakerAPI guards an API with a circuit breaker so an unavailable Stripe
// fails fast instead of holding every webhook and refresh for a full timeout.
type breakerAPI struct {
	next    API
	breaker *internal.CircuitBreaker
}

func newBreakerAPI(next API, breaker *internal.CircuitBreaker) *breakerAPI {
	return &breakerAPI{next: next, breaker: breaker}
}

// isUpstreamFailure reports whether err says Stripe itself is unhealthy.
// Client errors (missing resources, invalid requests) do not trip the breaker.
func isUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 0 ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}

// isMissingResource reports whether Stripe answered that the object does not exist
func isMissingResource(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}

func (b *breakerAPI) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	err := b.breaker.Execute(func() error {
		var err error
		sub, err = b.next.GetSubscription(ctx, subscriptionID)
		return err
	}, isUpstreamFailure)
	return sub, err
}

func (b *breakerAPI) ListEvents(ctx context.Context, eventType stripe.EventType, limit int) ([]*stripe.Event, error) {
	var events []*stripe.Event
	err := b.breaker.Execute(func() error {
		var err error
		events, err = b.next.ListEvents(ctx, eventType, limit)
		return err
	}, isUpstreamFailure)
	return events, err
}

func (b *breakerAPI) CreateCheckoutSession(ctx context.Context,
	params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	var session *stripe.CheckoutSession
	err := b.breaker.Execute(func() error {
		var err error
		session, err = b.next.CreateCheckoutSession(ctx, params)
		return err
	}, isUpstreamFailure)
	return session, err
}

func (b *breakerAPI) CreatePortalSession(ctx context.Context,
	params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	var session *stripe.BillingPortalSession
	err := b.breaker.Execute(func() error {
		var err error
		session, err = b.next.CreatePortalSession(ctx, params)
		return err
	}, isUpstreamFailure)
	return session, err
}

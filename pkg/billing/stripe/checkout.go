package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// CheckoutURL creates a subscription Checkout Session for plan and interval and
// returns its URL. The user id is injected as metadata on both the session and
// the subscription so every later webhook can be correlated.
func (p *Provider) CheckoutURL(ctx context.Context, userID string, plan subscription.Plan,
	interval subscription.Interval, successURL, cancelURL string) (string, error) {
	priceID, ok := p.prices.PriceID(plan, interval)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", billing.ErrPlanNotConfigured, plan, interval)
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", userID, err)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID),
		Metadata:          map[string]string{metadataUserIDKey: userID},
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: map[string]string{metadataUserIDKey: userID},
		},
	}

	// Attach the existing customer so Stripe does not create a duplicate
	if customerID := user.Subscription.StripeCustomerID; customerID != "" {
		params.Customer = stripe.String(customerID)
	} else if user.Email != "" {
		params.CustomerEmail = stripe.String(user.Email)
	}

	start := time.Now()
	session, err := p.api.CreateCheckoutSession(ctx, params)
	p.observeAPICall("checkout.sessions.create", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.logger.Info("checkout session created",
		subscription.F("user_id", userID),
		subscription.F("plan", string(plan)),
		subscription.F("interval", string(interval)),
	)
	return session.URL, nil
}

// PortalURL creates a Customer Portal Session for the user's stored customer
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", userID, err)
	}

	customerID := user.Subscription.StripeCustomerID
	if customerID == "" {
		return "", fmt.Errorf("%w: %s", billing.ErrCustomerNotFound, userID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	start := time.Now()
	session, err := p.api.CreatePortalSession(ctx, params)
	p.observeAPICall("billing_portal.sessions.create", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return session.URL, nil
}

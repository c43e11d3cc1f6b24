package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// metadataUserIDKey is the metadata key checkout injects on sessions and subscriptions
const metadataUserIDKey = "userId"

// API is the subset of the Stripe API the provider uses
type API interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ListEvents(ctx context.Context, eventType stripe.EventType, limit int) ([]*stripe.Event, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context,
		params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

// clientAPI implements API over the stripe-go client
type clientAPI struct {
	sc *stripe.Client
}

// NewAPI creates an API backed by stripe.NewClient
func NewAPI(apiKey string) API {
	return &clientAPI{sc: stripe.NewClient(apiKey)}
}

func (c *clientAPI) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	return c.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
}

// ListEvents returns up to limit events of one type, newest first
func (c *clientAPI) ListEvents(ctx context.Context, eventType stripe.EventType, limit int) ([]*stripe.Event, error) {
	params := &stripe.EventListParams{Type: stripe.String(string(eventType))}
	params.Limit = stripe.Int64(int64(limit))

	events := make([]*stripe.Event, 0, limit)
	for ev, err := range c.sc.V1Events.List(ctx, params) {
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (c *clientAPI) CreateCheckoutSession(ctx context.Context,
	params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return c.sc.V1CheckoutSessions.Create(ctx, params)
}

func (c *clientAPI) CreatePortalSession(ctx context.Context,
	params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	return c.sc.V1BillingPortalSessions.Create(ctx, params)
}

// snapshotFromSubscription maps a Stripe subscription to the vendor-neutral snapshot.
// The billing period lives on the items; the latest item period end wins.
func snapshotFromSubscription(sub *stripe.Subscription) subscription.Snapshot {
	snap := subscription.Snapshot{
		ID:                sub.ID,
		Status:            subscription.Status(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Metadata != nil {
		snap.UserID = sub.Metadata[metadataUserIDKey]
	}

	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil && item.Price.ID != "" {
				snap.PriceIDs = append(snap.PriceIDs, item.Price.ID)
			}
			if item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
	}
	if periodEnd > 0 {
		snap.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return snap
}

// invoiceSubscriptionID reads the subscription id from a raw invoice object.
// Newer API versions nest it under parent.subscription_details.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var invoice struct {
		Subscription json.RawMessage `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription json.RawMessage `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(raw, &invoice); err != nil {
		return ""
	}
	if id := expandableID(invoice.Subscription); id != "" {
		return id
	}
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		return expandableID(invoice.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// expandableID accepts either a bare id string or an expanded object with an id
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

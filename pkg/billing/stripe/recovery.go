package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// DefaultCheckoutListLimit is how many checkout completions ListCheckoutCompletions returns by default
const DefaultCheckoutListLimit = 10

// ReplayResult describes a replayed activation
type ReplayResult struct {
	OldPlan        subscription.Plan
	Plan           subscription.Plan
	Status         subscription.Status
	CreditsGranted int

	// LiveStatus is the processor's status for the subscription. Replay
	// activates regardless; callers should warn when it is not active.
	LiveStatus subscription.Status

	// MetadataUserID is the userId stored on the subscription, which may be
	// empty or differ from the replayed user.
	MetadataUserID string
}

// Replay re-applies the checkout activation for a user from a live subscription.
// When the user already shows this subscription as active, it returns
// subscription.ErrAlreadyGranted unless force is set; forcing grants the
// plan's credits again.
func (p *Provider) Replay(ctx context.Context, userID, subscriptionID string, force bool) (*ReplayResult, error) {
	userID = strings.TrimSpace(userID)
	subscriptionID = strings.TrimSpace(subscriptionID)
	if userID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("user id and subscription id are required")
	}

	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	stored := user.Subscription
	if !force && stored.StripeSubscriptionID == subscriptionID && stored.Status == subscription.StatusActive {
		return nil, subscription.ErrAlreadyGranted
	}

	sub, err := p.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}
	snap := snapshotFromSubscription(sub)

	policy := subscription.GrantOncePerSubscription
	if force {
		policy = subscription.GrantAlways
	}
	update, err := subscription.Activation(snap, p.prices, policy, p.now())
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, err)
	}

	applied, err := p.apply(ctx, userID, update, transition{source: subscription.SourceReplay})
	if err != nil {
		return nil, fmt.Errorf("failed to replay subscription %s: %w", subscriptionID, err)
	}

	p.logger.Info("subscription replayed",
		subscription.F("user_id", userID),
		subscription.F("subscription_id", subscriptionID),
		subscription.F("plan", string(applied.Current.Plan)),
		subscription.F("credits_granted", applied.CreditsGranted),
		subscription.F("forced", force),
	)

	return &ReplayResult{
		OldPlan:        applied.Previous.EffectivePlan(),
		Plan:           applied.Current.Plan,
		Status:         applied.Current.Status,
		CreditsGranted: applied.CreditsGranted,
		LiveStatus:     snap.Status,
		MetadataUserID: snap.UserID,
	}, nil
}

// CheckoutCompletion summarizes one checkout.session.completed event
type CheckoutCompletion struct {
	EventID        string
	Created        time.Time
	SessionID      string
	UserID         string
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
}

// ListCheckoutCompletions returns the most recent checkout completions, newest first
func (p *Provider) ListCheckoutCompletions(ctx context.Context, limit int) ([]CheckoutCompletion, error) {
	if limit <= 0 {
		limit = DefaultCheckoutListLimit
	}

	start := time.Now()
	events, err := p.api.ListEvents(ctx, stripe.EventTypeCheckoutSessionCompleted, limit)
	p.observeAPICall("events.list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkout events: %w", err)
	}

	out := make([]CheckoutCompletion, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			continue
		}
		c := CheckoutCompletion{
			EventID: ev.ID,
			Created: time.Unix(ev.Created, 0).UTC(),
		}
		if ev.Data != nil {
			var session stripe.CheckoutSession
			if err := json.Unmarshal(ev.Data.Raw, &session); err == nil {
				c.SessionID = session.ID
				c.UserID = session.Metadata[metadataUserIDKey]
				if session.Subscription != nil {
					c.SubscriptionID = session.Subscription.ID
				}
				if session.Customer != nil {
					c.CustomerID = session.Customer.ID
				}
				if session.CustomerDetails != nil {
					c.CustomerEmail = session.CustomerDetails.Email
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// UserReport is what the recovery tool prints for a looked-up user
type UserReport struct {
	User        *subscription.User
	Transitions []*subscription.AuditEntry
}

// LookupUser finds a user by customer id (when the query starts with "cus_")
// or by email, and attaches recent transitions when an audit log is configured.
func (p *Provider) LookupUser(ctx context.Context, query string) (*UserReport, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, subscription.ErrUserNotFound
	}

	var (
		user *subscription.User
		err  error
	)
	if strings.HasPrefix(query, "cus_") {
		user, err = p.store.FindUserByCustomerID(ctx, query)
	} else {
		user, err = p.store.FindUserByEmail(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	report := &UserReport{User: user}
	if p.audit != nil {
		transitions, err := p.audit.ListTransitions(ctx, user.ID, 5)
		if err != nil {
			p.logger.Warn("failed to list transitions", subscription.F("user_id", user.ID), subscription.F("error", err))
		} else {
			report.Transitions = transitions
		}
	}
	return report, nil
}

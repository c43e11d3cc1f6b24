package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Reconcile re-derives the user's plan from the live Stripe subscription and
// writes it only when the stored plan or status drifted. Credits are never touched.
func (p *Provider) Reconcile(ctx context.Context, userID string) (*billing.ReconcileResult, error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordReconciliationDuration(providerName, time.Since(start))
	}()

	result, err := p.reconcile(ctx, userID)
	if err != nil {
		p.metrics.RecordReconciliation(providerName, "error")
		p.logger.Error("subscription refresh failed",
			subscription.F("user_id", userID), subscription.F("error", err))
		return nil, err
	}

	switch {
	case result.NoSubscription:
		p.metrics.RecordReconciliation(providerName, "no_subscription")
	case result.Changed:
		p.metrics.RecordReconciliation(providerName, "updated")
	default:
		p.metrics.RecordReconciliation(providerName, "up_to_date")
	}
	return result, nil
}

func (p *Provider) reconcile(ctx context.Context, userID string) (*billing.ReconcileResult, error) {
	noSubscription := &billing.ReconcileResult{
		Plan:           subscription.PlanFree,
		Status:         subscription.StatusNone,
		OldPlan:        subscription.PlanFree,
		NoSubscription: true,
	}

	user, err := p.store.GetUser(ctx, userID)
	if errors.Is(err, subscription.ErrUserNotFound) {
		p.logger.Info("no user document to refresh", subscription.F("user_id", userID))
		return noSubscription, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	stored := user.Subscription
	if !stored.HasSubscription() {
		return noSubscription, nil
	}

	sub, err := p.getSubscription(ctx, stored.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", stored.StripeSubscriptionID, err)
	}

	decision, err := subscription.Drift(stored, snapshotFromSubscription(sub), p.prices, p.now())
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", stored.StripeSubscriptionID, err)
	}

	result := &billing.ReconcileResult{
		Plan:    decision.Plan,
		Status:  decision.Status,
		OldPlan: stored.EffectivePlan(),
	}
	if decision.Update == nil {
		p.logger.Debug("subscription already up to date",
			subscription.F("user_id", userID),
			subscription.F("subscription_id", stored.StripeSubscriptionID))
		return result, nil
	}

	t := transition{source: subscription.SourceReconcile}
	if _, err := p.apply(ctx, userID, decision.Update, t); err != nil {
		return nil, fmt.Errorf("failed to write reconciled subscription: %w", err)
	}
	result.Changed = true

	p.logger.Info("subscription reconciled",
		subscription.F("user_id", userID),
		subscription.F("subscription_id", stored.StripeSubscriptionID),
		subscription.F("old_plan", string(result.OldPlan)),
		subscription.F("new_plan", string(result.Plan)),
		subscription.F("status", string(result.Status)),
	)
	return result, nil
}

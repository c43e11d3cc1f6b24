package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

func TestReconcile_NoUserDocument(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.provider.Reconcile(context.Background(), testUserID)

	require.NoError(t, err)
	assert.True(t, result.NoSubscription)
	assert.Equal(t, subscription.PlanFree, result.Plan)
	assert.Equal(t, subscription.StatusNone, result.Status)
	assert.Zero(t, env.api.calls())
}

func TestReconcile_NoStoredSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.putUser(subscription.Record{Plan: subscription.PlanFree}, 0)

	result, err := env.provider.Reconcile(context.Background(), testUserID)

	require.NoError(t, err)
	assert.True(t, result.NoSubscription)
	assert.Equal(t, subscription.PlanFree, result.Plan)
	assert.Equal(t, subscription.StatusNone, result.Status)
	assert.Zero(t, env.api.calls(), "stripe is not consulted without a subscription id")
	assert.Zero(t, env.store.ApplyCalls())
}

func TestReconcile_AlreadyUpToDate(t *testing.T) {
	env := newTestEnv(t)
	env.putUser(subscription.Record{
		Plan:                 subscription.PlanProfessional,
		Status:               subscription.StatusActive,
		StripeSubscriptionID: testSubscriptionID,
	}, 500)
	env.api.putSubscription(newTestSubscription(testSubscriptionID, testUserID, stripe.SubscriptionStatusActive, testPriceProMonthly))

	result, err := env.provider.Reconcile(context.Background(), testUserID)

	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.False(t, result.NoSubscription)
	assert.Equal(t, subscription.PlanProfessional, result.Plan)
	assert.Equal(t, subscription.StatusActive, result.Status)
	assert.Zero(t, env.store.ApplyCalls(), "no write when nothing drifted")
}

func TestReconcile_CancelledMatchesCanceled(t *testing.T) {
	env := newTestEnv(t)
	env.putUser(subscription.Record{
		Plan:                 subscription.PlanFree,
		Status:               subscription.StatusCancelled,
		StripeSubscriptionID: testSubscriptionID,
	}, 0)
	env.api.putSubscription(newTestSubscription(testSubscriptionID, testUserID, stripe.SubscriptionStatusCanceled, testPriceProMonthly))

	result, err := env.provider.Reconcile(context.Background(), testUserID)

	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Zero(t, env.store.ApplyCalls())
}

func TestReconcile_CorrectsDrift(t *testing.T) {
	tests := []struct {
		name       string
		stored     subscription.Record
		liveStatus stripe.SubscriptionStatus
		livePrice  string
		wantPlan   subscription.Plan
		wantStatus subscription.Status
	}{
		{
			name: "missed upgrade",
			stored: subscription.Record{Plan: subscription.PlanProfessional, Status: subscription.StatusActive,
				StripeSubscriptionID: testSubscriptionID},
			liveStatus: stripe.SubscriptionStatusActive,
			livePrice:  testPriceTeamMonthly,
			wantPlan:   subscription.PlanTeam,
			wantStatus: subscription.StatusActive,
		},
		{
			name: "missed cancellation",
			stored: subscription.Record{Plan: subscription.PlanTeam, Status: subscription.StatusActive,
				StripeSubscriptionID: testSubscriptionID},
			liveStatus: stripe.SubscriptionStatusCanceled,
			livePrice:  testPriceTeamMonthly,
			wantPlan:   subscription.PlanFree,
			wantStatus: subscription.StatusCanceled,
		},
		{
			name: "past due loses paid plan",
			stored: subscription.Record{Plan: subscription.PlanProfessional, Status: subscription.StatusActive,
				StripeSubscriptionID: testSubscriptionID},
			liveStatus: stripe.SubscriptionStatusPastDue,
			livePrice:  testPriceProMonthly,
			wantPlan:   subscription.PlanFree,
			wantStatus: subscription.StatusPastDue,
		},
		{
			name: "missed checkout recorded as free",
			stored: subscription.Record{Plan: subscription.PlanFree, Status: subscription.StatusIncomplete,
				StripeSubscriptionID: testSubscriptionID},
			liveStatus: stripe.SubscriptionStatusActive,
			livePrice:  testPriceProYearly,
			wantPlan:   subscription.PlanProfessional,
			wantStatus: subscription.StatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.putUser(tt.stored, 42)
			env.api.putSubscription(newTestSubscription(testSubscriptionID, testUserID, tt.liveStatus, tt.livePrice))

			result, err := env.provider.Reconcile(context.Background(), testUserID)

			require.NoError(t, err)
			assert.True(t, result.Changed)
			assert.Equal(t, tt.stored.Plan, result.OldPlan)
			assert.Equal(t, tt.wantPlan, result.Plan)
			assert.Equal(t, tt.wantStatus, result.Status)

			user := env.user(t)
			assert.Equal(t, tt.wantPlan, user.Subscription.Plan)
			assert.Equal(t, tt.wantStatus, user.Subscription.Status)
			assert.Equal(t, 42, user.Credits.Available, "reconciliation never grants credits")
			assert.Equal(t, 42, user.Credits.Lifetime)

			entries, err := env.store.ListTransitions(context.Background(), testUserID, 0)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, subscription.SourceReconcile, entries[0].Source)
			assert.Zero(t, entries[0].CreditsGranted)
		})
	}
}

func TestReconcile_Failures(t *testing.T) {
	t.Run("stripe error", func(t *testing.T) {
		env := newTestEnv(t)
		env.putUser(subscription.Record{Plan: subscription.PlanProfessional, StripeSubscriptionID: testSubscriptionID}, 0)
		env.api.getErr = errors.New("stripe unavailable")

		_, err := env.provider.Reconcile(context.Background(), testUserID)
		assert.Error(t, err)
		assert.Zero(t, env.store.ApplyCalls())
	})

	t.Run("unknown price on active subscription", func(t *testing.T) {
		env := newTestEnv(t)
		env.putUser(subscription.Record{Plan: subscription.PlanProfessional, StripeSubscriptionID: testSubscriptionID}, 0)
		env.api.putSubscription(newTestSubscription(testSubscriptionID, testUserID, stripe.SubscriptionStatusActive, "price_unknown"))

		_, err := env.provider.Reconcile(context.Background(), testUserID)
		assert.ErrorIs(t, err, subscription.ErrUnknownPrice)
		assert.Zero(t, env.store.ApplyCalls())
		assert.Equal(t, subscription.PlanProfessional, env.user(t).Subscription.Plan)
	})
}

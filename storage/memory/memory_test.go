package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

func seededStorage() *Storage {
	s := New()
	s.PutUser(&subscription.User{
		ID:    "u1",
		Email: "ada@example.com",
		Subscription: subscription.Record{
			Plan:             subscription.PlanProfessional,
			Status:           subscription.StatusActive,
			StripeCustomerID: "cus_1",
		},
		Credits: subscription.Credits{
			Available: 10,
			Lifetime:  40,
			Expirations: []subscription.CreditExpiration{
				{Amount: 30, Source: "referral"},
			},
		},
		Settings: subscription.Settings{AutoAppendReferral: true},
	})
	return s
}

func teamActivation(subID string, policy subscription.GrantPolicy) *subscription.RecordUpdate {
	plan := subscription.PlanTeam
	status := subscription.StatusActive
	referral := false
	return &subscription.RecordUpdate{
		Plan:               &plan,
		Status:             &status,
		SubscriptionID:     &subID,
		CreditGrant:        2000,
		GrantPolicy:        policy,
		AutoAppendReferral: &referral,
		UpdatedAt:          time.Now().UTC(),
	}
}

func TestStorage_Lookups(t *testing.T) {
	s := seededStorage()
	ctx := context.Background()

	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)

	user, err = s.FindUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	user, err = s.FindUserByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = s.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
	_, err = s.FindUserByCustomerID(ctx, "cus_missing")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
}

func TestStorage_ReturnsCopies(t *testing.T) {
	s := seededStorage()
	ctx := context.Background()

	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	user.Credits.Available = 999
	user.Credits.Expirations[0].Amount = 0

	again, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, again.Credits.Available)
	assert.Equal(t, 30, again.Credits.Expirations[0].Amount)
}

func TestStorage_ApplyUpdateGrantsOncePerSubscription(t *testing.T) {
	s := seededStorage()
	ctx := context.Background()

	result, err := s.ApplyUpdate(ctx, "u1", teamActivation("sub_1", subscription.GrantOncePerSubscription))
	require.NoError(t, err)
	assert.Equal(t, 2000, result.CreditsGranted)
	assert.Equal(t, subscription.PlanProfessional, result.Previous.Plan)
	assert.Equal(t, subscription.PlanTeam, result.Current.Plan)

	result, err = s.ApplyUpdate(ctx, "u1", teamActivation("sub_1", subscription.GrantOncePerSubscription))
	require.NoError(t, err)
	assert.Zero(t, result.CreditsGranted)

	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2010, user.Credits.Available)
	assert.Equal(t, 2040, user.Credits.Lifetime)
	assert.Len(t, user.Credits.Expirations, 1, "subscription grants never touch the expiration ledger")
	assert.False(t, user.Settings.AutoAppendReferral)
	assert.Equal(t, "cus_1", user.Subscription.StripeCustomerID)
}

func TestStorage_ApplyUpdateGrantAlways(t *testing.T) {
	s := seededStorage()
	ctx := context.Background()

	_, err := s.ApplyUpdate(ctx, "u1", teamActivation("sub_1", subscription.GrantOncePerSubscription))
	require.NoError(t, err)
	result, err := s.ApplyUpdate(ctx, "u1", teamActivation("sub_1", subscription.GrantAlways))
	require.NoError(t, err)
	assert.Equal(t, 2000, result.CreditsGranted)

	user, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, 4010, user.Credits.Available)
}

func TestStorage_ApplyUpdateConcurrentDeliveries(t *testing.T) {
	s := seededStorage()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ApplyUpdate(ctx, "u1", teamActivation("sub_1", subscription.GrantOncePerSubscription))
		}()
	}
	wg.Wait()

	user, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, 2010, user.Credits.Available)
	assert.Equal(t, 20, s.ApplyCalls())
}

func TestStorage_ApplyUpdateErrors(t *testing.T) {
	s := seededStorage()
	ctx := context.Background()

	_, err := s.ApplyUpdate(ctx, "missing", subscription.PaymentFailure(time.Now()))
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)

	_, err = s.ApplyUpdate(ctx, "u1", nil)
	assert.ErrorIs(t, err, subscription.ErrInvalidUpdate)
	_, err = s.ApplyUpdate(ctx, "u1", &subscription.RecordUpdate{})
	assert.ErrorIs(t, err, subscription.ErrInvalidUpdate)
}

func TestStorage_EventLedger(t *testing.T) {
	s := New()
	ctx := context.Background()

	seen, err := s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkProcessed(ctx, "evt_1"))
	seen, err = s.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	assert.Error(t, s.MarkProcessed(ctx, ""))
}

func TestStorage_EventLedgerExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s := New()
	s.now = func() time.Time { return now }
	s.SetEventTTL(72 * time.Hour)

	require.NoError(t, s.MarkProcessed(ctx, "evt_old"))

	now = now.Add(71 * time.Hour)
	seen, err := s.Seen(ctx, "evt_old")
	require.NoError(t, err)
	assert.True(t, seen)

	now = now.Add(time.Hour)
	seen, err = s.Seen(ctx, "evt_old")
	require.NoError(t, err)
	assert.False(t, seen, "expired ids are forgotten")

	// The next write sweeps expired ids out of memory
	require.NoError(t, s.MarkProcessed(ctx, "evt_new"))
	assert.Equal(t, 1, s.EventCount())

	seen, err = s.Seen(ctx, "evt_new")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestStorage_AuditTrail(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, plan := range []subscription.Plan{subscription.PlanProfessional, subscription.PlanTeam, subscription.PlanFree} {
		require.NoError(t, s.LogTransition(ctx, &subscription.AuditEntry{
			UserID:    "u1",
			Source:    subscription.SourceWebhook,
			NewPlan:   plan,
			Timestamp: time.Unix(int64(1000+i), 0),
		}))
	}
	require.NoError(t, s.LogTransition(ctx, &subscription.AuditEntry{UserID: "u2", NewPlan: subscription.PlanTeam}))

	entries, err := s.ListTransitions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, subscription.PlanFree, entries[0].NewPlan)
	assert.Equal(t, subscription.PlanTeam, entries[1].NewPlan)

	entries, err = s.ListTransitions(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	assert.Error(t, s.LogTransition(ctx, &subscription.AuditEntry{}))
}

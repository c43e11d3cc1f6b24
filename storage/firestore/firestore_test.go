package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

const testProjectID = "test-project"

// setupFirestoreClient connects to the emulator named by FIRESTORE_EMULATOR_HOST
func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping Firestore emulator tests")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testCollection(testName string) string {
	return fmt.Sprintf("test_users_%s_%d", testName, time.Now().UnixNano())
}

func cleanupCollection(t *testing.T, client *firestore.Client, coll string) {
	t.Helper()
	ctx := context.Background()

	iter := client.Collection(coll).Documents(ctx)
	bw := client.BulkWriter(ctx)
	for {
		doc, err := iter.Next()
		if err != nil {
			break
		}
		_, _ = bw.Delete(doc.Ref)
	}
	bw.End()
}

func seedUser(t *testing.T, client *firestore.Client, coll, id string, data map[string]interface{}) {
	t.Helper()
	_, err := client.Collection(coll).Doc(id).Set(context.Background(), data)
	require.NoError(t, err)
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestUserFromData(t *testing.T) {
	periodEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	data := map[string]interface{}{
		"email":     "a@example.com",
		"updatedAt": periodEnd,
		"subscription": map[string]interface{}{
			"plan":                 "team",
			"status":               "active",
			"stripeCustomerId":     "cus_1",
			"stripeSubscriptionId": "sub_1",
			"currentPeriodEnd":     periodEnd.Unix(),
			"cancelAtPeriodEnd":    true,
		},
		"credits": map[string]interface{}{
			"available": int64(40),
			"lifetime":  float64(90),
			"creditExpirations": []interface{}{
				map[string]interface{}{"amount": int64(10), "source": "referral", "expiresAt": periodEnd},
				"garbage",
			},
		},
		"settings": map[string]interface{}{"autoAppendReferral": true},
	}

	user := userFromData("u1", data)

	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, subscription.PlanTeam, user.Subscription.Plan)
	assert.Equal(t, subscription.StatusActive, user.Subscription.Status)
	assert.Equal(t, "cus_1", user.Subscription.StripeCustomerID)
	assert.Equal(t, "sub_1", user.Subscription.StripeSubscriptionID)
	assert.True(t, user.Subscription.CurrentPeriodEnd.Equal(periodEnd))
	assert.True(t, user.Subscription.CancelAtPeriodEnd)
	assert.Equal(t, 40, user.Credits.Available)
	assert.Equal(t, 90, user.Credits.Lifetime)
	require.Len(t, user.Credits.Expirations, 1)
	assert.Equal(t, 10, user.Credits.Expirations[0].Amount)
	assert.Equal(t, "referral", user.Credits.Expirations[0].Source)
	assert.True(t, user.Settings.AutoAppendReferral)
}

func TestUserFromData_MissingSubscription(t *testing.T) {
	user := userFromData("u1", map[string]interface{}{"email": "x@example.com"})

	assert.False(t, user.Subscription.HasSubscription())
	assert.Equal(t, subscription.PlanFree, user.Subscription.EffectivePlan())
	assert.Zero(t, user.Credits.Available)
}

func TestFieldUpdates(t *testing.T) {
	plan := subscription.PlanProfessional
	st := subscription.StatusActive
	subID := "sub_1"
	referral := false
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	update := &subscription.RecordUpdate{
		Plan:               &plan,
		Status:             &st,
		SubscriptionID:     &subID,
		AutoAppendReferral: &referral,
		CreditGrant:        500,
		UpdatedAt:          now,
	}

	paths := map[string]interface{}{}
	for _, u := range fieldUpdates(update, 500) {
		paths[u.Path] = u.Value
	}

	assert.Equal(t, "professional", paths["subscription.plan"])
	assert.Equal(t, "active", paths["subscription.status"])
	assert.Equal(t, "sub_1", paths["subscription.stripeSubscriptionId"])
	assert.Equal(t, false, paths["settings.autoAppendReferral"])
	assert.Equal(t, firestore.Increment(500), paths["credits.available"])
	assert.Equal(t, firestore.Increment(500), paths["credits.lifetime"])
	assert.Equal(t, now, paths["updatedAt"])
	assert.NotContains(t, paths, "subscription.stripeCustomerId")
}

func TestFieldUpdates_NoGrant(t *testing.T) {
	st := subscription.StatusPastDue
	update := &subscription.RecordUpdate{Status: &st}

	paths := map[string]interface{}{}
	for _, u := range fieldUpdates(update, 0) {
		paths[u.Path] = u.Value
	}

	assert.NotContains(t, paths, "credits.available")
	assert.NotContains(t, paths, "subscription.plan")
	assert.Contains(t, paths, "updatedAt")
}

func TestStorage_Lookups(t *testing.T) {
	client := setupFirestoreClient(t)
	coll := testCollection("lookups")
	defer cleanupCollection(t, client, coll)

	seedUser(t, client, coll, "u1", map[string]interface{}{
		"email": "one@example.com",
		"subscription": map[string]interface{}{
			"plan": "free", "stripeCustomerId": "cus_1",
		},
	})

	store, err := New(client, Config{UsersCollection: coll})
	require.NoError(t, err)
	ctx := context.Background()

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "one@example.com", user.Email)

	user, err = store.FindUserByEmail(ctx, "one@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	user, err = store.FindUserByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)

	_, err = store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)

	_, err = store.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
}

func TestStorage_ApplyUpdate_GrantOnce(t *testing.T) {
	client := setupFirestoreClient(t)
	coll := testCollection("grant")
	defer cleanupCollection(t, client, coll)

	seedUser(t, client, coll, "u1", map[string]interface{}{
		"email":   "one@example.com",
		"credits": map[string]interface{}{"available": 5, "lifetime": 5},
	})

	store, err := New(client, Config{UsersCollection: coll})
	require.NoError(t, err)
	ctx := context.Background()

	plan := subscription.PlanProfessional
	st := subscription.StatusActive
	subID := "sub_1"
	update := &subscription.RecordUpdate{
		Plan: &plan, Status: &st, SubscriptionID: &subID,
		CreditGrant: 500, GrantPolicy: subscription.GrantOncePerSubscription,
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.ApplyUpdate(ctx, "u1", update)
		}()
	}
	wg.Wait()

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscription.PlanProfessional, user.Subscription.Plan)
	assert.Equal(t, 505, user.Credits.Available)
	assert.Equal(t, 505, user.Credits.Lifetime)
}

func TestStorage_ApplyUpdate_Errors(t *testing.T) {
	client := setupFirestoreClient(t)
	coll := testCollection("errors")
	defer cleanupCollection(t, client, coll)

	store, err := New(client, Config{UsersCollection: coll})
	require.NoError(t, err)

	st := subscription.StatusPastDue
	_, err = store.ApplyUpdate(context.Background(), "ghost", &subscription.RecordUpdate{Status: &st})
	assert.True(t, errors.Is(err, subscription.ErrUserNotFound))

	_, err = store.ApplyUpdate(context.Background(), "ghost", &subscription.RecordUpdate{})
	assert.ErrorIs(t, err, subscription.ErrInvalidUpdate)
}

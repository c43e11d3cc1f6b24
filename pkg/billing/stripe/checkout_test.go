package stripe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/subscription"
)

func TestCheckoutURL_NewCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.putUser(subscription.Record{}, 0)

	url, err := env.provider.CheckoutURL(context.Background(), testUserID,
		subscription.PlanProfessional, subscription.IntervalYearly,
		"https://app.example.com/success", "https://app.example.com/cancel")

	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test", url)

	params := env.api.checkoutParams
	require.NotNil(t, params)
	assert.Equal(t, string(stripe.CheckoutSessionModeSubscription), *params.Mode)
	require.Len(t, params.LineItems, 1)
	assert.Equal(t, testPriceProYearly, *params.LineItems[0].Price)
	assert.Equal(t, testUserID, params.Metadata[metadataUserIDKey])
	assert.Equal(t, testUserID, params.SubscriptionData.Metadata[metadataUserIDKey])
	assert.Equal(t, testUserID, *params.ClientReferenceID)
	assert.Nil(t, params.Customer)
	assert.Equal(t, testEmail, *params.CustomerEmail)
}

func TestCheckoutURL_ExistingCustomer(t *testing.T) {
	env := newTestEnv(t)
	env.putUser(subscription.Record{StripeCustomerID: testCustomerID}, 0)

	_, err := env.provider.CheckoutURL(context.Background(), testUserID,
		subscription.PlanTeam, subscription.IntervalMonthly, "https://s", "https://c")

	require.NoError(t, err)
	params := env.api.checkoutParams
	assert.Equal(t, testCustomerID, *params.Customer)
	assert.Nil(t, params.CustomerEmail)
	assert.Equal(t, testPriceTeamMonthly, *params.LineItems[0].Price)
}

func TestCheckoutURL_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.provider.CheckoutURL(context.Background(), testUserID,
		subscription.PlanFree, subscription.IntervalMonthly, "https://s", "https://c")
	assert.ErrorIs(t, err, billing.ErrPlanNotConfigured)

	_, err = env.provider.CheckoutURL(context.Background(), testUserID,
		subscription.PlanTeam, subscription.IntervalMonthly, "https://s", "https://c")
	assert.ErrorIs(t, err, subscription.ErrUserNotFound)
	assert.Nil(t, env.api.checkoutParams)
}

func TestPortalURL(t *testing.T) {
	env := newTestEnv(t)
	env.putUser(subscription.Record{}, 0)

	_, err := env.provider.PortalURL(context.Background(), testUserID, "https://app.example.com/settings")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	env.putUser(subscription.Record{StripeCustomerID: testCustomerID}, 0)
	url, err := env.provider.PortalURL(context.Background(), testUserID, "https://app.example.com/settings")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/test", url)
	assert.Equal(t, testCustomerID, *env.api.portalParams.Customer)
	assert.Equal(t, "https://app.example.com/settings", *env.api.portalParams.ReturnURL)
}

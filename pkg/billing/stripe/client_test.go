package stripe

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

func TestSnapshotFromSubscription(t *testing.T) {
	sub := newTestSubscription(testSubscriptionID, testUserID, stripe.SubscriptionStatusTrialing,
		testPriceProMonthly, testPriceTeamMonthly)
	sub.CancelAtPeriodEnd = true
	sub.Items.Data[1].CurrentPeriodEnd = testPeriodEnd + 3600

	snap := snapshotFromSubscription(sub)

	assert.Equal(t, testSubscriptionID, snap.ID)
	assert.Equal(t, testCustomerID, snap.CustomerID)
	assert.Equal(t, testUserID, snap.UserID)
	assert.Equal(t, subscription.StatusTrialing, snap.Status)
	assert.Equal(t, []string{testPriceProMonthly, testPriceTeamMonthly}, snap.PriceIDs)
	assert.Equal(t, time.Unix(testPeriodEnd+3600, 0).UTC(), snap.CurrentPeriodEnd)
	assert.True(t, snap.CancelAtPeriodEnd)
}

func TestSnapshotFromSubscription_Sparse(t *testing.T) {
	snap := snapshotFromSubscription(&stripe.Subscription{ID: "sub_bare", Status: stripe.SubscriptionStatusActive})

	assert.Empty(t, snap.CustomerID)
	assert.Empty(t, snap.UserID)
	assert.Empty(t, snap.PriceIDs)
	assert.True(t, snap.CurrentPeriodEnd.IsZero())
}

func TestInvoiceSubscriptionID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "string", raw: `{"subscription":"sub_1"}`, want: "sub_1"},
		{name: "expanded", raw: `{"subscription":{"id":"sub_2","object":"subscription"}}`, want: "sub_2"},
		{name: "parent", raw: `{"parent":{"subscription_details":{"subscription":"sub_3"}}}`, want: "sub_3"},
		{name: "null subscription falls back to parent",
			raw: `{"subscription":null,"parent":{"subscription_details":{"subscription":"sub_4"}}}`, want: "sub_4"},
		{name: "none", raw: `{"id":"in_1"}`, want: ""},
		{name: "invalid", raw: `not json`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, invoiceSubscriptionID(json.RawMessage(tt.raw)))
		})
	}
}

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v83"

	httpmw "github.com/mihaimyh/threadifier/middleware/http"
	"github.com/mihaimyh/threadifier/pkg/api"
	"github.com/mihaimyh/threadifier/pkg/auth"
	"github.com/mihaimyh/threadifier/pkg/billing"
	prommetrics "github.com/mihaimyh/threadifier/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/threadifier/pkg/billing/stripe"
	"github.com/mihaimyh/threadifier/pkg/subscription"
	"github.com/mihaimyh/threadifier/storage/memory"
)

// noAPI fails every Stripe call; routes under test never reach Stripe
type noAPI struct{ stripe.API }

func (noAPI) GetSubscription(context.Context, string) (*stripego.Subscription, error) {
	return nil, &stripego.Error{HTTPStatusCode: 500, Msg: "unavailable"}
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.Storage) {
	t.Helper()
	store := memory.New()
	prices, err := subscription.NewPriceTable(subscription.PriceConfig{TeamMonthly: []string{"price_team_m"}}, nil)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Store:   store,
			Prices:  prices,
			Ledger:  store,
			Audit:   store,
			Metrics: prommetrics.NewMetrics(registry, "threadifier"),
			Now:     func() time.Time { return time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) },
		},
		StripeWebhookSecret: "whsec_test",
		API:                 noAPI{},
	})
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Config{
		Reconciler: provider,
		Users:      store,
		Sessions:   provider,
		GetUserID:  httpmw.UserID,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(routes{
		Webhooks: provider,
		API:      handler,
		Verifier: auth.StaticVerifier{"token-1": "user-1"},
		Gatherer: registry,
		Logger:   zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRouter_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_APIRequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/subscription/refresh"},
		{http.MethodGet, "/api/subscription"},
		{http.MethodPost, "/api/billing/checkout"},
		{http.MethodPost, "/api/billing/portal"},
	} {
		resp := do(t, route.method, srv.URL+route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, route.path)

		resp = do(t, route.method, srv.URL+route.path, "wrong", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, route.path)
	}
}

func TestRouter_RefreshWithoutSubscription(t *testing.T) {
	srv, store := newTestServer(t)
	store.PutUser(&subscription.User{ID: "user-1"})

	resp := do(t, http.MethodPost, srv.URL+"/api/subscription/refresh", "token-1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_RefreshFailureIsGeneric(t *testing.T) {
	srv, store := newTestServer(t)
	store.PutUser(&subscription.User{ID: "user-1", Subscription: subscription.Record{StripeSubscriptionID: "sub_1"}})

	resp := do(t, http.MethodPost, srv.URL+"/api/subscription/refresh", "token-1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRouter_WebhookIsPublicButSigned(t *testing.T) {
	srv, store := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/webhooks/stripe", "", `{"id":"evt_1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, store.Calls())
}

func TestRouter_Metrics(t *testing.T) {
	srv, store := newTestServer(t)
	store.PutUser(&subscription.User{ID: "user-1"})
	do(t, http.MethodPost, srv.URL+"/api/subscription/refresh", "token-1", "")

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `threadifier_billing_reconciliations_total{outcome="no_subscription",provider="stripe"} 1`)
}

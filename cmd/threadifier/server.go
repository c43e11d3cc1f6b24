package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpmw "github.com/mihaimyh/threadifier/middleware/http"
	"github.com/mihaimyh/threadifier/pkg/api"
	"github.com/mihaimyh/threadifier/pkg/auth"
	"github.com/mihaimyh/threadifier/pkg/billing"
)

// routes bundles what the router serves
type routes struct {
	Webhooks billing.Provider
	API      *api.Handler
	Verifier auth.Verifier
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if rt.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Handle("/webhooks/"+rt.Webhooks.Name(), rt.Webhooks.WebhookHandler())

		r.Group(func(r chi.Router) {
			r.Use(httpmw.Middleware(httpmw.Config{Verifier: rt.Verifier}))
			r.Post("/subscription/refresh", rt.API.Refresh)
			r.Get("/subscription", rt.API.GetSubscription)
			r.Post("/billing/checkout", rt.API.CreateCheckout)
			r.Post("/billing/portal", rt.API.CreatePortal)
		})
	})

	return r
}

// requestLogger logs one line per request
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

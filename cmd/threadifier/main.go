// Command threadifier serves the Stripe webhook receiver and the subscription API
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/threadifier/internal/app"
	httpmw "github.com/mihaimyh/threadifier/middleware/http"
	"github.com/mihaimyh/threadifier/pkg/api"
	"github.com/mihaimyh/threadifier/pkg/auth"
	"github.com/mihaimyh/threadifier/pkg/billing"
	prommetrics "github.com/mihaimyh/threadifier/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/threadifier/pkg/billing/stripe"
	"github.com/mihaimyh/threadifier/pkg/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	fallback := zerolog.New(os.Stderr)
	if err := config.LoadDotEnv(); err != nil {
		fallback.Warn().Err(err).Msg("ignoring .env")
	}

	cfg, err := config.Load()
	if err != nil {
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Store:   deps.Store,
			Prices:  deps.Prices,
			Ledger:  deps.Ledger,
			Audit:   deps.Audit,
			Logger:  deps.Logger,
			Metrics: prommetrics.NewMetrics(registry, "threadifier"),
		},
		StripeAPIKey:        cfg.StripeSecretKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		BreakerThreshold:    5,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewFirebaseVerifier(auth.Config{ProjectID: cfg.FirebaseProjectID})
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Config{
		Reconciler: provider,
		Users:      deps.Store,
		Sessions:   provider,
		GetUserID:  httpmw.UserID,
		AppBaseURL: cfg.AppBaseURL,
		Logger:     deps.Logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ServerAddress,
		Handler: newRouter(routes{
			Webhooks: provider,
			API:      handler,
			Verifier: verifier,
			Gatherer: registry,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerAddress).Msg("threadifier starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

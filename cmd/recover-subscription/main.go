// Command recover-subscription is the operator tool for repairing subscription
// state after missed Stripe webhooks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/threadifier/internal/app"
	"github.com/mihaimyh/threadifier/pkg/billing"
	"github.com/mihaimyh/threadifier/pkg/billing/stripe"
	"github.com/mihaimyh/threadifier/pkg/config"
)

func main() {
	fallback := zerolog.New(os.Stderr)
	if err := config.LoadDotEnv(); err != nil {
		fallback.Warn().Err(err).Msg("ignoring .env")
	}

	cfg, err := config.Load()
	if err != nil {
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.ValidateRecovery(); err != nil {
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	// Operator output goes to stdout; logs stay on stderr and default to warnings
	level := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	logger := app.NewLogger(level, "console", os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer deps.Close()

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Store:  deps.Store,
			Prices: deps.Prices,
			Audit:  deps.Audit,
			Logger: deps.Logger,
		},
		StripeAPIKey: cfg.StripeSecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Stripe provider")
	}

	if err := newSession(provider, os.Stdin, os.Stdout, true).run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("session ended with error")
		deps.Close()
		os.Exit(1)
	}
}

// Package app builds the storage stack and logger shared by the server and the recovery tool
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/mihaimyh/threadifier/pkg/config"
	"github.com/mihaimyh/threadifier/pkg/subscription"
	zerologadapter "github.com/mihaimyh/threadifier/pkg/subscription/logger/zerolog"
	firestorestore "github.com/mihaimyh/threadifier/storage/firestore"
	"github.com/mihaimyh/threadifier/storage/memory"
	"github.com/mihaimyh/threadifier/storage/postgres"
	redisledger "github.com/mihaimyh/threadifier/storage/redis"
	"github.com/mihaimyh/threadifier/storage/tiered"
)

// NewLogger builds a zerolog logger from a level name and a format ("json" or "console")
func NewLogger(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Deps holds the storage stack. Ledger and Audit are never nil on a Deps
// built by Open; Audit falls back to memory when no database is configured.
type Deps struct {
	Store  subscription.UserStore
	Ledger subscription.EventLedger
	Audit  subscription.AuditLogger
	Prices *subscription.PriceTable
	Logger subscription.Logger

	closers []func()
}

// Open connects to Firestore and the optional Redis ledger and PostgreSQL audit log
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Deps, error) {
	var opts []option.ClientOption
	if cfg.GoogleCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.FirebaseProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	store, err := firestorestore.New(client, firestorestore.Config{UsersCollection: cfg.UsersCollection})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	deps, err := Wire(ctx, cfg, store, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	deps.closers = append(deps.closers, func() { _ = client.Close() })
	return deps, nil
}

// Wire builds the ledger, audit log and price table around an existing user store
func Wire(ctx context.Context, cfg config.Config, store subscription.UserStore, logger zerolog.Logger) (*Deps, error) {
	prices, err := cfg.PriceTable()
	if err != nil {
		return nil, fmt.Errorf("invalid price configuration: %w", err)
	}

	deps := &Deps{
		Store:  store,
		Prices: prices,
		Logger: zerologadapter.NewLogger(logger),
	}
	ledgerConfig := redisledger.DefaultConfig()
	hot := memory.New()
	hot.SetEventTTL(ledgerConfig.EventTTL)

	deps.Ledger = hot
	if cfg.RedisURL != "" {
		cold, err := redisledger.NewFromURL(cfg.RedisURL, ledgerConfig)
		if err != nil {
			return nil, err
		}
		if err := cold.Ping(ctx); err != nil {
			_ = cold.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		deps.closers = append(deps.closers, func() { _ = cold.Close() })

		ledger, err := tiered.NewLedger(tiered.LedgerConfig{Hot: hot, Cold: cold})
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Ledger = ledger
		logger.Info().Msg("processed-event ledger: redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; processed-event ledger is local to this process")
	}

	deps.Audit = hot
	if cfg.DatabaseURL != "" {
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		pgConfig.CleanupEnabled = true
		cold, err := postgres.New(ctx, pgConfig)
		if err != nil {
			deps.Close()
			return nil, err
		}

		audit, err := tiered.NewAuditLog(tiered.AuditConfig{
			Hot:             hot,
			Cold:            cold,
			AsyncColdWrites: true,
			AsyncErrorHandler: func(err error) {
				logger.Error().Err(err).Msg("failed to persist transition")
			},
		})
		if err != nil {
			cold.Close()
			deps.Close()
			return nil, err
		}
		// Drain the audit queue before closing the pool
		deps.closers = append(deps.closers, cold.Close, func() { _ = audit.Close() })
		deps.Audit = audit
		logger.Info().Msg("transition audit log: postgres")
	}

	return deps, nil
}

// Close releases connections in reverse order of creation
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

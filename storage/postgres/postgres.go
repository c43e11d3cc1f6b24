// Package postgres provides a PostgreSQL implementation of subscription.AuditLogger.
// Every applied transition is appended to the subscription_transitions table;
// an optional background worker prunes rows older than the retention period.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

var _ subscription.AuditLogger = (*AuditLog)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS subscription_transitions (
	id              BIGSERIAL PRIMARY KEY,
	user_id         TEXT        NOT NULL,
	source          TEXT        NOT NULL,
	event_id        TEXT        NOT NULL DEFAULT '',
	event_type      TEXT        NOT NULL DEFAULT '',
	subscription_id TEXT        NOT NULL DEFAULT '',
	old_plan        TEXT        NOT NULL DEFAULT '',
	new_plan        TEXT        NOT NULL DEFAULT '',
	status          TEXT        NOT NULL DEFAULT '',
	credits_granted INTEGER     NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscription_transitions_user_created_idx
	ON subscription_transitions (user_id, created_at DESC);
`

// AuditLog implements subscription.AuditLogger using PostgreSQL
type AuditLog struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL audit configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// EnsureSchema creates the table and index on startup when missing
	EnsureSchema bool

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	Retention       time.Duration // Age after which transitions are deleted
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		EnsureSchema:    true,
		CleanupEnabled:  false,
		CleanupInterval: 24 * time.Hour,
		Retention:       365 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL audit logger
func New(ctx context.Context, config Config) (*AuditLog, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.EnsureSchema {
		if _, err := pool.Exec(ctx, schemaSQL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create audit schema: %w", err)
		}
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	a := &AuditLog{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled && config.CleanupInterval > 0 && config.Retention > 0 {
		go a.startCleanup(cleanupCtx)
	}

	return a, nil
}

// Close closes the connection pool and stops background cleanup
func (a *AuditLog) Close() {
	if a.stopCleanup != nil {
		a.stopCleanup()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (a *AuditLog) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// LogTransition implements subscription.AuditLogger
func (a *AuditLog) LogTransition(ctx context.Context, entry *subscription.AuditEntry) error {
	if entry == nil || entry.UserID == "" {
		return fmt.Errorf("invalid audit entry")
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var id int64
	err := a.pool.QueryRow(ctx,
		`INSERT INTO subscription_transitions
			(user_id, source, event_id, event_type, subscription_id, old_plan, new_plan, status, credits_granted, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
		entry.UserID, entry.Source, entry.EventID, entry.EventType, entry.SubscriptionID,
		string(entry.OldPlan), string(entry.NewPlan), string(entry.Status), entry.CreditsGranted, ts,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to log transition: %w", err)
	}

	entry.ID = strconv.FormatInt(id, 10)
	entry.Timestamp = ts
	return nil
}

// ListTransitions implements subscription.AuditLogger
func (a *AuditLog) ListTransitions(ctx context.Context, userID string, limit int) ([]*subscription.AuditEntry, error) {
	if limit <= 0 {
		limit = subscription.DefaultAuditListLimit
	}

	rows, err := a.pool.Query(ctx,
		`SELECT id, user_id, source, event_id, event_type, subscription_id, old_plan, new_plan, status, credits_granted, created_at
			FROM subscription_transitions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var entries []*subscription.AuditEntry
	for rows.Next() {
		var (
			e                          subscription.AuditEntry
			id                         int64
			oldPlan, newPlan, statusID string
		)
		if err := rows.Scan(&id, &e.UserID, &e.Source, &e.EventID, &e.EventType, &e.SubscriptionID,
			&oldPlan, &newPlan, &statusID, &e.CreditsGranted, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		e.ID = strconv.FormatInt(id, 10)
		e.OldPlan = subscription.Plan(oldPlan)
		e.NewPlan = subscription.Plan(newPlan)
		e.Status = subscription.Status(statusID)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return entries, nil
}

func (a *AuditLog) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(a.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = a.Cleanup(ctx)
		}
	}
}

// Cleanup deletes transitions older than the retention period and reports how many were removed
func (a *AuditLog) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.config.Retention)
	tag, err := a.pool.Exec(ctx, `DELETE FROM subscription_transitions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup transitions: %w", err)
	}
	return tag.RowsAffected(), nil
}

package billing

import (
	"time"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Config defines the configuration shared by all providers
type Config struct {
	// Store persists user entitlement documents (required)
	Store subscription.UserStore

	// Prices maps provider price ids to plans and holds per-plan credit grants (required)
	Prices *subscription.PriceTable

	// Ledger optionally deduplicates webhook deliveries by event id
	Ledger subscription.EventLedger

	// Audit optionally records every applied transition
	Audit subscription.AuditLogger

	// Logger receives one line per decision. Defaults to NoopLogger.
	Logger subscription.Logger

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics(reg, namespace) for Prometheus metrics.
	Metrics Metrics

	// Now returns the current time. Defaults to time.Now in UTC.
	Now func() time.Time
}

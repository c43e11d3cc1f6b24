// Package redis provides a Redis implementation of subscription.EventLedger.
// Processed webhook event ids are kept as expiring keys so redeliveries inside
// the retention window are acknowledged without touching user documents.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

const (
	defaultKeyPrefix = "threadifier:"
	defaultEventTTL  = 72 * time.Hour
)

var _ subscription.EventLedger = (*Ledger)(nil)

// Ledger implements subscription.EventLedger using Redis
type Ledger struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis ledger configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "threadifier:")
	KeyPrefix string

	// EventTTL is how long a processed event id is remembered (default: 72h).
	// Stripe retries failed deliveries for up to three days.
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: defaultKeyPrefix,
		EventTTL:  defaultEventTTL,
	}
}

// New creates a new Redis ledger
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Ledger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if config.EventTTL <= 0 {
		config.EventTTL = defaultEventTTL
	}

	return &Ledger{client: client, config: config}, nil
}

// NewFromURL parses a redis:// URL and creates a ledger over a new client
func NewFromURL(url string, config Config) (*Ledger, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return New(redis.NewClient(opts), config)
}

// Ping checks connectivity
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying client
func (l *Ledger) Close() error {
	return l.client.Close()
}

// Seen implements subscription.EventLedger
func (l *Ledger) Seen(ctx context.Context, eventID string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, nil
	}
	n, err := l.client.Exists(ctx, l.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: ledger lookup: %v", subscription.ErrStorageUnavailable, err)
	}
	return n > 0, nil
}

// MarkProcessed implements subscription.EventLedger. Marking an already
// recorded id keeps the original expiry.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	processedAt := time.Now().UTC().Format(time.RFC3339)
	if err := l.client.SetNX(ctx, l.eventKey(eventID), processedAt, l.config.EventTTL).Err(); err != nil {
		return fmt.Errorf("%w: ledger write: %v", subscription.ErrStorageUnavailable, err)
	}
	return nil
}

func (l *Ledger) eventKey(eventID string) string {
	return l.config.KeyPrefix + "event:" + eventID
}

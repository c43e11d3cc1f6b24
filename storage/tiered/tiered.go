// Package tiered provides Hot/Cold adapters that pair fast ephemeral storage
// (Hot) with durable storage (Cold) for the event ledger and the audit log.
//
//   - Ledger: read-through (Hot → Cold → populate Hot), write-through (Cold → Hot)
//   - AuditLog: Hot-primary with optional asynchronous Cold writes
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// LedgerConfig configures the tiered event ledger
type LedgerConfig struct {
	// Hot is the L1 ledger (e.g., Memory) consulted first
	Hot subscription.EventLedger

	// Cold is the L2 ledger (e.g., Redis) shared across replicas
	Cold subscription.EventLedger
}

// Ledger implements subscription.EventLedger over two tiers
type Ledger struct {
	hot  subscription.EventLedger
	cold subscription.EventLedger
}

// NewLedger creates a tiered event ledger
func NewLedger(config LedgerConfig) (*Ledger, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered ledger: both hot and cold ledgers are required")
	}
	return &Ledger{hot: config.Hot, cold: config.Cold}, nil
}

// Seen implements subscription.EventLedger with read-through strategy
func (l *Ledger) Seen(ctx context.Context, eventID string) (bool, error) {
	if seen, err := l.hot.Seen(ctx, eventID); err == nil && seen {
		return true, nil
	}

	seen, err := l.cold.Seen(ctx, eventID)
	if err != nil {
		return false, err
	}
	if seen {
		_ = l.hot.MarkProcessed(ctx, eventID) //nolint:errcheck // Cache fill - errors are non-critical
	}
	return seen, nil
}

// MarkProcessed implements subscription.EventLedger with write-through strategy.
// The durable tier is written first.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.cold.MarkProcessed(ctx, eventID); err != nil {
		return err
	}
	_ = l.hot.MarkProcessed(ctx, eventID) //nolint:errcheck // Cache fill - errors are non-critical
	return nil
}

// AuditConfig configures the tiered audit log
type AuditConfig struct {
	// Hot receives every entry synchronously and serves reads when Cold fails
	Hot subscription.AuditLogger

	// Cold is the durable audit store (e.g., Postgres)
	Cold subscription.AuditLogger

	// AsyncColdWrites moves Cold writes to a background worker so request
	// handlers never wait on the audit database.
	AsyncColdWrites bool

	// SyncBufferSize is the size of the buffered channel for async writes.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when an async write fails
	AsyncErrorHandler func(error)
}

// AuditLog implements subscription.AuditLogger over two tiers
type AuditLog struct {
	hot  subscription.AuditLogger
	cold subscription.AuditLogger
	conf AuditConfig

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAuditLog creates a tiered audit log
func NewAuditLog(config AuditConfig) (*AuditLog, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered audit: both hot and cold loggers are required")
	}
	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	a := &AuditLog{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}
	if config.AsyncColdWrites {
		a.startWorker()
	}
	return a, nil
}

// Close drains pending async writes and stops the worker
func (a *AuditLog) Close() error {
	if a.conf.AsyncColdWrites {
		a.closeOnce.Do(func() {
			close(a.shutdown)
			a.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background write loop. Sequential processing keeps
// entries in submission order.
func (a *AuditLog) startWorker() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case job := <-a.syncQueue:
				a.runJob(job)
			case <-a.shutdown:
				for {
					select {
					case job := <-a.syncQueue:
						a.runJob(job)
					default:
						return
					}
				}
			}
		}
	}()
}

func (a *AuditLog) runJob(job func() error) {
	if err := job(); err != nil && a.conf.AsyncErrorHandler != nil {
		a.conf.AsyncErrorHandler(fmt.Errorf("tiered audit sync failed: %w", err))
	}
}

// LogTransition implements subscription.AuditLogger
func (a *AuditLog) LogTransition(ctx context.Context, entry *subscription.AuditEntry) error {
	if err := a.hot.LogTransition(ctx, entry); err != nil {
		return err
	}

	if !a.conf.AsyncColdWrites {
		return a.cold.LogTransition(ctx, entry)
	}

	entryCopy := *entry
	job := func() error {
		return a.cold.LogTransition(context.Background(), &entryCopy)
	}
	select {
	case a.syncQueue <- job:
		return nil
	default:
		// Queue full: write synchronously rather than drop the entry
		return a.cold.LogTransition(ctx, &entryCopy)
	}
}

// ListTransitions implements subscription.AuditLogger. Cold is the source of
// truth; Hot answers when Cold is unavailable.
func (a *AuditLog) ListTransitions(ctx context.Context, userID string, limit int) ([]*subscription.AuditEntry, error) {
	entries, err := a.cold.ListTransitions(ctx, userID, limit)
	if err == nil {
		return entries, nil
	}
	hotEntries, hotErr := a.hot.ListTransitions(ctx, userID, limit)
	if hotErr != nil {
		return nil, err
	}
	return hotEntries, nil
}

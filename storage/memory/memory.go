// Package memory provides in-memory implementations of the subscription storage interfaces.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Storage implements subscription.UserStore, subscription.EventLedger and
// subscription.AuditLogger using in-memory maps
type Storage struct {
	mu     sync.RWMutex
	users  map[string]*subscription.User
	events map[string]time.Time
	audit  []*subscription.AuditEntry

	// eventTTL bounds how long processed event ids are kept; zero keeps them forever
	eventTTL  time.Duration
	lastSweep time.Time
	now       func() time.Time

	calls      int
	applyCalls int
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users:  make(map[string]*subscription.User),
		events: make(map[string]time.Time),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEventTTL makes processed event ids expire after ttl, matching the
// durable ledger's retention when this storage is used as its hot tier.
func (s *Storage) SetEventTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventTTL = ttl
}

// PutUser stores a copy of user, replacing any existing document
func (s *Storage) PutUser(user *subscription.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = copyUser(user)
}

// Calls returns how many UserStore methods have been invoked
func (s *Storage) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// ApplyCalls returns how many times ApplyUpdate has been invoked
func (s *Storage) ApplyCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applyCalls
}

// GetUser implements subscription.UserStore
func (s *Storage) GetUser(_ context.Context, userID string) (*subscription.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	user, ok := s.users[userID]
	if !ok {
		return nil, subscription.ErrUserNotFound
	}
	return copyUser(user), nil
}

// FindUserByEmail implements subscription.UserStore
func (s *Storage) FindUserByEmail(_ context.Context, email string) (*subscription.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	email = strings.TrimSpace(email)
	for _, id := range s.sortedIDs() {
		if user := s.users[id]; strings.EqualFold(user.Email, email) {
			return copyUser(user), nil
		}
	}
	return nil, subscription.ErrUserNotFound
}

// FindUserByCustomerID implements subscription.UserStore
func (s *Storage) FindUserByCustomerID(_ context.Context, customerID string) (*subscription.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	for _, id := range s.sortedIDs() {
		if user := s.users[id]; user.Subscription.StripeCustomerID == customerID {
			return copyUser(user), nil
		}
	}
	return nil, subscription.ErrUserNotFound
}

// ApplyUpdate implements subscription.UserStore. The whole update is applied
// under one lock, matching the single-write semantics of the Firestore adapter.
func (s *Storage) ApplyUpdate(_ context.Context, userID string,
	update *subscription.RecordUpdate) (*subscription.ApplyResult, error) {
	if update == nil || update.Empty() {
		return nil, subscription.ErrInvalidUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.applyCalls++

	user, ok := s.users[userID]
	if !ok {
		return nil, subscription.ErrUserNotFound
	}

	result := &subscription.ApplyResult{Previous: user.Subscription}
	granted := update.GrantFor(user.Subscription)

	user.Subscription = update.Apply(user.Subscription)
	user.Credits.Available += granted
	user.Credits.Lifetime += granted
	if update.AutoAppendReferral != nil {
		user.Settings.AutoAppendReferral = *update.AutoAppendReferral
	}
	if !update.UpdatedAt.IsZero() {
		user.UpdatedAt = update.UpdatedAt
	}

	result.Current = user.Subscription
	result.CreditsGranted = granted
	return result, nil
}

// Seen implements subscription.EventLedger
func (s *Storage) Seen(_ context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	processedAt, ok := s.events[eventID]
	if !ok {
		return false, nil
	}
	return !s.expired(processedAt, s.now()), nil
}

func (s *Storage) expired(processedAt, now time.Time) bool {
	return s.eventTTL > 0 && now.Sub(processedAt) >= s.eventTTL
}

// EventCount returns how many processed event ids are retained
func (s *Storage) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MarkProcessed implements subscription.EventLedger
func (s *Storage) MarkProcessed(_ context.Context, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.events[eventID] = now

	// Sweep at most once per TTL so ids live no longer than twice the TTL
	if s.eventTTL > 0 && now.Sub(s.lastSweep) >= s.eventTTL {
		for id, processedAt := range s.events {
			if s.expired(processedAt, now) {
				delete(s.events, id)
			}
		}
		s.lastSweep = now
	}
	return nil
}

// LogTransition implements subscription.AuditLogger
func (s *Storage) LogTransition(_ context.Context, entry *subscription.AuditEntry) error {
	if entry == nil || entry.UserID == "" {
		return fmt.Errorf("invalid audit entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	if entryCopy.ID == "" {
		entryCopy.ID = fmt.Sprintf("audit_%d", len(s.audit)+1)
	}
	if entryCopy.Timestamp.IsZero() {
		entryCopy.Timestamp = time.Now().UTC()
	}
	s.audit = append(s.audit, &entryCopy)
	return nil
}

// ListTransitions implements subscription.AuditLogger
func (s *Storage) ListTransitions(_ context.Context, userID string, limit int) ([]*subscription.AuditEntry, error) {
	if limit <= 0 {
		limit = subscription.DefaultAuditListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*subscription.AuditEntry, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.audit[i].UserID == userID {
			entryCopy := *s.audit[i]
			entries = append(entries, &entryCopy)
		}
	}
	return entries, nil
}

// sortedIDs gives lookups a deterministic order. Caller holds the lock.
func (s *Storage) sortedIDs() []string {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyUser(user *subscription.User) *subscription.User {
	userCopy := *user
	if user.Credits.Expirations != nil {
		userCopy.Credits.Expirations = append([]subscription.CreditExpiration(nil), user.Credits.Expirations...)
	}
	return &userCopy
}

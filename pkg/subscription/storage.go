package subscription

import "context"

// UserStore persists the subscription-owned parts of user documents
type UserStore interface {
	// GetUser retrieves a user by id. Returns ErrUserNotFound when absent.
	GetUser(ctx context.Context, userID string) (*User, error)

	// FindUserByEmail retrieves a user by email address
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// FindUserByCustomerID retrieves a user by processor customer id
	FindUserByCustomerID(ctx context.Context, customerID string) (*User, error)

	// ApplyUpdate writes a RecordUpdate atomically (all fields in one write).
	// Under GrantOncePerSubscription the stored subscription id is checked in
	// the same transaction and the credit grant dropped on a match.
	// Returns ErrUserNotFound when the user document does not exist.
	ApplyUpdate(ctx context.Context, userID string, update *RecordUpdate) (*ApplyResult, error)
}

// EventLedger remembers processed webhook event ids across deliveries
type EventLedger interface {
	// Seen reports whether the event was already processed successfully
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event as processed
	MarkProcessed(ctx context.Context, eventID string) error
}

// AuditLogger records applied transitions
type AuditLogger interface {
	// LogTransition stores one audit entry
	LogTransition(ctx context.Context, entry *AuditEntry) error

	// ListTransitions returns the most recent entries for a user, newest first.
	// A non-positive limit defaults to 20.
	ListTransitions(ctx context.Context, userID string, limit int) ([]*AuditEntry, error)
}

// DefaultAuditListLimit is used when ListTransitions is called without a limit
const DefaultAuditListLimit = 20

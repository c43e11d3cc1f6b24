package subscription

import "time"

// Plan is the entitlement tier of a user
type Plan string

const (
	// PlanFree is the implicit plan of every user without a paid subscription
	PlanFree Plan = "free"
	// PlanProfessional is the individual paid plan
	PlanProfessional Plan = "professional"
	// PlanTeam is the collaborative paid plan
	PlanTeam Plan = "team"
)

// Rank returns the entitlement order of the plan (free < professional < team).
// Unknown plans rank below free.
func (p Plan) Rank() int {
	switch p {
	case PlanFree:
		return 0
	case PlanProfessional:
		return 1
	case PlanTeam:
		return 2
	default:
		return -1
	}
}

// Valid reports whether p is one of the known plans
func (p Plan) Valid() bool {
	return p.Rank() >= 0
}

// Status mirrors the payment processor's subscription status
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"

	// StatusCancelled is written by the subscription-deleted transition
	StatusCancelled Status = "cancelled"
	// StatusNone is reported for users that never had a subscription
	StatusNone Status = "none"
)

// Known reports whether s belongs to the vendor status enum (or is one of the
// record-only values written by this system).
func (s Status) Known() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusUnpaid,
		StatusIncomplete, StatusIncompleteExpired, StatusPaused, StatusCancelled, StatusNone:
		return true
	default:
		return false
	}
}

// Record is the denormalized subscription sub-object stored on a user document.
// It is a cache of the payment processor's state, not a source of truth.
type Record struct {
	Plan                 Plan
	Status               Status
	StripeCustomerID     string
	StripeSubscriptionID string
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
}

// HasSubscription reports whether the record references a processor subscription
func (r Record) HasSubscription() bool {
	return r.StripeSubscriptionID != ""
}

// EffectivePlan returns the stored plan, treating an empty plan as free
func (r Record) EffectivePlan() Plan {
	if r.Plan == "" {
		return PlanFree
	}
	return r.Plan
}

// CreditExpiration is an append-only ledger entry for a time-boxed credit grant
type CreditExpiration struct {
	Amount    int
	EarnedAt  time.Time
	ExpiresAt time.Time
	Source    string
}

// Credits is the user's premium credit balance
type Credits struct {
	Available   int
	Lifetime    int
	Expirations []CreditExpiration
}

// Settings holds the user preferences the subscription system touches
type Settings struct {
	AutoAppendReferral bool
}

// User is the subset of a user document owned by the subscription system
type User struct {
	ID           string
	Email        string
	Subscription Record
	Credits      Credits
	Settings     Settings
	UpdatedAt    time.Time
}

// Snapshot is a vendor-neutral view of a live processor subscription
type Snapshot struct {
	ID                string
	CustomerID        string
	UserID            string
	Status            Status
	PriceIDs          []string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// GrantPolicy controls how a credit grant in a RecordUpdate is applied
type GrantPolicy int

const (
	// GrantOncePerSubscription drops the grant when the stored subscription id
	// already equals the update's subscription id
	GrantOncePerSubscription GrantPolicy = iota
	// GrantAlways applies the grant unconditionally
	GrantAlways
)

// RecordUpdate is a sparse update applied to a user document in a single write.
// Nil fields are left untouched.
type RecordUpdate struct {
	Plan              *Plan
	Status            *Status
	CustomerID        *string
	SubscriptionID    *string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd *bool

	// CreditGrant is added to both available and lifetime credits
	CreditGrant int
	GrantPolicy GrantPolicy

	AutoAppendReferral *bool

	UpdatedAt time.Time
}

// ApplyResult describes the outcome of a stored update
type ApplyResult struct {
	// Previous is the subscription record before the write
	Previous Record
	// Current is the subscription record after the write
	Current Record
	// CreditsGranted is the amount actually added (0 when deduplicated)
	CreditsGranted int
}

// AuditEntry is one applied transition in a user's subscription history
type AuditEntry struct {
	ID             string
	UserID         string
	Source         string // "webhook", "reconcile", "replay"
	EventID        string
	EventType      string
	SubscriptionID string
	OldPlan        Plan
	NewPlan        Plan
	Status         Status
	CreditsGranted int
	Timestamp      time.Time
}

// Audit sources
const (
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
	SourceReplay    = "replay"
)

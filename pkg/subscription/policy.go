package subscription

import "time"

// Activation builds the update for a newly purchased (or replayed) subscription.
// The record is overwritten completely, status is forced to active and the
// plan's credit grant is attached under the given policy.
func Activation(snap Snapshot, prices *PriceTable, policy GrantPolicy, now time.Time) (*RecordUpdate, error) {
	plan, err := prices.PlanForSnapshot(snap)
	if err != nil {
		return nil, err
	}

	status := StatusActive
	referral := false
	update := &RecordUpdate{
		Plan:               &plan,
		Status:             &status,
		CustomerID:         optionalString(snap.CustomerID),
		SubscriptionID:     stringPtr(snap.ID),
		CurrentPeriodEnd:   timePtr(snap.CurrentPeriodEnd),
		CancelAtPeriodEnd:  boolPtr(snap.CancelAtPeriodEnd),
		CreditGrant:        prices.CreditGrant(plan),
		GrantPolicy:        policy,
		AutoAppendReferral: &referral,
		UpdatedAt:          now.UTC(),
	}
	return update, nil
}

// StatusChange mirrors status and billing period from the processor. Plan and
// credits are left untouched.
func StatusChange(snap Snapshot, now time.Time) *RecordUpdate {
	status := snap.Status
	return &RecordUpdate{
		Status:            &status,
		CurrentPeriodEnd:  timePtr(snap.CurrentPeriodEnd),
		CancelAtPeriodEnd: boolPtr(snap.CancelAtPeriodEnd),
		UpdatedAt:         now.UTC(),
	}
}

// Cancellation downgrades to free. Previously granted credits are kept.
func Cancellation(now time.Time) *RecordUpdate {
	plan := PlanFree
	status := StatusCancelled
	return &RecordUpdate{
		Plan:              &plan,
		Status:            &status,
		CancelAtPeriodEnd: boolPtr(false),
		UpdatedAt:         now.UTC(),
	}
}

// PaymentFailure marks the subscription past due without touching the plan
func PaymentFailure(now time.Time) *RecordUpdate {
	status := StatusPastDue
	return &RecordUpdate{
		Status:    &status,
		UpdatedAt: now.UTC(),
	}
}

// Derive computes the plan a live subscription entitles. An inactive
// subscription never confers a paid plan.
func Derive(snap Snapshot, prices *PriceTable) (Plan, error) {
	if snap.Status != StatusActive {
		return PlanFree, nil
	}
	return prices.PlanForSnapshot(snap)
}

// Decision is the reconciler's verdict for one user
type Decision struct {
	Plan   Plan
	Status Status
	// Update is nil when the stored record already matches
	Update *RecordUpdate
}

// Drift compares the stored record with the live subscription. Only plan,
// status, period end and the cancel flag are ever corrected.
func Drift(stored Record, snap Snapshot, prices *PriceTable, now time.Time) (*Decision, error) {
	plan, err := Derive(snap, prices)
	if err != nil {
		return nil, err
	}

	d := &Decision{Plan: plan, Status: snap.Status}
	if stored.EffectivePlan() == plan && stored.Status.Equivalent(snap.Status) {
		return d, nil
	}

	status := snap.Status
	d.Update = &RecordUpdate{
		Plan:              &plan,
		Status:            &status,
		CurrentPeriodEnd:  timePtr(snap.CurrentPeriodEnd),
		CancelAtPeriodEnd: boolPtr(snap.CancelAtPeriodEnd),
		UpdatedAt:         now.UTC(),
	}
	return d, nil
}

// Equivalent compares statuses, treating the processor's "canceled" and the
// record-only "cancelled" as the same state.
func (s Status) Equivalent(other Status) bool {
	return canonicalStatus(s) == canonicalStatus(other)
}

func canonicalStatus(s Status) Status {
	if s == StatusCancelled {
		return StatusCanceled
	}
	return s
}

// Apply returns record with the update's subscription fields applied
func (u *RecordUpdate) Apply(record Record) Record {
	if u.Plan != nil {
		record.Plan = *u.Plan
	}
	if u.Status != nil {
		record.Status = *u.Status
	}
	if u.CustomerID != nil {
		record.StripeCustomerID = *u.CustomerID
	}
	if u.SubscriptionID != nil {
		record.StripeSubscriptionID = *u.SubscriptionID
	}
	if u.CurrentPeriodEnd != nil {
		record.CurrentPeriodEnd = *u.CurrentPeriodEnd
	}
	if u.CancelAtPeriodEnd != nil {
		record.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	return record
}

// GrantFor returns the credits this update adds on top of record
func (u *RecordUpdate) GrantFor(record Record) int {
	if u.CreditGrant <= 0 {
		return 0
	}
	if u.GrantPolicy == GrantOncePerSubscription && u.SubscriptionID != nil &&
		record.StripeSubscriptionID == *u.SubscriptionID {
		return 0
	}
	return u.CreditGrant
}

// Empty reports whether the update changes nothing
func (u *RecordUpdate) Empty() bool {
	return u.Plan == nil && u.Status == nil && u.CustomerID == nil && u.SubscriptionID == nil &&
		u.CurrentPeriodEnd == nil && u.CancelAtPeriodEnd == nil && u.CreditGrant == 0 &&
		u.AutoAppendReferral == nil
}

func stringPtr(s string) *string { return &s }

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolPtr(b bool) *bool { return &b }

// timePtr returns nil for the zero time so an unknown period end never
// overwrites a stored one.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

package subscription

import (
	"fmt"
	"strings"
)

// Interval is a billing interval for a paid plan
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Default one-time credit grants on subscription activation
const (
	DefaultProfessionalCredits = 500
	DefaultTeamCredits         = 2000
)

// PriceConfig lists the processor price identifiers configured for each paid tier.
// Each slot may hold several ids (e.g. legacy prices kept for existing customers);
// the first id of a slot is the one offered at checkout.
type PriceConfig struct {
	ProfessionalMonthly []string
	ProfessionalYearly  []string
	TeamMonthly         []string
	TeamYearly          []string
}

type planInterval struct {
	plan     Plan
	interval Interval
}

// PriceTable is the price identifier to plan lookup shared by every transition
type PriceTable struct {
	plans  map[string]Plan
	offers map[planInterval]string
	grants map[Plan]int
}

// NewPriceTable builds the lookup table. grants overrides the default credit
// grants per plan; a nil map keeps the defaults.
func NewPriceTable(cfg PriceConfig, grants map[Plan]int) (*PriceTable, error) {
	t := &PriceTable{
		plans:  make(map[string]Plan),
		offers: make(map[planInterval]string),
		grants: map[Plan]int{
			PlanProfessional: DefaultProfessionalCredits,
			PlanTeam:         DefaultTeamCredits,
		},
	}
	for plan, amount := range grants {
		if !plan.Valid() || plan == PlanFree {
			return nil, fmt.Errorf("credit grant configured for invalid plan %q", plan)
		}
		if amount < 0 {
			return nil, fmt.Errorf("negative credit grant for plan %s", plan)
		}
		t.grants[plan] = amount
	}

	slots := []struct {
		key planInterval
		ids []string
	}{
		{planInterval{PlanProfessional, IntervalMonthly}, cfg.ProfessionalMonthly},
		{planInterval{PlanProfessional, IntervalYearly}, cfg.ProfessionalYearly},
		{planInterval{PlanTeam, IntervalMonthly}, cfg.TeamMonthly},
		{planInterval{PlanTeam, IntervalYearly}, cfg.TeamYearly},
	}
	for _, slot := range slots {
		for _, raw := range slot.ids {
			id := normalizePriceID(raw)
			if id == "" {
				continue
			}
			if existing, ok := t.plans[id]; ok && existing != slot.key.plan {
				return nil, fmt.Errorf("price %s configured for both %s and %s", raw, existing, slot.key.plan)
			}
			t.plans[id] = slot.key.plan
			if _, ok := t.offers[slot.key]; !ok {
				t.offers[slot.key] = strings.TrimSpace(raw)
			}
		}
	}
	return t, nil
}

// PlanFor maps a price identifier to its plan. Unknown identifiers return false.
func (t *PriceTable) PlanFor(priceID string) (Plan, bool) {
	plan, ok := t.plans[normalizePriceID(priceID)]
	return plan, ok
}

// PlanForSnapshot returns the highest-ranked plan across the subscription's items
func (t *PriceTable) PlanForSnapshot(snap Snapshot) (Plan, error) {
	if len(snap.PriceIDs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingSubscriptionItem, snap.ID)
	}
	best := Plan("")
	for _, priceID := range snap.PriceIDs {
		plan, ok := t.PlanFor(priceID)
		if !ok {
			continue
		}
		if plan.Rank() > best.Rank() {
			best = plan
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: %s on subscription %s", ErrUnknownPrice, strings.Join(snap.PriceIDs, ","), snap.ID)
	}
	return best, nil
}

// CreditGrant returns the one-time credit grant for activating plan
func (t *PriceTable) CreditGrant(plan Plan) int {
	return t.grants[plan]
}

// PriceID returns the price offered at checkout for a plan and interval
func (t *PriceTable) PriceID(plan Plan, interval Interval) (string, bool) {
	id, ok := t.offers[planInterval{plan, interval}]
	return id, ok
}

// normalizePriceID trims surrounding whitespace only. Stripe price ids are
// case-sensitive.
func normalizePriceID(id string) string {
	return strings.TrimSpace(id)
}

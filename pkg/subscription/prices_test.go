package subscription

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPriceConfig() PriceConfig {
	return PriceConfig{
		ProfessionalMonthly: []string{"price_pro_monthly", "price_pro_monthly_legacy"},
		ProfessionalYearly:  []string{"price_pro_yearly"},
		TeamMonthly:         []string{"price_team_monthly"},
		TeamYearly:          []string{"price_team_yearly"},
	}
}

func testPriceTable(t *testing.T) *PriceTable {
	t.Helper()
	table, err := NewPriceTable(testPriceConfig(), nil)
	require.NoError(t, err)
	return table
}

func TestPriceTable_PlanFor(t *testing.T) {
	table := testPriceTable(t)
	cfg := testPriceConfig()

	for _, id := range append(cfg.TeamMonthly, cfg.TeamYearly...) {
		plan, ok := table.PlanFor(id)
		assert.True(t, ok, id)
		assert.Equal(t, PlanTeam, plan, id)
	}
	for _, id := range append(cfg.ProfessionalMonthly, cfg.ProfessionalYearly...) {
		plan, ok := table.PlanFor(id)
		assert.True(t, ok, id)
		assert.Equal(t, PlanProfessional, plan, id)
	}

	plan, ok := table.PlanFor("price_unknown")
	assert.False(t, ok)
	assert.Empty(t, plan)

	_, ok = table.PlanFor("")
	assert.False(t, ok)
}

func TestPriceTable_PlanForTrimsWhitespace(t *testing.T) {
	table := testPriceTable(t)
	plan, ok := table.PlanFor("  price_team_yearly ")
	assert.True(t, ok)
	assert.Equal(t, PlanTeam, plan)
}

func TestPriceTable_PlanForIsCaseSensitive(t *testing.T) {
	table, err := NewPriceTable(PriceConfig{TeamYearly: []string{"price_1QxTeAm"}}, nil)
	require.NoError(t, err)

	_, ok := table.PlanFor("price_1qxteam")
	assert.False(t, ok)

	_, err = table.PlanForSnapshot(Snapshot{ID: "sub_1", PriceIDs: []string{"price_1qxteam"}})
	assert.ErrorIs(t, err, ErrUnknownPrice)

	plan, err := table.PlanForSnapshot(Snapshot{ID: "sub_1", PriceIDs: []string{"price_1QxTeAm"}})
	require.NoError(t, err)
	assert.Equal(t, PlanTeam, plan)
}

func TestPriceTable_UnknownPriceIsAnomaly(t *testing.T) {
	table := testPriceTable(t)

	_, err := table.PlanForSnapshot(Snapshot{ID: "sub_1", PriceIDs: []string{"price_other"}})
	assert.ErrorIs(t, err, ErrUnknownPrice)
	assert.True(t, IsDataAnomaly(err))

	_, err = table.PlanForSnapshot(Snapshot{ID: "sub_1"})
	assert.ErrorIs(t, err, ErrMissingSubscriptionItem)
	assert.True(t, IsDataAnomaly(err))
}

func TestPriceTable_PlanForSnapshotPicksHighestPlan(t *testing.T) {
	table := testPriceTable(t)
	plan, err := table.PlanForSnapshot(Snapshot{
		ID:       "sub_1",
		PriceIDs: []string{"price_pro_monthly", "price_unknown", "price_team_monthly"},
	})
	require.NoError(t, err)
	assert.Equal(t, PlanTeam, plan)
}

func TestPriceTable_RejectsPriceInTwoTiers(t *testing.T) {
	_, err := NewPriceTable(PriceConfig{
		ProfessionalMonthly: []string{"price_shared"},
		TeamMonthly:         []string{"price_shared"},
	}, nil)
	assert.Error(t, err)
}

func TestPriceTable_CreditGrants(t *testing.T) {
	table := testPriceTable(t)
	assert.Equal(t, DefaultProfessionalCredits, table.CreditGrant(PlanProfessional))
	assert.Equal(t, DefaultTeamCredits, table.CreditGrant(PlanTeam))
	assert.Zero(t, table.CreditGrant(PlanFree))

	custom, err := NewPriceTable(testPriceConfig(), map[Plan]int{PlanProfessional: 750})
	require.NoError(t, err)
	assert.Equal(t, 750, custom.CreditGrant(PlanProfessional))
	assert.Equal(t, DefaultTeamCredits, custom.CreditGrant(PlanTeam))

	_, err = NewPriceTable(testPriceConfig(), map[Plan]int{PlanFree: 10})
	assert.Error(t, err)
	_, err = NewPriceTable(testPriceConfig(), map[Plan]int{PlanTeam: -1})
	assert.Error(t, err)
}

func TestPriceTable_PriceIDOffersFirstConfigured(t *testing.T) {
	table := testPriceTable(t)

	id, ok := table.PriceID(PlanProfessional, IntervalMonthly)
	assert.True(t, ok)
	assert.Equal(t, "price_pro_monthly", id)

	_, ok = table.PriceID(PlanFree, IntervalMonthly)
	assert.False(t, ok)
}

func TestIsDataAnomaly_OtherErrors(t *testing.T) {
	assert.False(t, IsDataAnomaly(errors.New("network down")))
	assert.False(t, IsDataAnomaly(ErrUserNotFound))
}

package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

func testCatalog() *PlanCatalog {
	return NewPlanCatalog([]types.Plan{
		{
			Name:            "starter",
			PriceID:         "price_starter_m",
			LookupKey:       "starter_monthly",
			AnnualPriceID:   "price_starter_y",
			AnnualLookupKey: "starter_yearly",
		},
		{
			Name:            "pro",
			PriceID:         "price_pro_m",
			LookupKey:       "pro_monthly",
			AnnualPriceID:   "price_pro_y",
			AnnualLookupKey: "pro_yearly",
		},
	})
}

func TestPlanCatalogByName(t *testing.T) {
	catalog := testCatalog()

	plan := catalog.ByName("pro")
	require.NotNil(t, plan)
	assert.Equal(t, "price_pro_m", plan.PriceID)

	assert.Nil(t, catalog.ByName("enterprise"))
}

func TestPlanCatalogMatchesByPriceID(t *testing.T) {
	catalog := testCatalog()

	match := catalog.ResolveActivePlan([]types.SubscriptionItem{
		{ID: "si_1", PriceID: "price_pro_y"},
	})
	require.NotNil(t, match)
	require.NotNil(t, match.Plan)
	assert.Equal(t, "pro", match.Plan.Name)
}

func TestPlanCatalogFallsBackToLookupKey(t *testing.T) {
	catalog := testCatalog()

	match := catalog.ResolveActivePlan([]types.SubscriptionItem{
		{ID: "si_1", PriceID: "price_unknown", LookupKey: "starter_yearly"},
	})
	require.NotNil(t, match)
	require.NotNil(t, match.Plan)
	assert.Equal(t, "starter", match.Plan.Name)
}

func TestPlanCatalogSingleItemWithoutMatch(t *testing.T) {
	catalog := testCatalog()

	match := catalog.ResolveActivePlan([]types.SubscriptionItem{
		{ID: "si_1", PriceID: "price_legacy"},
	})
	require.NotNil(t, match)
	assert.Equal(t, "si_1", match.Item.ID)
	assert.Nil(t, match.Plan)
}

func TestPlanCatalogMultiItemPicksFirstMatch(t *testing.T) {
	catalog := testCatalog()

	match := catalog.ResolveActivePlan([]types.SubscriptionItem{
		{ID: "si_addon", PriceID: "price_addon"},
		{ID: "si_base", PriceID: "price_starter_m"},
		{ID: "si_other", PriceID: "price_pro_m"},
	})
	require.NotNil(t, match)
	assert.Equal(t, "si_base", match.Item.ID)
	assert.Equal(t, "starter", match.Plan.Name)
}

func TestPlanCatalogMultiItemNoMatch(t *testing.T) {
	catalog := testCatalog()

	match := catalog.ResolveActivePlan([]types.SubscriptionItem{
		{ID: "si_1", PriceID: "price_a"},
		{ID: "si_2", PriceID: "price_b"},
	})
	assert.Nil(t, match)
}

func TestPlanCatalogEmptyItems(t *testing.T) {
	assert.Nil(t, testCatalog().ResolveActivePlan(nil))
}

func TestPlanCatalogCopiesInput(t *testing.T) {
	source := []types.Plan{{Name: "starter", PriceID: "price_1"}}
	catalog := NewPlanCatalog(source)

	source[0].PriceID = "price_mutated"

	plan := catalog.ByName("starter")
	require.NotNil(t, plan)
	assert.Equal(t, "price_1", plan.PriceID)
}

package billing

import "metergate/internal/types"

// PlanCatalog is the immutable, ordered set of configured plans. Catalog
// order is significant: when a subscription item's identifiers could satisfy
// more than one plan, the first matching plan wins.
type PlanCatalog struct {
	plans []types.Plan
}

// NewPlanCatalog copies the given plans into a catalog so later mutation of
// the source slice cannot change matching behavior.
func NewPlanCatalog(plans []types.Plan) *PlanCatalog {
	copied := make([]types.Plan, len(plans))
	copy(copied, plans)
	return &PlanCatalog{plans: copied}
}

// Plans returns the configured plans in catalog order.
func (c *PlanCatalog) Plans() []types.Plan {
	return c.plans
}

// ByName returns the configured plan with the given name.
func (c *PlanCatalog) ByName(name string) *types.Plan {
	for i := range c.plans {
		if c.plans[i].Name == name {
			return &c.plans[i]
		}
	}
	return nil
}

// matchItem finds the configured plan for a subscription item. The price
// identifier is consulted before the lookup key; within each pass the first
// plan in catalog order wins.
func (c *PlanCatalog) matchItem(item types.SubscriptionItem) *types.Plan {
	if item.PriceID != "" {
		for i := range c.plans {
			p := &c.plans[i]
			if p.PriceID == item.PriceID || p.AnnualPriceID == item.PriceID {
				return p
			}
		}
	}
	if item.LookupKey != "" {
		for i := range c.plans {
			p := &c.plans[i]
			if p.LookupKey == item.LookupKey || p.AnnualLookupKey == item.LookupKey {
				return p
			}
		}
	}
	return nil
}

// ResolveActivePlan attributes a subscription to a configured plan.
//
// A single-item subscription is always returned: its item is meaningful to
// the caller even when no configured plan matches, in which case Plan is nil.
//
// A multi-item subscription carries no canonical "primary" line item, so the
// items are scanned in list order and the first one matching a configured
// plan is returned; when none match, the result is nil rather than a guess.
func (c *PlanCatalog) ResolveActivePlan(items []types.SubscriptionItem) *types.PlanMatch {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return &types.PlanMatch{
			Item: items[0],
			Plan: c.matchItem(items[0]),
		}
	default:
		for _, item := range items {
			if plan := c.matchItem(item); plan != nil {
				return &types.PlanMatch{Item: item, Plan: plan}
			}
		}
		return nil
	}
}

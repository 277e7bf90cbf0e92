package billing

import (
	"context"
	"fmt"
	"time"

	"metergate/internal/external"
	"metergate/internal/types"
)

const (
	defaultSummaryPageSize = 10
	maxSummaryPageSize     = 100
)

// SummaryLister is the provider surface the query service needs.
type SummaryLister interface {
	ListEventSummaries(ctx context.Context, meterID string, params external.EventSummaryParams) (*external.EventSummaryPage, error)
}

// UsageQueryService serves paginated aggregated usage for a tenant's meter.
// It validates the meter against the configured catalog, resolves the
// provider-side meter ID and billing customer, and normalizes the provider's
// page into the platform shape.
type UsageQueryService struct {
	meters    map[string]types.Meter
	resolver  *MeterIDResolver
	customers *CustomerResolver
	provider  SummaryLister
}

// NewUsageQueryService creates a UsageQueryService over the given meter
// catalog.
func NewUsageQueryService(
	meters []types.Meter,
	resolver *MeterIDResolver,
	customers *CustomerResolver,
	provider SummaryLister,
) *UsageQueryService {
	byName := make(map[string]types.Meter, len(meters))
	for _, m := range meters {
		byName[m.EventName] = m
	}

	return &UsageQueryService{
		meters:    byName,
		resolver:  resolver,
		customers: customers,
		provider:  provider,
	}
}

// Query returns one page of aggregated usage summaries for the meter named in
// q, scoped to the tenant the query resolves to.
//
// A meter name absent from the configured catalog fails with a validation
// error before any provider contact. A configured meter the provider does not
// know about surfaces as a meter registration error from the ID resolver,
// which points at configuration drift rather than caller input.
func (s *UsageQueryService) Query(ctx context.Context, actor types.Actor, q types.UsageQuery) (*types.UsageSummaryPage, error) {
	if _, ok := s.meters[q.Meter]; !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownMeter,
			fmt.Sprintf("meter %q is not configured", q.Meter),
			nil,
			map[string]any{"meter": q.Meter},
		)
	}

	meterID, err := s.resolver.ResolveMeterID(ctx, q.Meter)
	if err != nil {
		return nil, err
	}

	_, customerID, err := s.customers.Resolve(ctx, actor, q.CustomerType, q.ReferenceID)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultSummaryPageSize
	}
	if limit > maxSummaryPageSize {
		limit = maxSummaryPageSize
	}

	page, err := s.provider.ListEventSummaries(ctx, meterID, external.EventSummaryParams{
		Customer:            customerID,
		Limit:               limit,
		StartingAfter:       q.StartingAfter,
		ValueGroupingWindow: q.GroupingWindow,
	})
	if err != nil {
		return nil, err
	}

	out := &types.UsageSummaryPage{
		Data:    make([]types.UsageSummary, 0, len(page.Data)),
		HasMore: page.HasMore,
	}
	for _, s := range page.Data {
		out.Data = append(out.Data, types.UsageSummary{
			ID:              s.ID,
			AggregatedValue: s.AggregatedValue,
			StartTime:       time.Unix(s.StartTime, 0).UTC(),
			EndTime:         time.Unix(s.EndTime, 0).UTC(),
		})
	}
	// The cursor is only meaningful when another page exists.
	if page.HasMore && len(page.Data) > 0 {
		out.LastID = page.Data[len(page.Data)-1].ID
	}

	return out, nil
}

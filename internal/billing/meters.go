// Package billing implements the metered usage core: meter-id resolution
// against the provider, plan matching against the configured catalog, billing
// customer resolution for users and organizations, usage event ingestion, and
// aggregated usage queries.
package billing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"metergate/internal/external"
	"metergate/internal/types"
)

// DefaultMeterCacheTTL bounds how long a fetched meter-id mapping is reused
// before a full re-listing from the provider.
const DefaultMeterCacheTTL = 5 * time.Minute

// meterListPageSize is the page size requested from the provider listing.
const meterListPageSize = 100

// MeterLister is the provider surface the resolver needs: one page of active
// meters at a time.
type MeterLister interface {
	ListMeters(ctx context.Context, params external.ListMetersParams) (*external.MeterPage, error)
}

// meterCache is one immutable snapshot of the provider's event-name to
// meter-id mapping. Entries are replaced wholesale, never mutated, so a
// reader always observes a self-consistent mapping.
type meterCache struct {
	mapping   map[string]string
	fetchedAt time.Time
}

// MeterIDResolver maps configured meter event names to the provider's
// internal meter identifiers, caching the full mapping with a TTL.
//
// Concurrent callers that both observe an expired cache may both refresh;
// last writer wins. That duplication is acceptable: each refresh produces a
// complete snapshot, so the winner is self-consistent either way and no lock
// is required beyond the atomic pointer swap.
type MeterIDResolver struct {
	provider MeterLister
	ttl      time.Duration
	clock    types.Clock

	cache atomic.Pointer[meterCache]
}

// NewMeterIDResolver creates a resolver with the given TTL. A non-positive
// ttl falls back to DefaultMeterCacheTTL.
func NewMeterIDResolver(provider MeterLister, ttl time.Duration, clock types.Clock) *MeterIDResolver {
	if ttl <= 0 {
		ttl = DefaultMeterCacheTTL
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MeterIDResolver{
		provider: provider,
		ttl:      ttl,
		clock:    clock,
	}
}

// Resolve returns the event-name to provider-meter-id mapping, refreshing it
// from the provider when the cached snapshot is absent or older than the TTL.
// The returned map is shared and must not be mutated by callers.
//
// Refresh failures propagate to the caller and leave the cache unchanged, so
// the next call retries a full refresh rather than serving a poisoned entry.
func (r *MeterIDResolver) Resolve(ctx context.Context) (map[string]string, error) {
	if entry := r.cache.Load(); entry != nil && r.clock.Now().Sub(entry.fetchedAt) < r.ttl {
		return entry.mapping, nil
	}

	mapping, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.Store(&meterCache{
		mapping:   mapping,
		fetchedAt: r.clock.Now(),
	})

	return mapping, nil
}

// listAll exhausts the provider's paginated meter listing. Reading only the
// first page would silently drop meters once the account exceeds one page,
// so the cursor is followed until has_more is false.
func (r *MeterIDResolver) listAll(ctx context.Context) (map[string]string, error) {
	mapping := make(map[string]string)
	params := external.ListMetersParams{Limit: meterListPageSize}

	for {
		page, err := r.provider.ListMeters(ctx, params)
		if err != nil {
			return nil, err
		}

		for _, m := range page.Data {
			mapping[m.EventName] = m.ID
		}

		if !page.HasMore || len(page.Data) == 0 {
			return mapping, nil
		}
		params.StartingAfter = page.Data[len(page.Data)-1].ID
	}
}

// ResolveMeterID resolves a single event name to its provider meter ID.
// A name absent from the live listing yields ErrCodeBillingMeterNotRegistered:
// the meter is configured locally but was never registered (or was deleted)
// at the provider, which is a configuration drift the operator must fix, not
// a transient fault.
func (r *MeterIDResolver) ResolveMeterID(ctx context.Context, eventName string) (string, error) {
	mapping, err := r.Resolve(ctx)
	if err != nil {
		return "", err
	}

	id, ok := mapping[eventName]
	if !ok {
		return "", types.NewAppError(
			types.ErrCodeBillingMeterNotRegistered,
			fmt.Sprintf("meter %q is not registered with the billing provider", eventName),
			nil,
		)
	}
	return id, nil
}

// Invalidate drops the cached mapping so the next Resolve performs a full
// refresh. Used after meter configuration changes in tests and tooling.
func (r *MeterIDResolver) Invalidate() {
	r.cache.Store(nil)
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

func testIngestor(provider *fakeMeterProvider) *UsageIngestor {
	meters := []types.Meter{
		{EventName: "api_requests", DisplayName: "API Requests"},
		{EventName: "tokens_consumed", DisplayName: "Tokens Consumed"},
	}
	store := &fakeCustomerStore{mappings: map[types.TenantRef]string{
		userRef("user_1"): "cus_123",
	}}
	resolver := NewCustomerResolver(store, &fakeMembershipStore{}, true)
	return NewUsageIngestor(meters, resolver, provider, nil)
}

func ingestActor() types.Actor {
	return types.Actor{UserID: "user_1", Type: types.ActorTypeUser}
}

func TestIngestSubmitsEvents(t *testing.T) {
	provider := &fakeMeterProvider{}
	ingestor := testIngestor(provider)

	results, err := ingestor.Ingest(context.Background(), ingestActor(), []types.UsageEvent{
		{Meter: "api_requests", Value: float64(3)},
	}, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Empty(t, results[0].Error)

	params := provider.EventParams()
	require.Len(t, params, 1)
	assert.Equal(t, "api_requests", params[0].EventName)
	assert.Equal(t, "cus_123", params[0].CustomerID)
	assert.Equal(t, "3", params[0].Value)
	assert.Nil(t, params[0].Timestamp)
}

func TestIngestPreservesInputOrder(t *testing.T) {
	provider := &fakeMeterProvider{}
	ingestor := testIngestor(provider)

	events := make([]types.UsageEvent, 25)
	for i := range events {
		meter := "api_requests"
		if i%2 == 1 {
			meter = "tokens_consumed"
		}
		events[i] = types.UsageEvent{Meter: meter, Value: float64(i)}
	}

	results, err := ingestor.Ingest(context.Background(), ingestActor(), events, "", "")
	require.NoError(t, err)
	require.Len(t, results, len(events))
	for i, r := range results {
		assert.Equal(t, events[i].Meter, r.Meter, "result %d out of order", i)
		assert.True(t, r.Success)
	}
}

func TestIngestIsolatesPerEventFailures(t *testing.T) {
	provider := &fakeMeterProvider{}
	ingestor := testIngestor(provider)

	results, err := ingestor.Ingest(context.Background(), ingestActor(), []types.UsageEvent{
		{Meter: "api_requests", Value: float64(1)},
		{Meter: "unknown_meter", Value: float64(2)},
		{Meter: "tokens_consumed", Value: "not-a-number"},
		{Meter: "tokens_consumed", Value: float64(4)},
	}, "", "")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "not configured")
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "not numeric")
	assert.True(t, results[3].Success)
}

func TestIngestProviderFailureMarksOnlyThatEvent(t *testing.T) {
	provider := &fakeMeterProvider{eventErr: types.NewAppError(
		types.ErrCodeUpstreamRateLimited,
		"billing provider rate limit exceeded",
		errors.New("429"),
	)}
	ingestor := testIngestor(provider)

	results, err := ingestor.Ingest(context.Background(), ingestActor(), []types.UsageEvent{
		{Meter: "api_requests", Value: float64(1)},
	}, "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "billing provider rate limit exceeded", results[0].Error)
}

func TestIngestParsesRFC3339Timestamp(t *testing.T) {
	provider := &fakeMeterProvider{}
	ingestor := testIngestor(provider)

	results, err := ingestor.Ingest(context.Background(), ingestActor(), []types.UsageEvent{
		{Meter: "api_requests", Value: float64(1), Timestamp: "2025-06-15T12:00:00Z"},
		{Meter: "api_requests", Value: float64(1), Timestamp: "15/06/2025"},
	}, "", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.True(t, results[0].Success)
	params := provider.EventParams()
	require.Len(t, params, 1)
	require.NotNil(t, params[0].Timestamp)
	assert.Equal(t, int64(1749988800), *params[0].Timestamp)

	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "RFC 3339")
}

func TestIngestForwardsIdentifier(t *testing.T) {
	provider := &fakeMeterProvider{}
	ingestor := testIngestor(provider)

	_, err := ingestor.Ingest(context.Background(), ingestActor(), []types.UsageEvent{
		{Meter: "api_requests", Value: float64(1), Identifier: "evt_abc"},
	}, "", "")
	require.NoError(t, err)

	params := provider.EventParams()
	require.Len(t, params, 1)
	assert.Equal(t, "evt_abc", params[0].Identifier)
}

func TestIngestAbortsBatchWhenResolutionFails(t *testing.T) {
	provider := &fakeMeterProvider{}
	store := &fakeCustomerStore{}
	resolver := NewCustomerResolver(store, &fakeMembershipStore{}, true)
	ingestor := NewUsageIngestor([]types.Meter{{EventName: "api_requests"}}, resolver, provider, nil)

	_, err := ingestor.Ingest(context.Background(), types.Actor{}, []types.UsageEvent{
		{Meter: "api_requests", Value: float64(1)},
	}, "", "")
	require.Error(t, err)
	assert.Empty(t, provider.EventParams())
}

func TestFormatEventValue(t *testing.T) {
	cases := []struct {
		in      any
		want    string
		wantErr bool
	}{
		{in: float64(42), want: "42"},
		{in: float64(0.5), want: "0.5"},
		{in: "12.25", want: "12.25"},
		{in: "abc", wantErr: true},
		{in: nil, wantErr: true},
		{in: true, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v", tc.in), func(t *testing.T) {
			got, err := formatEventValue(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

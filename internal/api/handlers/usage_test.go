package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/core"
	"metergate/internal/types"
)

type fakeIngestService struct {
	results []types.EventResult
	err     error

	gotActor  types.Actor
	gotEvents []types.UsageEvent
	gotKind   types.TenantKind
	gotRef    string
	calls     int
}

func (f *fakeIngestService) Ingest(_ context.Context, actor types.Actor, events []types.UsageEvent, kind types.TenantKind, referenceID string) ([]types.EventResult, error) {
	f.calls++
	f.gotActor = actor
	f.gotEvents = events
	f.gotKind = kind
	f.gotRef = referenceID
	return f.results, f.err
}

type fakeQueryService struct {
	page *types.UsageSummaryPage
	err  error

	gotQuery types.UsageQuery
}

func (f *fakeQueryService) Query(_ context.Context, _ types.Actor, q types.UsageQuery) (*types.UsageSummaryPage, error) {
	f.gotQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

func newUsageRouter(ingest *fakeIngestService, query *fakeQueryService) chi.Router {
	h := NewUsageHandler(ingest, query, core.NewValidator(nil), nil)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func actorRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	actor := types.Actor{UserID: "user_1", Type: types.ActorTypeUser}
	return req.WithContext(types.WithActor(req.Context(), actor))
}

func TestIngestHandlerSuccess(t *testing.T) {
	ingest := &fakeIngestService{results: []types.EventResult{
		{Meter: "api_requests", Success: true},
	}}
	router := newUsageRouter(ingest, &fakeQueryService{})

	body := `{"events":[{"meter":"api_requests","value":3}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodPost, "/usage/ingest", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ingest.calls)
	assert.Equal(t, "user_1", ingest.gotActor.UserID)
	require.Len(t, ingest.gotEvents, 1)
	assert.Equal(t, float64(3), ingest.gotEvents[0].Value)

	var resp struct {
		Data IngestResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Results, 1)
	assert.True(t, resp.Data.Results[0].Success)
}

func TestIngestHandlerForwardsTenantScope(t *testing.T) {
	ingest := &fakeIngestService{results: []types.EventResult{}}
	router := newUsageRouter(ingest, &fakeQueryService{})

	body := `{"events":[{"meter":"api_requests","value":1}],"customer_type":"organization","reference_id":"org_1"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodPost, "/usage/ingest", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.TenantOrganization, ingest.gotKind)
	assert.Equal(t, "org_1", ingest.gotRef)
}

func TestIngestHandlerRequiresActor(t *testing.T) {
	ingest := &fakeIngestService{}
	router := newUsageRouter(ingest, &fakeQueryService{})

	body := `{"events":[{"meter":"api_requests","value":1}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/usage/ingest", strings.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, ingest.calls)
}

func TestIngestHandlerRejectsEmptyBatch(t *testing.T) {
	ingest := &fakeIngestService{}
	router := newUsageRouter(ingest, &fakeQueryService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodPost, "/usage/ingest", `{"events":[]}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ingest.calls)
}

func TestIngestHandlerRejectsOversizedBatch(t *testing.T) {
	ingest := &fakeIngestService{}
	router := newUsageRouter(ingest, &fakeQueryService{})

	events := make([]string, 101)
	for i := range events {
		events[i] = `{"meter":"api_requests","value":1}`
	}
	body := `{"events":[` + strings.Join(events, ",") + `]}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodPost, "/usage/ingest", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationBatchSize))
	assert.Zero(t, ingest.calls)
}

func TestIngestHandlerRejectsUnknownFields(t *testing.T) {
	router := newUsageRouter(&fakeIngestService{}, &fakeQueryService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodPost, "/usage/ingest", `{"events":[],"bogus":true}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeValidationInvalidJSON))
}

func TestQueryHandlerSuccess(t *testing.T) {
	query := &fakeQueryService{page: &types.UsageSummaryPage{
		Data:    []types.UsageSummary{{ID: "sum_1", AggregatedValue: 42}},
		HasMore: true,
		LastID:  "sum_1",
	}}
	router := newUsageRouter(&fakeIngestService{}, query)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodGet,
		"/usage?meter=api_requests&limit=25&starting_after=sum_0&grouping_window=day", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api_requests", query.gotQuery.Meter)
	assert.Equal(t, 25, query.gotQuery.Limit)
	assert.Equal(t, "sum_0", query.gotQuery.StartingAfter)
	assert.Equal(t, "day", query.gotQuery.GroupingWindow)
	assert.Contains(t, rec.Body.String(), `"sum_1"`)
}

func TestQueryHandlerRequiresMeter(t *testing.T) {
	router := newUsageRouter(&fakeIngestService{}, &fakeQueryService{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodGet, "/usage", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryHandlerRejectsBadLimit(t *testing.T) {
	router := newUsageRouter(&fakeIngestService{}, &fakeQueryService{})

	for _, raw := range []string{"abc", "0", "-5"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, actorRequest(http.MethodGet, "/usage?meter=api_requests&limit="+raw, ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", raw)
	}
}

func TestQueryHandlerPropagatesServiceError(t *testing.T) {
	query := &fakeQueryService{err: types.NewAppError(
		types.ErrCodeBillingMeterNotRegistered,
		"meter not registered with the billing provider",
		nil,
	)}
	router := newUsageRouter(&fakeIngestService{}, query)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, actorRequest(http.MethodGet, "/usage?meter=api_requests", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrCodeBillingMeterNotRegistered))
}

// Package handlers contains the HTTP handler implementations for the
// metergate API.
//
// This file implements the usage endpoints: batch event ingestion and
// paginated aggregated summaries.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"metergate/internal/core"
	"metergate/internal/types"
)

// maxIngestBatchSize caps the number of events per ingestion request.
const maxIngestBatchSize = 100

// UsageIngestService processes one batch of usage events.
type UsageIngestService interface {
	Ingest(ctx context.Context, actor types.Actor, events []types.UsageEvent, kind types.TenantKind, referenceID string) ([]types.EventResult, error)
}

// UsageQueryService serves one page of aggregated usage summaries.
type UsageQueryService interface {
	Query(ctx context.Context, actor types.Actor, q types.UsageQuery) (*types.UsageSummaryPage, error)
}

// IngestRequest is the request body for POST /v1/usage/ingest.
type IngestRequest struct {
	Events       []IngestEvent `json:"events" validate:"required,min=1,max=100,dive"`
	CustomerType string        `json:"customer_type,omitempty" validate:"omitempty,oneof=user organization"`
	ReferenceID  string        `json:"reference_id,omitempty"`
}

// IngestEvent is one event in an ingestion batch. Value accepts a JSON
// number or a numeric string. Timestamp, when present, must be RFC 3339.
// Identifier is the caller-supplied idempotency token, forwarded verbatim.
type IngestEvent struct {
	Meter      string `json:"meter" validate:"required"`
	Value      any    `json:"value" validate:"required"`
	Timestamp  string `json:"timestamp,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// IngestResponse is the response body for POST /v1/usage/ingest. Results are
// in the same order as the submitted events.
type IngestResponse struct {
	Results []types.EventResult `json:"results"`
}

// UsageHandler handles the usage endpoints.
type UsageHandler struct {
	ingest    UsageIngestService
	query     UsageQueryService
	validator *core.Validator
	logger    *slog.Logger
}

// NewUsageHandler creates a UsageHandler with the provided dependencies.
func NewUsageHandler(ingest UsageIngestService, query UsageQueryService, v *core.Validator, l *slog.Logger) *UsageHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UsageHandler{
		ingest:    ingest,
		query:     query,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the usage endpoints under the authenticated router.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/usage/ingest", h.Ingest)
	r.Get("/usage", h.Query)
}

// Ingest handles POST /v1/usage/ingest.
//
// The whole batch is rejected with 401/403/404 when the caller or tenant
// cannot be resolved. Past that point every event succeeds or fails on its
// own; the response always carries one result per submitted event, in
// submission order.
func (h *UsageHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req IngestRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if len(req.Events) > maxIngestBatchSize {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			"too many events in one batch",
			nil,
			map[string]any{"max": maxIngestBatchSize, "got": len(req.Events)},
		))
		return
	}

	events := make([]types.UsageEvent, len(req.Events))
	for i, e := range req.Events {
		events[i] = types.UsageEvent{
			Meter:      e.Meter,
			Value:      e.Value,
			Timestamp:  e.Timestamp,
			Identifier: e.Identifier,
		}
	}

	results, err := h.ingest.Ingest(r.Context(), actor, events, types.TenantKind(req.CustomerType), req.ReferenceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: IngestResponse{Results: results}})
}

// Query handles GET /v1/usage.
//
// Query parameters: meter (required), customer_type, reference_id, limit,
// starting_after, grouping_window.
func (h *UsageHandler) Query(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	q := types.UsageQuery{
		Meter:          r.URL.Query().Get("meter"),
		CustomerType:   types.TenantKind(r.URL.Query().Get("customer_type")),
		ReferenceID:    r.URL.Query().Get("reference_id"),
		StartingAfter:  r.URL.Query().Get("starting_after"),
		GroupingWindow: r.URL.Query().Get("grouping_window"),
	}

	if q.Meter == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"query parameter 'meter' is required",
			nil,
		))
		return
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"query parameter 'limit' must be a positive integer",
				nil,
			))
			return
		}
		q.Limit = limit
	}

	page, err := h.query.Query(r.Context(), actor, q)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: page})
}

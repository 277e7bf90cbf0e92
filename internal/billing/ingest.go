package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"metergate/internal/external"
	"metergate/internal/types"
)

// ingestConcurrency bounds per-batch fan-out to the provider. Events within a
// batch are independent, so they are dispatched concurrently, but the limit
// keeps a large batch from amplifying provider-side rate limiting.
const ingestConcurrency = 4

// EventSubmitter is the provider surface the ingestor needs.
type EventSubmitter interface {
	CreateMeterEvent(ctx context.Context, params external.MeterEventParams) error
}

// UsageIngestor validates a batch of usage events against the configured
// meter catalog, resolves the billing customer once, and submits each event
// to the provider independently, producing one outcome per input event.
type UsageIngestor struct {
	meters    map[string]types.Meter
	customers *CustomerResolver
	submitter EventSubmitter
	logger    *slog.Logger
}

// NewUsageIngestor creates a UsageIngestor over the given meter catalog.
func NewUsageIngestor(
	meters []types.Meter,
	customers *CustomerResolver,
	submitter EventSubmitter,
	logger *slog.Logger,
) *UsageIngestor {
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]types.Meter, len(meters))
	for _, m := range meters {
		byName[m.EventName] = m
	}

	return &UsageIngestor{
		meters:    byName,
		customers: customers,
		submitter: submitter,
		logger:    logger,
	}
}

// Ingest processes one batch of usage events for the tenant identified by
// (kind, referenceID) on behalf of actor.
//
// Authentication and customer resolution happen before any provider contact;
// a failure there aborts the whole batch. After that point every event is an
// independent unit of work: an unknown meter name or a provider-side error
// marks only that event's result as failed and never taints its siblings.
//
// Results are collected by input index, so the returned slice always has the
// same length and order as the input regardless of dispatch interleaving.
func (i *UsageIngestor) Ingest(
	ctx context.Context,
	actor types.Actor,
	events []types.UsageEvent,
	kind types.TenantKind,
	referenceID string,
) ([]types.EventResult, error) {
	ref, customerID, err := i.customers.Resolve(ctx, actor, kind, referenceID)
	if err != nil {
		return nil, err
	}

	results := make([]types.EventResult, len(events))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for idx, ev := range events {
		g.Go(func() error {
			// Outcomes are recorded per slot; errors never propagate to the
			// group, so sibling events are unaffected.
			results[idx] = i.submitOne(gCtx, customerID, ev)
			return nil
		})
	}
	// Workers always return nil; Wait only synchronizes completion.
	_ = g.Wait()

	i.logBatch(ctx, ref, results)
	return results, nil
}

// submitOne validates and submits a single event, returning its outcome.
func (i *UsageIngestor) submitOne(ctx context.Context, customerID string, ev types.UsageEvent) types.EventResult {
	result := types.EventResult{Meter: ev.Meter}

	if _, ok := i.meters[ev.Meter]; !ok {
		result.Error = fmt.Sprintf("meter %q is not configured", ev.Meter)
		return result
	}

	value, err := formatEventValue(ev.Value)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	params := external.MeterEventParams{
		EventName:  ev.Meter,
		CustomerID: customerID,
		Value:      value,
		Identifier: ev.Identifier,
	}

	if ev.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			result.Error = fmt.Sprintf("invalid timestamp %q: must be RFC 3339", ev.Timestamp)
			return result
		}
		epoch := t.Unix()
		params.Timestamp = &epoch
	}

	if err := i.submitter.CreateMeterEvent(ctx, params); err != nil {
		result.Error = providerErrorMessage(err)
		return result
	}

	result.Success = true
	return result
}

// formatEventValue converts a decoded JSON value into the provider's string
// payload. JSON numbers decode as float64; numeric strings pass through
// after validation.
func formatEventValue(v any) (string, error) {
	switch value := v.(type) {
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case string:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", fmt.Errorf("value %q is not numeric", value)
		}
		return value, nil
	case nil:
		return "", errors.New("value is required")
	default:
		return "", fmt.Errorf("value must be a number or numeric string, got %T", v)
	}
}

// providerErrorMessage extracts the client-facing message from a provider
// failure, falling back to a generic one.
func providerErrorMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return "failed to record usage with the billing provider"
}

// logBatch emits one structured summary per batch rather than one line per
// event.
func (i *UsageIngestor) logBatch(ctx context.Context, ref types.TenantRef, results []types.EventResult) {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	i.logger.InfoContext(ctx, "usage batch processed",
		"tenant_kind", ref.Kind,
		"tenant_id", ref.ID,
		"events", len(results),
		"failed", failed,
	)
}

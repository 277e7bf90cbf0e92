package external

import (
	"context"

	"metergate/internal/types"
)

// ---------------------------------------------------------------------------
// Billing Provider (Stripe)
// ---------------------------------------------------------------------------

// ListMetersParams are the parameters for one page of the provider's meter
// listing. StartingAfter is the ID of the last meter on the previous page.
type ListMetersParams struct {
	Limit         int
	StartingAfter string
}

// ProviderMeter is one meter object as the provider reports it.
type ProviderMeter struct {
	ID          string `json:"id"`
	EventName   string `json:"event_name"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// MeterPage is one bounded page of provider meters.
type MeterPage struct {
	Data    []ProviderMeter `json:"data"`
	HasMore bool            `json:"has_more"`
}

// MeterEventParams carries one usage observation to the provider.
// Timestamp is epoch seconds; nil lets the provider default to receipt time.
// Identifier is the caller-supplied idempotency token, forwarded verbatim
// when non-empty.
type MeterEventParams struct {
	EventName  string
	CustomerID string
	Value      string
	Timestamp  *int64
	Identifier string
}

// EventSummaryParams are the parameters of an aggregated usage listing.
type EventSummaryParams struct {
	Customer            string
	Limit               int
	StartingAfter       string
	ValueGroupingWindow string
}

// EventSummary is one provider-computed usage roll-up. Start and end times
// are epoch seconds as the provider reports them.
type EventSummary struct {
	ID              string  `json:"id"`
	AggregatedValue float64 `json:"aggregated_value"`
	StartTime       int64   `json:"start_time"`
	EndTime         int64   `json:"end_time"`
}

// EventSummaryPage is one bounded page of usage summaries.
type EventSummaryPage struct {
	Data    []EventSummary `json:"data"`
	HasMore bool           `json:"has_more"`
}

// MeterProvider abstracts the provider's metering surface: listing registered
// meters, submitting meter events, and querying aggregated summaries.
type MeterProvider interface {
	// ListMeters returns one page of active meters. Callers follow HasMore
	// with StartingAfter until the listing is exhausted.
	ListMeters(ctx context.Context, params ListMetersParams) (*MeterPage, error)

	// CreateMeterEvent submits a single usage event for a billing customer.
	CreateMeterEvent(ctx context.Context, params MeterEventParams) error

	// ListEventSummaries returns one page of aggregated usage for the given
	// provider meter ID and billing customer.
	ListEventSummaries(ctx context.Context, meterID string, params EventSummaryParams) (*EventSummaryPage, error)
}

// CustomerProvider abstracts the provider's customer and subscription
// surface, used by the checkout/portal flows and subscription reads.
type CustomerProvider interface {
	// EnsureCustomer retrieves or creates a provider customer for the given
	// tenant, persisting the mapping. Uses search-first logic to prevent
	// duplicates.
	EnsureCustomer(ctx context.Context, ref types.TenantRef, email string) (string, error)

	// CreateCheckoutSession generates a hosted checkout URL for the given
	// customer and price.
	CreateCheckoutSession(ctx context.Context, customerID, priceID string, ref types.TenantRef, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)

	// CreatePortalSession generates a self-serve billing portal URL.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (portalURL string, err error)

	// GetSubscription retrieves the customer's most recent subscription with
	// its line items. Returns a Subscription with Status "none" when the
	// customer has no subscription.
	GetSubscription(ctx context.Context, customerID string) (*types.Subscription, error)
}

// WebhookVerifier abstracts provider webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// Provider webhook event type constants prevent magic strings in handlers.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventSubUpdated        = "customer.subscription.updated"
	EventSubDeleted        = "customer.subscription.deleted"
)

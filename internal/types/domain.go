// Package types defines the shared domain model for the metergate platform:
// meter and plan configuration, tenant references, usage events and summaries,
// and the error taxonomy used across all layers.
package types

import "time"

// TenantKind discriminates the two kinds of billable tenants.
type TenantKind string

const (
	TenantUser         TenantKind = "user"
	TenantOrganization TenantKind = "organization"
)

// Valid reports whether the kind is one of the known variants.
func (k TenantKind) Valid() bool {
	return k == TenantUser || k == TenantOrganization
}

// TenantRef identifies the local entity that owns usage and subscriptions.
// It is a tagged variant so customer resolution can match exhaustively on
// Kind instead of interpreting an untyped string/flag pair.
type TenantRef struct {
	Kind TenantKind `json:"kind"`
	ID   string     `json:"id"`
}

// Meter is a configured usage counter. Meters are loaded once at startup and
// immutable for the process lifetime, uniquely keyed by EventName. EventName
// must match the event name the meter is registered under at the provider.
type Meter struct {
	EventName   string `json:"event_name" validate:"required"`
	DisplayName string `json:"display_name,omitempty"`
}

// Plan is a configuration entry describing a subscribable offering. A plan is
// matched to a provider subscription item by exact equality on PriceID or
// LookupKey; at least one of the two must be set for matching to succeed.
type Plan struct {
	Name            string `json:"name" validate:"required"`
	PriceID         string `json:"price_id,omitempty"`
	LookupKey       string `json:"lookup_key,omitempty"`
	AnnualPriceID   string `json:"annual_price_id,omitempty"`
	AnnualLookupKey string `json:"annual_lookup_key,omitempty"`
}

// Matches reports whether the plan's identifiers match the given price ID or
// lookup key. Empty identifiers never match.
func (p *Plan) Matches(priceID, lookupKey string) bool {
	if priceID != "" && (p.PriceID == priceID || p.AnnualPriceID == priceID) {
		return true
	}
	if lookupKey != "" && (p.LookupKey == lookupKey || p.AnnualLookupKey == lookupKey) {
		return true
	}
	return false
}

// SubscriptionItem is the normalized shape of one provider subscription line
// item, carrying only the identifiers plan matching needs.
type SubscriptionItem struct {
	ID        string `json:"id"`
	PriceID   string `json:"price_id"`
	LookupKey string `json:"lookup_key,omitempty"`
	Quantity  int64  `json:"quantity,omitempty"`
}

// PlanMatch pairs a subscription item with the configured plan it matched.
// Plan is nil for a single-item subscription whose item matched no configured
// plan; the item itself is still meaningful to the caller.
type PlanMatch struct {
	Item SubscriptionItem `json:"item"`
	Plan *Plan            `json:"plan,omitempty"`
}

// UsageEvent is one usage observation submitted by a caller. Value accepts a
// number or numeric string as provided. Identifier, when present, is forwarded
// verbatim to the provider as the idempotency token; it is never generated on
// the caller's behalf. Timestamp, when present, must be RFC 3339.
type UsageEvent struct {
	Meter      string `json:"meter" validate:"required"`
	Value      any    `json:"value" validate:"required"`
	Timestamp  string `json:"timestamp,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// EventResult is the per-event outcome of an ingestion batch. Results are
// returned in input order, one per event, never merged or reordered.
type EventResult struct {
	Meter   string `json:"meter"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// UsageSummary is one provider-computed roll-up of meter events over a time
// window, normalized to the platform shape.
type UsageSummary struct {
	ID              string    `json:"id"`
	AggregatedValue float64   `json:"aggregated_value"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

// UsageSummaryPage is one page of aggregated usage. LastID is set only when
// HasMore is true and is the cursor callers pass back as starting_after.
type UsageSummaryPage struct {
	Data    []UsageSummary `json:"data"`
	HasMore bool           `json:"has_more"`
	LastID  string         `json:"last_id,omitempty"`
}

// UsageQuery carries the parameters of a usage summary lookup.
type UsageQuery struct {
	Meter          string     `json:"meter"`
	CustomerType   TenantKind `json:"customer_type,omitempty"`
	ReferenceID    string     `json:"reference_id,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	StartingAfter  string     `json:"starting_after,omitempty"`
	GroupingWindow string     `json:"grouping_window,omitempty"`
}

// SubscriptionStatus is the provider-reported lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusUnpaid   SubscriptionStatus = "unpaid"
	SubStatusNone     SubscriptionStatus = "none"
)

// Subscription is the normalized view of a tenant's provider subscription.
type Subscription struct {
	ID                 string             `json:"id"`
	Status             SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	Items              []SubscriptionItem `json:"items"`
}

// BillingCustomer is one row of the tenant-to-provider-customer mapping store.
type BillingCustomer struct {
	TenantKind       TenantKind `json:"tenant_kind"`
	TenantID         string     `json:"tenant_id"`
	StripeCustomerID string     `json:"stripe_customer_id"`
	Email            string     `json:"email,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RedirectURLs holds the server-controlled success/cancel redirect targets
// for checkout sessions.
type RedirectURLs struct {
	Success string `json:"success"`
	Cancel  string `json:"cancel"`
}

// Session is an authenticated browser session. ActiveOrganizationID is the
// organization context the caller most recently switched into, empty when the
// caller is operating as an individual user.
type Session struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	ActiveOrganizationID string    `json:"active_organization_id,omitempty"`
	ExpiresAt            time.Time `json:"expires_at"`
	CreatedAt            time.Time `json:"created_at"`
}

// APIKey is a machine credential for server-side usage reporting. The secret
// is stored only as a bcrypt hash; the visible prefix supports lookup and
// display without exposing the secret.
type APIKey struct {
	ID        string     `json:"id"`
	Prefix    string     `json:"prefix"`
	KeyHash   string     `json:"-"`
	UserID    string     `json:"user_id"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"metergate/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// CustomerMappingWriter is the minimal persistence access the StripeClient
// needs: recording a freshly resolved tenant-to-customer mapping. This avoids
// pulling in the full customer repository interface.
type CustomerMappingWriter interface {
	// UpsertMapping stores or refreshes the provider customer ID for the
	// given tenant.
	UpsertMapping(ctx context.Context, ref types.TenantRef, customerID, email string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements MeterProvider and CustomerProvider by making direct
// HTTP calls to the Stripe REST API through BaseClient. This routes all
// requests through the platform's resilience infrastructure (circuit breaker,
// retries, error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	mappings  CustomerMappingWriter
	logger    *slog.Logger
}

// Compile-time interface assertions.
var (
	_ MeterProvider    = (*StripeClient)(nil)
	_ CustomerProvider = (*StripeClient)(nil)
)

// NewStripeClient creates a new StripeClient.
func NewStripeClient(
	httpClient *http.Client,
	mappings CustomerMappingWriter,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"Metergate/1.0",
	)
	return NewStripeClientWithBase(base, mappings, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful in tests to control retry and breaker behavior.
func NewStripeClientWithBase(
	base *BaseClient,
	mappings CustomerMappingWriter,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		mappings:  mappings,
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// MeterProvider Implementation
// ---------------------------------------------------------------------------

// ListMeters returns one page of active billing meters.
func (s *StripeClient) ListMeters(ctx context.Context, params ListMetersParams) (*MeterPage, error) {
	query := url.Values{}
	query.Set("status", "active")
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	query.Set("limit", strconv.Itoa(limit))
	if params.StartingAfter != "" {
		query.Set("starting_after", params.StartingAfter)
	}

	resp, err := s.doGet(ctx, "/v1/billing/meters", query)
	if err != nil {
		return nil, s.wrapStripeError("ListMeters", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListMeters")
	}

	var page MeterPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe meter listing response",
			err,
		)
	}

	return &page, nil
}

// CreateMeterEvent submits a single usage event. The caller-supplied
// identifier, when present, is forwarded verbatim as the idempotency token;
// when absent, Stripe assigns its own.
func (s *StripeClient) CreateMeterEvent(ctx context.Context, params MeterEventParams) error {
	form := url.Values{}
	form.Set("event_name", params.EventName)
	form.Set("payload[stripe_customer_id]", params.CustomerID)
	form.Set("payload[value]", params.Value)
	if params.Timestamp != nil {
		form.Set("timestamp", strconv.FormatInt(*params.Timestamp, 10))
	}
	if params.Identifier != "" {
		form.Set("identifier", params.Identifier)
	}

	resp, err := s.doPost(ctx, "/v1/billing/meter_events", form)
	if err != nil {
		return s.wrapStripeError("CreateMeterEvent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "CreateMeterEvent")
	}

	// The acknowledgment body carries no information the caller needs.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ListEventSummaries returns one page of aggregated usage for the given
// provider meter ID and billing customer.
func (s *StripeClient) ListEventSummaries(ctx context.Context, meterID string, params EventSummaryParams) (*EventSummaryPage, error) {
	query := url.Values{}
	query.Set("customer", params.Customer)
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.StartingAfter != "" {
		query.Set("starting_after", params.StartingAfter)
	}
	if params.ValueGroupingWindow != "" {
		query.Set("value_grouping_window", params.ValueGroupingWindow)
	}

	path := "/v1/billing/meters/" + url.PathEscape(meterID) + "/event_summaries"
	resp, err := s.doGet(ctx, path, query)
	if err != nil {
		return nil, s.wrapStripeError("ListEventSummaries", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListEventSummaries")
	}

	var page EventSummaryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe event summaries response",
			err,
		)
	}

	return &page, nil
}

// ---------------------------------------------------------------------------
// CustomerProvider Implementation
// ---------------------------------------------------------------------------

// EnsureCustomer retrieves or creates a Stripe customer for the given tenant.
// Uses search-first logic to prevent duplicates:
//  1. Query the Stripe Search API for a tenant metadata match.
//  2. If found, persist and return the existing customer ID.
//  3. If not found, create a new customer tagged with tenant metadata.
//  4. Persist the mapping locally.
func (s *StripeClient) EnsureCustomer(ctx context.Context, ref types.TenantRef, email string) (string, error) {
	searchQuery := fmt.Sprintf(
		"metadata['tenant_kind']:'%s' AND metadata['tenant_id']:'%s'",
		ref.Kind, ref.ID,
	)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeCustomerList
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		s.persistMapping(ctx, ref, customerID, email)
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[tenant_kind]", string(ref.Kind))
	createParams.Set("metadata[tenant_id]", ref.ID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	s.persistMapping(ctx, ref, customer.ID, email)
	return customer.ID, nil
}

// persistMapping stores the mapping, logging instead of failing: the customer
// exists at the provider either way and the next resolution retries the write.
func (s *StripeClient) persistMapping(ctx context.Context, ref types.TenantRef, customerID, email string) {
	if s.mappings == nil {
		return
	}
	if err := s.mappings.UpsertMapping(ctx, ref, customerID, email); err != nil {
		s.logger.WarnContext(ctx, "failed to persist billing customer mapping",
			"tenant_kind", ref.Kind,
			"tenant_id", ref.ID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session URL for a
// subscription to the given price.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	customerID, priceID string,
	ref types.TenantRef,
	urls types.RedirectURLs,
) (string, string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("client_reference_id", ref.ID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("metadata[tenant_kind]", string(ref.Kind))
	params.Set("metadata[tenant_id]", ref.ID)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// GetSubscription retrieves the customer's most recent subscription with its
// line items. Returns Status "none" when no subscription exists.
func (s *StripeClient) GetSubscription(ctx context.Context, customerID string) (*types.Subscription, error) {
	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", query)
	if err != nil {
		return nil, s.wrapStripeError("GetSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var listResp stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscriptions response",
			err,
		)
	}

	if len(listResp.Data) == 0 {
		return &types.Subscription{Status: types.SubStatusNone}, nil
	}

	return mapStripeSubscription(&listResp.Data[0]), nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
			map[string]any{
				"stripe_code": stripeErr.Error.Code,
				"stripe_type": stripeErr.Error.Type,
			},
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with operation context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors (circuit breaker, retries exhausted) already carry
	// the right upstream error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCustomerList struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID                 string                  `json:"id"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	Items              stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	ID       string      `json:"id"`
	Quantity int64       `json:"quantity"`
	Price    stripePrice `json:"price"`
}

type stripePrice struct {
	ID        string `json:"id"`
	LookupKey string `json:"lookup_key"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// mapStripeSubscription converts a Stripe subscription to the domain shape.
func mapStripeSubscription(sub *stripeSubscription) *types.Subscription {
	out := &types.Subscription{
		ID:                 sub.ID,
		Status:             mapSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	for _, item := range sub.Items.Data {
		out.Items = append(out.Items, types.SubscriptionItem{
			ID:        item.ID,
			PriceID:   item.Price.ID,
			LookupKey: item.Price.LookupKey,
			Quantity:  item.Quantity,
		})
	}
	return out
}

// mapSubscriptionStatus converts a Stripe status string to the domain enum.
func mapSubscriptionStatus(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubStatusActive
	case "trialing":
		return types.SubStatusTrialing
	case "past_due":
		return types.SubStatusPastDue
	case "canceled":
		return types.SubStatusCanceled
	case "unpaid":
		return types.SubStatusUnpaid
	default:
		return types.SubscriptionStatus(status)
	}
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature verification (HMAC-SHA256 with timestamp tolerance).
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

// This file implements the billing endpoints: checkout and portal session
// creation and the subscription read. Redirect URLs are constructed
// server-side from the configured dashboard URL so client input can never
// steer the browser.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"metergate/internal/billing"
	"metergate/internal/config"
	"metergate/internal/core"
	"metergate/internal/types"
)

// CustomerService abstracts the provider's customer and subscription surface.
// Satisfied by external.StripeClient.
type CustomerService interface {
	EnsureCustomer(ctx context.Context, ref types.TenantRef, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID string, ref types.TenantRef, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (portalURL string, err error)
	GetSubscription(ctx context.Context, customerID string) (*types.Subscription, error)
}

// TenantDirectory provides the billing contact email for a tenant.
type TenantDirectory interface {
	GetBillingEmail(ctx context.Context, ref types.TenantRef) (string, error)
}

// CheckoutRequest is the request body for POST /v1/billing/checkout-session.
type CheckoutRequest struct {
	Plan         string `json:"plan" validate:"required"`
	Annual       bool   `json:"annual,omitempty"`
	CustomerType string `json:"customer_type,omitempty" validate:"omitempty,oneof=user organization"`
	ReferenceID  string `json:"reference_id,omitempty"`
}

// CheckoutResponse is the response for POST /v1/billing/checkout-session.
type CheckoutResponse struct {
	CheckoutURL string    `json:"checkout_url"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PortalRequest is the request body for POST /v1/billing/portal-session.
type PortalRequest struct {
	CustomerType string `json:"customer_type,omitempty" validate:"omitempty,oneof=user organization"`
	ReferenceID  string `json:"reference_id,omitempty"`
}

// PortalResponse is the response for POST /v1/billing/portal-session.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// SubscriptionResponse is the response for GET /v1/billing/subscription.
// Plan and Item are null when the subscription's items match no configured
// plan; Status is "none" when the tenant has no subscription at all.
type SubscriptionResponse struct {
	Status            types.SubscriptionStatus `json:"status"`
	Plan              *types.Plan              `json:"plan,omitempty"`
	Item              *types.SubscriptionItem  `json:"item,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end,omitempty"`
	PeriodStart       *time.Time               `json:"period_start,omitempty"`
	PeriodEnd         *time.Time               `json:"period_end,omitempty"`
}

// BillingHandler handles synchronous billing actions initiated by the user.
type BillingHandler struct {
	service      CustomerService
	customers    *billing.CustomerResolver
	catalog      *billing.PlanCatalog
	directory    TenantDirectory
	validator    *core.Validator
	dashboardURL string
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(
	svc CustomerService,
	customers *billing.CustomerResolver,
	catalog *billing.PlanCatalog,
	directory TenantDirectory,
	cfg *config.Config,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}

	dashboardURL := ""
	if cfg != nil {
		dashboardURL = cfg.Server.DashboardURL
	}

	return &BillingHandler{
		service:      svc,
		customers:    customers,
		catalog:      catalog,
		directory:    directory,
		validator:    v,
		dashboardURL: dashboardURL,
		logger:       l,
	}
}

// RegisterRoutes mounts the billing endpoints under the authenticated router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout-session", h.CreateCheckoutSession)
	r.Post("/billing/portal-session", h.CreatePortalSession)
	r.Get("/billing/subscription", h.GetSubscription)
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session.
//
//  1. Decode and validate the request; the plan must exist in the catalog
//     and carry a price ID for the requested billing interval.
//  2. Resolve the tenant (membership enforced for organizations).
//  3. Ensure a provider customer exists (search-first, mapping persisted).
//  4. Create the session with server-controlled redirect URLs.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plan := h.catalog.ByName(req.Plan)
	if plan == nil {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"unknown plan",
			nil,
			map[string]any{"plan": req.Plan},
		))
		return
	}

	priceID := plan.PriceID
	if req.Annual {
		priceID = plan.AnnualPriceID
	}
	if priceID == "" {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"plan has no price for the requested billing interval",
			nil,
			map[string]any{"plan": req.Plan, "annual": req.Annual},
		))
		return
	}

	ref, err := h.customers.ResolveTenant(r.Context(), actor, types.TenantKind(req.CustomerType), req.ReferenceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customerID, err := h.ensureCustomer(r.Context(), ref)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	urls := types.RedirectURLs{
		Success: h.dashboardURL + "/billing?success=true",
		Cancel:  h.dashboardURL + "/billing?canceled=true",
	}

	checkoutURL, sessionID, err := h.service.CreateCheckoutSession(r.Context(), customerID, priceID, ref, urls)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"tenant_kind", ref.Kind,
			"tenant_id", ref.ID,
			"plan", req.Plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	resp := CheckoutResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
		// Checkout sessions expire after 24 hours per Stripe's default.
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// CreatePortalSession handles POST /v1/billing/portal-session.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	// The body is optional; an absent body selects the caller's own scope.
	var req PortalRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	ref, err := h.customers.ResolveTenant(r.Context(), actor, types.TenantKind(req.CustomerType), req.ReferenceID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customerID, err := h.ensureCustomer(r.Context(), ref)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	portalURL, err := h.service.CreatePortalSession(r.Context(), customerID, h.dashboardURL+"/billing")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			"tenant_kind", ref.Kind,
			"tenant_id", ref.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalResponse{PortalURL: portalURL}})
}

// GetSubscription handles GET /v1/billing/subscription.
// A tenant with no customer mapping or no subscription gets status "none"
// rather than an error, so dashboards can render the unsubscribed state.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	kind := types.TenantKind(r.URL.Query().Get("customer_type"))
	referenceID := r.URL.Query().Get("reference_id")

	_, customerID, err := h.customers.Resolve(r.Context(), actor, kind, referenceID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundCustomer {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: SubscriptionResponse{Status: types.SubStatusNone}})
			return
		}
		core.Error(w, r, err)
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), customerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SubscriptionResponse{Status: sub.Status}
	if sub.Status != types.SubStatusNone {
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if !sub.CurrentPeriodStart.IsZero() {
			start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
			resp.PeriodStart, resp.PeriodEnd = &start, &end
		}
		if match := h.catalog.ResolveActivePlan(sub.Items); match != nil {
			item := match.Item
			resp.Item = &item
			resp.Plan = match.Plan
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// ensureCustomer looks up the tenant's email and guarantees a provider
// customer exists, persisting the mapping as a side effect.
func (h *BillingHandler) ensureCustomer(ctx context.Context, ref types.TenantRef) (string, error) {
	email, err := h.directory.GetBillingEmail(ctx, ref)
	if err != nil {
		return "", err
	}

	customerID, err := h.service.EnsureCustomer(ctx, ref, email)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to ensure provider customer",
			"tenant_kind", ref.Kind,
			"tenant_id", ref.ID,
			"error", err,
		)
		return "", err
	}
	return customerID, nil
}

// This file implements the Stripe webhook handler.
//
// The handler is NOT behind auth middleware; it is called directly by the
// provider. Security is provided by verifying the Stripe-Signature header.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"metergate/internal/core"
	"metergate/internal/external"
	"metergate/internal/types"
)

// maxWebhookBodySize caps the webhook payload at 64 KB. Stripe event payloads
// are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// SubscriptionStateUpdater syncs provider subscription state onto the local
// customer mapping. Subset of db.SubscriptionStateRepo.
type SubscriptionStateUpdater interface {
	UpdateSubscriptionStatus(ctx context.Context, stripeCustomerID string, status types.SubscriptionStatus, eventTimestamp time.Time) error
}

// MappingWriter persists a tenant-to-customer mapping discovered from a
// webhook. Subset of db.BillingCustomerRepo.
type MappingWriter interface {
	UpsertMapping(ctx context.Context, ref types.TenantRef, customerID, email string) error
}

// StripeWebhookHandler handles asynchronous events from Stripe.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	subs     SubscriptionStateUpdater
	mappings MappingWriter
	secret   types.SecretString
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	subs SubscriptionStateUpdater,
	mappings MappingWriter,
	secret types.SecretString,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		subs:     subs,
		mappings: mappings,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. The route is public; the
// auth middleware skips it by path.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/webhook", h.Handle)
}

// Handle processes incoming Stripe webhook events: read, verify signature,
// parse, dispatch by type, acknowledge. Internal processing failures are
// logged but still acknowledged with 200 so the provider does not retry
// forever; the optimistic lock in the state repo makes redelivery safe
// anyway.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)
	case external.EventSubUpdated:
		return h.handleSubscriptionUpdated(ctx, event)
	case external.EventSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted confirms a new subscription after checkout. The
// session metadata carries the tenant tag written at session creation; the
// mapping is refreshed in case checkout completed on a customer the local
// store has not seen.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	ref, ok := event.tenantRef()
	customerID := event.Data.Object.Customer
	if !ok || customerID == "" {
		return fmt.Errorf("%s: missing tenant metadata or customer in event %s", event.Type, event.ID)
	}

	if err := h.mappings.UpsertMapping(ctx, ref, customerID, event.Data.Object.CustomerEmail); err != nil {
		return err
	}

	return h.subs.UpdateSubscriptionStatus(ctx, customerID, types.SubStatusActive, event.timestamp())
}

// handleSubscriptionUpdated covers upgrades, downgrades, and payment state
// transitions.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	customerID := event.Data.Object.Customer
	if customerID == "" {
		return fmt.Errorf("%s: missing customer in event %s", event.Type, event.ID)
	}

	status := types.SubscriptionStatus(event.Data.Object.Status)
	if status == "" {
		status = types.SubStatusActive
	}

	return h.subs.UpdateSubscriptionStatus(ctx, customerID, status, event.timestamp())
}

// handleSubscriptionDeleted reverts the tenant to the unsubscribed state.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	customerID := event.Data.Object.Customer
	if customerID == "" {
		return fmt.Errorf("%s: missing customer in event %s", event.Type, event.ID)
	}

	return h.subs.UpdateSubscriptionStatus(ctx, customerID, types.SubStatusCanceled, event.timestamp())
}

// stripeWebhookEvent is the subset of the provider event envelope this
// handler reads.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID            string            `json:"id"`
			Customer      string            `json:"customer"`
			CustomerEmail string            `json:"customer_email"`
			Status        string            `json:"status"`
			Metadata      map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// tenantRef reads the tenant tag written into session metadata at creation.
func (e *stripeWebhookEvent) tenantRef() (types.TenantRef, bool) {
	kind := e.Data.Object.Metadata["tenant_kind"]
	id := e.Data.Object.Metadata["tenant_id"]
	if kind == "" || id == "" {
		return types.TenantRef{}, false
	}
	return types.TenantRef{Kind: types.TenantKind(kind), ID: id}, true
}

// timestamp returns the event creation time, used for optimistic ordering.
func (e *stripeWebhookEvent) timestamp() time.Time {
	if e.Created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(e.Created, 0).UTC()
}

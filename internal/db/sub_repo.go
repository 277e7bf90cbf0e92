package db

import (
	"context"
	"log/slog"
	"time"

	"metergate/internal/types"
)

// SubscriptionStateRepo synchronizes provider subscription state onto the
// local customer mapping, driven by webhook events.
//
// Key invariant: UpdateSubscriptionStatus uses optimistic locking via
// last_subscription_event_at so out-of-order webhook deliveries cannot
// regress the stored status.
type SubscriptionStateRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionStateRepo creates a SubscriptionStateRepo backed by the
// given connection (pool or transaction).
func NewSubscriptionStateRepo(db DBTX, logger *slog.Logger) *SubscriptionStateRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionStateRepo{db: db, logger: logger}
}

// UpdateSubscriptionStatus records the latest subscription status for the
// tenant mapped to the given provider customer. Events older than the stored
// last_subscription_event_at are silently ignored (idempotent no-op), which
// makes webhook retries and out-of-order delivery safe.
func (r *SubscriptionStateRepo) UpdateSubscriptionStatus(
	ctx context.Context,
	stripeCustomerID string,
	status types.SubscriptionStatus,
	eventTimestamp time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE billing_customers
		 SET subscription_status = $1,
		     last_subscription_event_at = $2,
		     updated_at = NOW()
		 WHERE stripe_customer_id = $3
		   AND (last_subscription_event_at IS NULL OR last_subscription_event_at < $2)`,
		string(status),
		eventTimestamp,
		stripeCustomerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription status", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the customer is unmapped or the event is stale. Both are
		// benign for webhook processing; log for visibility.
		r.logger.Info("subscription event ignored",
			slog.String("stripe_customer_id", stripeCustomerID),
			slog.String("status", string(status)),
			slog.Time("event_timestamp", eventTimestamp),
		)
	}

	return nil
}

package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// BillingCustomerRepo persists the tenant-to-provider-customer mapping.
// It backs both the resolver's read path (GetCustomerID) and the Stripe
// client's write-back path (UpsertMapping).
type BillingCustomerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewBillingCustomerRepo creates a BillingCustomerRepo backed by the given
// database connection (pool or transaction).
func NewBillingCustomerRepo(db DBTX, logger *slog.Logger) *BillingCustomerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingCustomerRepo{db: db, logger: logger}
}

// GetCustomerID returns the provider customer ID stored for the tenant.
// Returns ("", nil) when no mapping exists; the caller decides whether that
// is an error or a trigger for lazy provisioning.
func (r *BillingCustomerRepo) GetCustomerID(ctx context.Context, ref types.TenantRef) (string, error) {
	var customerID string
	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id FROM billing_customers
		 WHERE tenant_kind = $1 AND tenant_id = $2`,
		string(ref.Kind), ref.ID,
	).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up billing customer", err)
	}
	return customerID, nil
}

// UpsertMapping stores or refreshes the provider customer ID for a tenant.
// The provider is the source of truth for customer identity, so a conflicting
// row is overwritten with the latest ID.
func (r *BillingCustomerRepo) UpsertMapping(ctx context.Context, ref types.TenantRef, customerID, email string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO billing_customers (tenant_kind, tenant_id, stripe_customer_id, email, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (tenant_kind, tenant_id)
		 DO UPDATE SET stripe_customer_id = EXCLUDED.stripe_customer_id,
		               email = EXCLUDED.email,
		               updated_at = NOW()`,
		string(ref.Kind), ref.ID, customerID, email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert billing customer mapping", err)
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// OrganizationRepo answers organization membership and contact queries.
type OrganizationRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewOrganizationRepo creates an OrganizationRepo backed by the given
// connection.
func NewOrganizationRepo(db DBTX, logger *slog.Logger) *OrganizationRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationRepo{db: db, logger: logger}
}

// IsMember reports whether userID belongs to the organization. Deleted
// organizations have no members.
func (r *OrganizationRepo) IsMember(ctx context.Context, orgID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM organization_members m
		   JOIN organizations o ON o.id = m.organization_id
		   WHERE m.organization_id = $1
		     AND m.user_id = $2
		     AND o.deleted_at IS NULL
		 )`,
		orgID, userID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check organization membership", err)
	}
	return exists, nil
}

// GetBillingEmail returns the organization's billing contact email.
func (r *OrganizationRepo) GetBillingEmail(ctx context.Context, orgID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT billing_email FROM organizations WHERE id = $1 AND deleted_at IS NULL`,
		orgID,
	).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to fetch organization", err)
	}
	return email, nil
}

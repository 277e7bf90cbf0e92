package db

import (
	"context"
	"fmt"

	"metergate/internal/types"
)

// TenantDirectory answers tenant contact queries across both tenant kinds by
// delegating to the user and organization repos.
type TenantDirectory struct {
	Users *UserRepo
	Orgs  *OrganizationRepo
}

// NewTenantDirectory creates a TenantDirectory over the given repos.
func NewTenantDirectory(users *UserRepo, orgs *OrganizationRepo) *TenantDirectory {
	return &TenantDirectory{Users: users, Orgs: orgs}
}

// GetBillingEmail returns the billing contact email for the tenant.
func (d *TenantDirectory) GetBillingEmail(ctx context.Context, ref types.TenantRef) (string, error) {
	switch ref.Kind {
	case types.TenantUser:
		return d.Users.GetBillingEmail(ctx, ref.ID)
	case types.TenantOrganization:
		return d.Orgs.GetBillingEmail(ctx, ref.ID)
	default:
		return "", types.NewAppError(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("unknown tenant kind %q", ref.Kind),
			nil,
		)
	}
}

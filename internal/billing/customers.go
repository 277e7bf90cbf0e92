package billing

import (
	"context"
	"fmt"

	"metergate/internal/types"
)

// CustomerStore provides read access to the tenant-to-provider-customer
// mapping. This is a focused interface to avoid depending on the full
// customer repository.
type CustomerStore interface {
	// GetCustomerID returns the provider customer ID for the given tenant.
	// Returns ("", nil) when the tenant exists but has no stored mapping.
	GetCustomerID(ctx context.Context, ref types.TenantRef) (string, error)
}

// MembershipStore answers whether a user belongs to an organization.
type MembershipStore interface {
	IsMember(ctx context.Context, orgID, userID string) (bool, error)
}

// CustomerResolver resolves a tenant reference and the caller's identity to
// the tenant's billing-provider customer ID, enforcing that the caller is
// entitled to act for that tenant before any provider contact happens.
type CustomerResolver struct {
	store       CustomerStore
	members     MembershipStore
	orgsEnabled bool
}

// NewCustomerResolver creates a CustomerResolver. orgsEnabled gates
// organization-scoped resolution; when false, organization references are
// rejected outright.
func NewCustomerResolver(store CustomerStore, members MembershipStore, orgsEnabled bool) *CustomerResolver {
	return &CustomerResolver{
		store:       store,
		members:     members,
		orgsEnabled: orgsEnabled,
	}
}

// Resolve determines the tenant the request acts for and returns its
// provider customer ID.
//
// For kind "user" (the default when kind is empty), the tenant is the
// authenticated caller; an explicit referenceID naming a different user is
// rejected unless the actor is a system actor.
//
// For kind "organization", the tenant is the explicit referenceID or the
// caller's active organization, and the caller must be a member.
//
// A tenant with no stored mapping fails with ErrCodeNotFoundCustomer; it
// never reaches a provider call.
func (r *CustomerResolver) Resolve(ctx context.Context, actor types.Actor, kind types.TenantKind, referenceID string) (types.TenantRef, string, error) {
	ref, err := r.ResolveTenant(ctx, actor, kind, referenceID)
	if err != nil {
		return types.TenantRef{}, "", err
	}

	customerID, err := r.store.GetCustomerID(ctx, ref)
	if err != nil {
		return types.TenantRef{}, "", err
	}
	if customerID == "" {
		return types.TenantRef{}, "", types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s %s has no billing customer", ref.Kind, ref.ID),
			nil,
			map[string]any{
				"tenant_kind": string(ref.Kind),
				"tenant_id":   ref.ID,
			},
		)
	}

	return ref, customerID, nil
}

// ResolveTenant performs the authentication and entitlement half of Resolve
// without requiring a stored customer mapping. Checkout flows use it to
// identify the tenant before the mapping exists.
func (r *CustomerResolver) ResolveTenant(ctx context.Context, actor types.Actor, kind types.TenantKind, referenceID string) (types.TenantRef, error) {
	if actor.UserID == "" && actor.Type != types.ActorTypeSystem {
		return types.TenantRef{}, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"authentication required",
			nil,
		)
	}

	ref, err := r.resolveTenant(actor, kind, referenceID)
	if err != nil {
		return types.TenantRef{}, err
	}

	if ref.Kind == types.TenantOrganization {
		if err := r.checkMembership(ctx, actor, ref.ID); err != nil {
			return types.TenantRef{}, err
		}
	}

	return ref, nil
}

// resolveTenant maps the (kind, referenceID, actor) triple to a concrete
// tenant reference. The match on kind is exhaustive over the tagged variant.
func (r *CustomerResolver) resolveTenant(actor types.Actor, kind types.TenantKind, referenceID string) (types.TenantRef, error) {
	if kind == "" {
		kind = types.TenantUser
	}

	switch kind {
	case types.TenantUser:
		id := actor.UserID
		if referenceID != "" && referenceID != actor.UserID {
			if actor.Type != types.ActorTypeSystem {
				return types.TenantRef{}, types.NewAppError(
					types.ErrCodePermissionTenantMismatch,
					"cannot act on another user's billing data",
					nil,
				)
			}
			id = referenceID
		}
		return types.TenantRef{Kind: types.TenantUser, ID: id}, nil

	case types.TenantOrganization:
		if !r.orgsEnabled {
			return types.TenantRef{}, types.NewAppError(
				types.ErrCodePermissionOrgDisabled,
				"organization billing is not enabled",
				nil,
			)
		}
		id := referenceID
		if id == "" {
			id = actor.ActiveOrganizationID
		}
		if id == "" {
			return types.TenantRef{}, types.NewAppError(
				types.ErrCodeNotFoundOrg,
				"no organization in scope: supply reference_id or switch into an organization",
				nil,
			)
		}
		return types.TenantRef{Kind: types.TenantOrganization, ID: id}, nil

	default:
		return types.TenantRef{}, types.NewAppError(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("unknown customer type %q", kind),
			nil,
		)
	}
}

// checkMembership verifies the caller belongs to the organization. System
// actors bypass the check.
func (r *CustomerResolver) checkMembership(ctx context.Context, actor types.Actor, orgID string) error {
	if actor.Type == types.ActorTypeSystem {
		return nil
	}

	ok, err := r.members.IsMember(ctx, orgID, actor.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return types.NewAppError(
			types.ErrCodePermissionNotMember,
			"caller is not a member of the referenced organization",
			nil,
		)
	}
	return nil
}

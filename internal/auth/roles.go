package auth

import (
	"context"
	"fmt"
	"strings"
)

// EnsureAdminRetained rejects a change that would leave the tenant without an
// admin role. adminCount must be read in the same transaction as the write.
func EnsureAdminRetained(current *Role, next PermissionTier, adminCount int) error {
	if current.Tier == TierAdmin && next != TierAdmin && adminCount <= 1 {
		return ErrAdminRoleRequired
	}
	return nil
}

// RoleUpdate carries the editable attributes of a role.
type RoleUpdate struct {
	Name string
	Tier PermissionTier
}

// ListRoles returns the tenant's roles, newest first.
func (s *Service) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	return s.store.Roles(ctx).ListByTenant(ctx, tenantID)
}

// CreateRole adds a role to a tenant. Creation never threatens the admin invariant.
func (s *Service) CreateRole(ctx context.Context, tenantID, name string, tier PermissionTier) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrValidationFailed)
	}
	if _, err := ParsePermissionTier(string(tier)); err != nil {
		return nil, err
	}
	role := &Role{TenantID: tenantID, Name: name, Tier: tier}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole renames a role and/or changes its tier. Demoting the tenant's
// last admin role fails with ErrAdminRoleRequired.
func (s *Service) UpdateRole(ctx context.Context, tenantID, roleID string, upd RoleUpdate) (*Role, error) {
	name := strings.TrimSpace(upd.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrValidationFailed)
	}
	tier, err := ParsePermissionTier(string(upd.Tier))
	if err != nil {
		return nil, err
	}
	return s.store.Roles(ctx).Update(ctx, tenantID, roleID, func(role *Role, adminCount int) error {
		if err := EnsureAdminRetained(role, tier, adminCount); err != nil {
			return err
		}
		role.Name = name
		role.Tier = tier
		return nil
	})
}

// DeleteRole removes an unused role. The last admin role cannot be removed.
func (s *Service) DeleteRole(ctx context.Context, tenantID, roleID string) error {
	return s.store.Roles(ctx).Delete(ctx, tenantID, roleID, func(role *Role, adminCount int) error {
		return EnsureAdminRetained(role, TierGeneral, adminCount)
	})
}

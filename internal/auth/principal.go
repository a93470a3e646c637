package auth

import (
	"context"
	"fmt"

	"tenantgate.io/internal/session"
)

// Principal is a user together with the role and tenant it acts under.
type Principal struct {
	User   *User
	Role   *Role
	Tenant *Tenant
}

// IsAdmin reports whether the principal's role carries the admin tier.
func (p Principal) IsAdmin() bool { return p.Role.IsAdmin() }

// RequestContext is what the gateway resolves for an authenticated request.
type RequestContext struct {
	Principal
	Session *session.Session
}

// Principal loads the user with its role and tenant.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	role, err := s.store.Roles(ctx).Find(ctx, user.TenantID, user.RoleID)
	if err != nil {
		return Principal{}, fmt.Errorf("load role of user %s: %w", user.ID, err)
	}
	tenant, err := s.store.Tenants(ctx).Find(ctx, user.TenantID)
	if err != nil {
		return Principal{}, fmt.Errorf("load tenant of user %s: %w", user.ID, err)
	}
	return Principal{User: user, Role: role, Tenant: tenant}, nil
}

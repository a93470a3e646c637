package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserInput is the caller-supplied data for provisioning a user.
type UserInput struct {
	TenantID             string
	RoleID               string
	NameID               string
	Email                string
	Password             string
	PasswordConfirmation string
	DisplayName          string
}

// CreateUser provisions a user with credential and profile. The three rows
// are written in one transaction: either all exist afterwards or none do.
func (s *Service) CreateUser(ctx context.Context, in UserInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email address is required", ErrValidationFailed)
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" || len(name) > 255 {
		return nil, fmt.Errorf("%w: name is required and must be at most 255 characters", ErrValidationFailed)
	}
	if in.Password != in.PasswordConfirmation {
		return nil, fmt.Errorf("%w: password confirmation does not match", ErrValidationFailed)
	}
	role, err := s.store.Roles(ctx).Find(ctx, in.TenantID, in.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role does not belong to tenant", ErrValidationFailed)
		}
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users(ctx).Create(ctx, NewUser{
		TenantID:     in.TenantID,
		RoleID:       role.ID,
		NameID:       strings.TrimSpace(in.NameID),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  name,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user provisioned", "user_id", user.ID, "tenant_id", user.TenantID)
	return user, nil
}

// DeleteProfile removes the user's profile; the user keeps working with a sentinel display name.
func (s *Service) DeleteProfile(ctx context.Context, userID string) error {
	return s.store.Users(ctx).DeleteProfile(ctx, userID)
}

// FindUserByEmail maps an asserted identity to a user of the tenant.
func (s *Service) FindUserByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return s.store.Users(ctx).FindByEmail(ctx, tenantID, email)
}

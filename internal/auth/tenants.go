package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CreateTenant registers a tenant. Codes are URL-safe and double as SAML SP entity ids.
func (s *Service) CreateTenant(ctx context.Context, name, code string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	code = strings.TrimSpace(code)
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", ErrValidationFailed)
	}
	if !ValidTenantCode(code) {
		return nil, fmt.Errorf("%w: tenant code must be 1-50 letters, digits, dashes or underscores", ErrValidationFailed)
	}
	t := &Tenant{Name: name, Code: code}
	if err := s.store.Tenants(ctx).Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// TenantByCode resolves a tenant from its public code.
func (s *Service) TenantByCode(ctx context.Context, code string) (*Tenant, error) {
	if !ValidTenantCode(code) {
		return nil, ErrNotFound
	}
	return s.store.Tenants(ctx).FindByCode(ctx, code)
}

// SamlSetting returns the tenant's SAML configuration or ErrNotFound.
func (s *Service) SamlSetting(ctx context.Context, tenantID string) (*SamlSetting, error) {
	return s.store.SamlSettings(ctx).FindByTenant(ctx, tenantID)
}

// SamlEnabled reports whether a SAML configuration exists for the tenant.
func (s *Service) SamlEnabled(ctx context.Context, tenantID string) (bool, error) {
	_, err := s.SamlSetting(ctx, tenantID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SaveSamlSetting validates and stores setting. With create set it refuses to
// replace an existing configuration.
func (s *Service) SaveSamlSetting(ctx context.Context, setting *SamlSetting, create bool) error {
	setting.EntityID = strings.TrimSpace(setting.EntityID)
	setting.SSOURL = strings.TrimSpace(setting.SSOURL)
	setting.IDPCertificate = strings.TrimSpace(setting.IDPCertificate)
	method, err := ParseSamlRequestMethod(string(setting.RequestMethod))
	if err != nil {
		return err
	}
	setting.RequestMethod = method
	if err := setting.Validate(); err != nil {
		return err
	}
	if create {
		return s.store.SamlSettings(ctx).Create(ctx, setting)
	}
	return s.store.SamlSettings(ctx).Upsert(ctx, setting)
}

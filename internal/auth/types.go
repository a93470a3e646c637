package auth

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// PermissionTier is the authority a role grants inside its tenant.
type PermissionTier string

const (
	TierGeneral PermissionTier = "general"
	TierAdmin   PermissionTier = "admin"
)

// ParsePermissionTier accepts "general" or "admin" in any case.
func ParsePermissionTier(s string) (PermissionTier, error) {
	switch PermissionTier(strings.ToLower(strings.TrimSpace(s))) {
	case TierGeneral:
		return TierGeneral, nil
	case TierAdmin:
		return TierAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown permission type %q", ErrValidationFailed, s)
	}
}

// SamlRequestMethod is the binding used to deliver the AuthnRequest to the IdP.
type SamlRequestMethod string

const (
	SamlRequestGET  SamlRequestMethod = "GET"
	SamlRequestPOST SamlRequestMethod = "POST"
)

// ParseSamlRequestMethod accepts GET or POST in any case.
func ParseSamlRequestMethod(s string) (SamlRequestMethod, error) {
	switch SamlRequestMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case SamlRequestGET:
		return SamlRequestGET, nil
	case SamlRequestPOST:
		return SamlRequestPOST, nil
	default:
		return "", fmt.Errorf("%w: unknown SAML request method %q", ErrValidationFailed, s)
	}
}

// DeletedUserDisplayName is shown for users whose profile no longer exists.
const DeletedUserDisplayName = "already deleted"

var tenantCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// Tenant is the isolation boundary for users, roles and SAML configuration.
type Tenant struct {
	ID        string
	Name      string
	Code      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role groups users under a permission tier within one tenant.
type Role struct {
	ID        string
	TenantID  string
	Name      string
	Tier      PermissionTier
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin reports whether the role carries the admin tier.
func (r *Role) IsAdmin() bool { return r != nil && r.Tier == TierAdmin }

// User is an identity scoped to a tenant. NameID binds an externally asserted
// subject and is empty when unset.
type User struct {
	ID        string
	TenantID  string
	RoleID    string
	NameID    string
	Profile   *Profile
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the profile name, or DeletedUserDisplayName once the profile is gone.
func (u *User) DisplayName() string {
	if u == nil || u.Profile == nil {
		return DeletedUserDisplayName
	}
	return u.Profile.Name
}

// Profile holds display attributes for exactly one user.
type Profile struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential is the password authentication record of one user.
type Credential struct {
	ID           string
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SamlSetting is a tenant's identity provider configuration.
type SamlSetting struct {
	ID             string
	TenantID       string
	EntityID       string
	SSOURL         string
	IDPCertificate string
	RequestMethod  SamlRequestMethod
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks field constraints; blank entity id and SSO URL are allowed.
func (s *SamlSetting) Validate() error {
	if len(s.EntityID) > 255 {
		return fmt.Errorf("%w: entity id must be at most 255 characters", ErrValidationFailed)
	}
	if len(s.SSOURL) > 255 {
		return fmt.Errorf("%w: sso url must be at most 255 characters", ErrValidationFailed)
	}
	if s.SSOURL != "" {
		u, err := url.Parse(s.SSOURL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("%w: sso url must be an https URL", ErrValidationFailed)
		}
	}
	if strings.TrimSpace(s.IDPCertificate) == "" {
		return fmt.Errorf("%w: idp certificate is required", ErrValidationFailed)
	}
	if _, err := ParseSamlRequestMethod(string(s.RequestMethod)); err != nil {
		return err
	}
	return nil
}

// Complete reports whether the setting carries everything needed to federate.
func (s *SamlSetting) Complete() bool {
	return s != nil &&
		strings.TrimSpace(s.EntityID) != "" &&
		strings.TrimSpace(s.SSOURL) != "" &&
		strings.TrimSpace(s.IDPCertificate) != ""
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidTenantCode reports whether code is URL-safe: alphanumeric, dash or underscore, at most 50 characters.
func ValidTenantCode(code string) bool {
	return tenantCodePattern.MatchString(code)
}

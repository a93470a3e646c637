package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Tenants(ctx context.Context) TenantStore
	Users(ctx context.Context) UserStore
	Credentials(ctx context.Context) CredentialStore
	Roles(ctx context.Context) RoleStore
	SamlSettings(ctx context.Context) SamlSettingStore
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	FindByCode(ctx context.Context, code string) (*Tenant, error)
}

// NewUser carries everything persisted when a user is provisioned.
type NewUser struct {
	TenantID     string
	RoleID       string
	NameID       string
	Email        string
	PasswordHash string
	DisplayName  string
}

// UserStore manages users together with their profile.
type UserStore interface {
	// Create inserts the user, credential and profile in one transaction.
	Create(ctx context.Context, nu NewUser) (*User, error)
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail looks up a user of tenantID whose credential email equals the normalized email.
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*User, error)
	DeleteProfile(ctx context.Context, userID string) error
}

// CredentialStore manages password credentials.
type CredentialStore interface {
	Find(ctx context.Context, id string) (*Credential, error)
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	FindByUser(ctx context.Context, userID string) (*Credential, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleMutation edits role in place after observing adminCount, the number of
// admin roles of the tenant read inside the same transaction.
type RoleMutation func(role *Role, adminCount int) error

// RoleStore manages roles.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, tenantID, id string) (*Role, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Role, error)
	// Update serializes against other role mutations of the tenant, applies
	// mutate and persists the result atomically.
	Update(ctx context.Context, tenantID, id string, mutate RoleMutation) (*Role, error)
	// Delete runs check under the same serialization and removes the role.
	// It fails with ErrRoleInUse while users reference the role.
	Delete(ctx context.Context, tenantID, id string, check RoleMutation) error
}

// SamlSettingStore manages the per-tenant SAML configuration.
type SamlSettingStore interface {
	FindByTenant(ctx context.Context, tenantID string) (*SamlSetting, error)
	// Create fails with ErrAlreadyExists when the tenant already has a setting.
	Create(ctx context.Context, s *SamlSetting) error
	Upsert(ctx context.Context, s *SamlSetting) error
}

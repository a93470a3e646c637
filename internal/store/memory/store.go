// Package memory keeps every auth and session record in process memory. It
// backs development runs without a database and the test suites.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/ids"
	"tenantgate.io/internal/session"
)

var (
	_ auth.Store    = (*Store)(nil)
	_ session.Store = (*Store)(nil)
)

// Store is a mutex-guarded in-memory implementation of auth.Store and session.Store.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	tenants     map[string]*auth.Tenant
	roles       map[string]*auth.Role
	users       map[string]*auth.User
	profiles    map[string]*auth.Profile // by user id
	credentials map[string]*auth.Credential
	saml        map[string]*auth.SamlSetting // by tenant id
	sessions    map[string]*session.Session
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		tenants:     make(map[string]*auth.Tenant),
		roles:       make(map[string]*auth.Role),
		users:       make(map[string]*auth.User),
		profiles:    make(map[string]*auth.Profile),
		credentials: make(map[string]*auth.Credential),
		saml:        make(map[string]*auth.SamlSetting),
		sessions:    make(map[string]*session.Session),
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

func (s *Store) Tenants(context.Context) auth.TenantStore           { return tenantStore{s} }
func (s *Store) Users(context.Context) auth.UserStore               { return userStore{s} }
func (s *Store) Credentials(context.Context) auth.CredentialStore   { return credentialStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore               { return roleStore{s} }
func (s *Store) SamlSettings(context.Context) auth.SamlSettingStore { return samlStore{s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Tenant store ------------------------------------------------------------
type tenantStore struct{ s *Store }

func (t tenantStore) Create(_ context.Context, tenant *auth.Tenant) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, existing := range t.s.tenants {
		if existing.Name == tenant.Name || existing.Code == tenant.Code {
			return auth.ErrAlreadyExists
		}
	}
	if tenant.ID == "" {
		tenant.ID = ids.New()
	}
	now := t.s.now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	cp := *tenant
	t.s.tenants[tenant.ID] = &cp
	return nil
}

func (t tenantStore) Find(_ context.Context, id string) (*auth.Tenant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tenant, ok := t.s.tenants[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

func (t tenantStore) FindByCode(_ context.Context, code string) (*auth.Tenant, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, tenant := range t.s.tenants {
		if tenant.Code == code {
			cp := *tenant
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

// User store --------------------------------------------------------------
type userStore struct{ s *Store }

func (u userStore) Create(_ context.Context, nu auth.NewUser) (*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.tenants[nu.TenantID]; !ok {
		return nil, auth.ErrNotFound
	}
	role, ok := u.s.roles[nu.RoleID]
	if !ok || role.TenantID != nu.TenantID {
		return nil, auth.ErrNotFound
	}
	for _, c := range u.s.credentials {
		if c.Email == nu.Email {
			return nil, auth.ErrAlreadyExists
		}
	}
	for _, p := range u.s.profiles {
		if p.Name == nu.DisplayName {
			return nil, auth.ErrAlreadyExists
		}
	}
	if nu.NameID != "" {
		for _, existing := range u.s.users {
			if existing.TenantID == nu.TenantID && existing.NameID == nu.NameID {
				return nil, auth.ErrAlreadyExists
			}
		}
	}

	now := u.s.now().UTC()
	user := &auth.User{
		ID:        ids.New(),
		TenantID:  nu.TenantID,
		RoleID:    nu.RoleID,
		NameID:    nu.NameID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	profile := &auth.Profile{ID: ids.New(), UserID: user.ID, Name: nu.DisplayName, CreatedAt: now, UpdatedAt: now}
	cred := &auth.Credential{ID: ids.New(), UserID: user.ID, Email: nu.Email, PasswordHash: nu.PasswordHash, CreatedAt: now, UpdatedAt: now}
	u.s.users[user.ID] = user
	u.s.profiles[user.ID] = profile
	u.s.credentials[cred.ID] = cred
	return u.s.userCopy(user), nil
}

func (u userStore) Find(_ context.Context, id string) (*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u.s.userCopy(user), nil
}

func (u userStore) FindByEmail(_ context.Context, tenantID, email string) (*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, c := range u.s.credentials {
		if c.Email != email {
			continue
		}
		if user, ok := u.s.users[c.UserID]; ok && user.TenantID == tenantID {
			return u.s.userCopy(user), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u userStore) ListByTenant(_ context.Context, tenantID string) ([]*auth.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	var out []*auth.User
	for _, user := range u.s.users {
		if user.TenantID == tenantID {
			out = append(out, u.s.userCopy(user))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (u userStore) DeleteProfile(_ context.Context, userID string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, ok := u.s.users[userID]; !ok {
		return auth.ErrNotFound
	}
	delete(u.s.profiles, userID)
	return nil
}

// DeleteUser removes a user with its credential, profile and sessions.
func (s *Store) DeleteUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	delete(s.profiles, userID)
	for id, c := range s.credentials {
		if c.UserID == userID {
			delete(s.credentials, id)
		}
	}
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
}

func (s *Store) userCopy(user *auth.User) *auth.User {
	cp := *user
	if p, ok := s.profiles[user.ID]; ok {
		pc := *p
		cp.Profile = &pc
	}
	return &cp
}

// Credential store --------------------------------------------------------
type credentialStore struct{ s *Store }

func (c credentialStore) Find(_ context.Context, id string) (*auth.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cred, ok := c.s.credentials[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (c credentialStore) FindByEmail(_ context.Context, email string) (*auth.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, cred := range c.s.credentials {
		if cred.Email == email {
			cp := *cred
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (c credentialStore) FindByUser(_ context.Context, userID string) (*auth.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, cred := range c.s.credentials {
		if cred.UserID == userID {
			cp := *cred
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (c credentialStore) UpdatePassword(_ context.Context, id, hash string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cred, ok := c.s.credentials[id]
	if !ok {
		return auth.ErrNotFound
	}
	cred.PasswordHash = hash
	cred.UpdatedAt = c.s.now().UTC()
	return nil
}

// Role store --------------------------------------------------------------
type roleStore struct{ s *Store }

func (r roleStore) Create(_ context.Context, role *auth.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tenants[role.TenantID]; !ok {
		return auth.ErrNotFound
	}
	for _, existing := range r.s.roles {
		if existing.TenantID == role.TenantID && existing.Name == role.Name {
			return auth.ErrAlreadyExists
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := r.s.now().UTC()
	role.CreatedAt, role.UpdatedAt = now, now
	cp := *role
	r.s.roles[role.ID] = &cp
	return nil
}

func (r roleStore) Find(_ context.Context, tenantID, id string) (*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok || role.TenantID != tenantID {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (r roleStore) ListByTenant(_ context.Context, tenantID string) ([]*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*auth.Role
	for _, role := range r.s.roles {
		if role.TenantID == tenantID {
			cp := *role
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r roleStore) Update(_ context.Context, tenantID, id string, mutate auth.RoleMutation) (*auth.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok || role.TenantID != tenantID {
		return nil, auth.ErrNotFound
	}
	next := *role
	if err := mutate(&next, r.s.adminCount(tenantID)); err != nil {
		return nil, err
	}
	for _, existing := range r.s.roles {
		if existing.ID != id && existing.TenantID == tenantID && existing.Name == next.Name {
			return nil, auth.ErrAlreadyExists
		}
	}
	next.UpdatedAt = r.s.now().UTC()
	r.s.roles[id] = &next
	cp := next
	return &cp, nil
}

func (r roleStore) Delete(_ context.Context, tenantID, id string, check auth.RoleMutation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok || role.TenantID != tenantID {
		return auth.ErrNotFound
	}
	for _, user := range r.s.users {
		if user.RoleID == id {
			return auth.ErrRoleInUse
		}
	}
	cp := *role
	if err := check(&cp, r.s.adminCount(tenantID)); err != nil {
		return err
	}
	delete(r.s.roles, id)
	return nil
}

func (s *Store) adminCount(tenantID string) int {
	n := 0
	for _, role := range s.roles {
		if role.TenantID == tenantID && role.Tier == auth.TierAdmin {
			n++
		}
	}
	return n
}

// SAML setting store ------------------------------------------------------
type samlStore struct{ s *Store }

func (m samlStore) FindByTenant(_ context.Context, tenantID string) (*auth.SamlSetting, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	setting, ok := m.s.saml[tenantID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *setting
	return &cp, nil
}

func (m samlStore) Create(_ context.Context, setting *auth.SamlSetting) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.saml[setting.TenantID]; ok {
		return auth.ErrAlreadyExists
	}
	m.s.putSaml(setting)
	return nil
}

func (m samlStore) Upsert(_ context.Context, setting *auth.SamlSetting) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if existing, ok := m.s.saml[setting.TenantID]; ok {
		setting.ID = existing.ID
		setting.CreatedAt = existing.CreatedAt
	}
	m.s.putSaml(setting)
	return nil
}

func (s *Store) putSaml(setting *auth.SamlSetting) {
	now := s.now().UTC()
	if setting.ID == "" {
		setting.ID = ids.New()
		setting.CreatedAt = now
	}
	setting.UpdatedAt = now
	cp := *setting
	s.saml[setting.TenantID] = &cp
}

// Sessions ----------------------------------------------------------------

func (s *Store) Create(_ context.Context, userID string, provenance session.Provenance, meta session.Metadata) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, auth.ErrNotFound
	}
	now := s.now().UTC()
	sess := &session.Session{
		ID:         ids.New(),
		UserID:     userID,
		UserAgent:  meta.UserAgent,
		IPAddress:  meta.IPAddress,
		Provenance: provenance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

func (s *Store) Find(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ListForUser(_ context.Context, userID string) ([]*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) DestroyForUser(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		return session.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

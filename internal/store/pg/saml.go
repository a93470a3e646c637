package pg

import (
	"context"

	"tenantgate.io/internal/auth"
)

type samlStore struct{ s *Store }

func (m samlStore) FindByTenant(ctx context.Context, tenantID string) (*auth.SamlSetting, error) {
	var (
		setting auth.SamlSetting
		method  string
	)
	err := m.s.db.QueryRowContext(ctx, `
		select id, tenant_id, entity_id, sso_url, idp_cert, request_method, created_at, updated_at
		from saml_settings
		where tenant_id = $1
	`, tenantID).Scan(&setting.ID, &setting.TenantID, &setting.EntityID, &setting.SSOURL,
		&setting.IDPCertificate, &method, &setting.CreatedAt, &setting.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	setting.RequestMethod = auth.SamlRequestMethod(method)
	return &setting, nil
}

func (m samlStore) Create(ctx context.Context, setting *auth.SamlSetting) error {
	if setting.ID == "" {
		setting.ID = newID()
	}
	err := m.s.db.QueryRowContext(ctx, `
		insert into saml_settings (id, tenant_id, entity_id, sso_url, idp_cert, request_method)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, setting.ID, setting.TenantID, setting.EntityID, setting.SSOURL, setting.IDPCertificate,
		string(setting.RequestMethod)).Scan(&setting.CreatedAt, &setting.UpdatedAt)
	return mapErr(err)
}

func (m samlStore) Upsert(ctx context.Context, setting *auth.SamlSetting) error {
	if setting.ID == "" {
		setting.ID = newID()
	}
	err := m.s.db.QueryRowContext(ctx, `
		insert into saml_settings (id, tenant_id, entity_id, sso_url, idp_cert, request_method)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (tenant_id) do update
		set entity_id = excluded.entity_id,
		    sso_url = excluded.sso_url,
		    idp_cert = excluded.idp_cert,
		    request_method = excluded.request_method,
		    updated_at = now()
		returning id, created_at, updated_at
	`, setting.ID, setting.TenantID, setting.EntityID, setting.SSOURL, setting.IDPCertificate,
		string(setting.RequestMethod)).Scan(&setting.ID, &setting.CreatedAt, &setting.UpdatedAt)
	return mapErr(err)
}

package httpapi

import (
	"net/http"
	"testing"

	"tenantgate.io/internal/auth"
)

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	anon := env.browser(desktopUA)
	staff := env.browser(desktopUA)
	staff.mustLogin("staff@example.com", "battery staple")

	resp := anon.do(http.MethodGet, "/api/v1/admin_user/roles", nil, nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = staff.do(http.MethodGet, "/api/v1/admin_user/roles", nil, nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = staff.send(http.MethodPost, "/api/v1/admin_user/roles", map[string]string{"name": "Auditors", "permissionType": "general"})
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAdminRoleLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	admin := env.browser(desktopUA)
	admin.mustLogin("admin@example.com", "correct horse")

	resp := admin.do(http.MethodGet, "/api/v1/admin_user/roles", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	if roles := decode[struct {
		Roles []roleView `json:"roles"`
	}](t, resp).Roles; len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %+v", roles)
	}

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/roles", map[string]string{"name": "Auditors"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/roles", map[string]string{"name": "Auditors", "permissionType": "owner"})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/roles", map[string]string{"name": "Auditors", "permissionType": "GENERAL"})
	expectStatus(t, resp, http.StatusCreated)
	created := decode[struct {
		Role roleView `json:"role"`
	}](t, resp).Role
	if created.ID == "" || created.Name != "Auditors" || created.PermissionType != auth.TierGeneral {
		t.Fatalf("unexpected created role: %+v", created)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/v1/admin_user/roles/"+created.ID {
		t.Fatalf("unexpected Location %q", loc)
	}

	resp = admin.send(http.MethodPatch, "/api/v1/admin_user/roles/"+created.ID, map[string]string{"name": "Auditors", "permissionType": "admin"})
	expectStatus(t, resp, http.StatusOK)
	if updated := decode[struct {
		Role roleView `json:"role"`
	}](t, resp).Role; updated.PermissionType != auth.TierAdmin {
		t.Fatalf("expected promoted role, got %+v", updated)
	}

	resp = admin.send(http.MethodDelete, "/api/v1/admin_user/roles/"+created.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = admin.send(http.MethodDelete, "/api/v1/admin_user/roles/"+created.ID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAdminRoleGuards(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	admin := env.browser(desktopUA)
	admin.mustLogin("admin@example.com", "correct horse")

	resp := admin.send(http.MethodPut, "/api/v1/admin_user/roles/"+env.adminRl.ID, map[string]string{"name": "Administrators", "permissionType": "general"})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	if body := decode[map[string]any](t, resp); body["error"] != "at least one admin role is required" {
		t.Fatalf("unexpected demotion error: %v", body)
	}

	resp = admin.send(http.MethodDelete, "/api/v1/admin_user/roles/"+env.staffRl.ID, nil)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/roles", map[string]string{"name": "Staff", "permissionType": "general"})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

type samlSettingResponse struct {
	SamlSetting     samlSettingPayload  `json:"samlSetting"`
	ServiceProvider serviceProviderView `json:"serviceProvider"`
}

func TestAdminSamlSetting(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	admin := env.browser(desktopUA)
	admin.mustLogin("admin@example.com", "correct horse")
	cert := selfSignedPEM(t)

	resp := admin.do(http.MethodGet, "/api/v1/admin_user/saml_setting", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	got := decode[samlSettingResponse](t, resp)
	if got.SamlSetting != (samlSettingPayload{SamlRequestMethod: "GET"}) {
		t.Fatalf("unexpected default setting: %+v", got.SamlSetting)
	}
	if got.ServiceProvider.ACSURL != "https://auth.example.com/auth/saml/acme/acs" || got.ServiceProvider.EntityID != "acme" {
		t.Fatalf("unexpected service provider: %+v", got.ServiceProvider)
	}

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/saml_setting", samlSettingPayload{
		EntityID: "https://idp.example.com", SSOURL: "http://idp.example.com/sso",
		IDPX509Certificate: cert, SamlRequestMethod: "GET",
	})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	if body := decode[map[string]any](t, resp); body["error"] != "sso url must be an https URL" {
		t.Fatalf("unexpected validation error: %v", body)
	}

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/saml_setting", samlSettingPayload{EntityID: "https://idp.example.com"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	setting := samlSettingPayload{
		EntityID: "https://idp.example.com", SSOURL: "https://idp.example.com/sso",
		IDPX509Certificate: cert, SamlRequestMethod: "post",
	}
	resp = admin.send(http.MethodPost, "/api/v1/admin_user/saml_setting", setting)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = admin.send(http.MethodPost, "/api/v1/admin_user/saml_setting", setting)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	setting.SamlRequestMethod = "GET"
	resp = admin.send(http.MethodPatch, "/api/v1/admin_user/saml_setting", setting)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = admin.do(http.MethodGet, "/api/v1/admin_user/saml_setting", nil, nil)
	got = decode[samlSettingResponse](t, resp)
	if got.SamlSetting.SSOURL != setting.SSOURL || got.SamlSetting.SamlRequestMethod != "GET" {
		t.Fatalf("unexpected stored setting: %+v", got.SamlSetting)
	}

	resp = admin.do(http.MethodGet, "/api/v1/tenants/acme", nil, nil)
	if tenant := decode[struct {
		Tenant tenantLookupView `json:"tenant"`
	}](t, resp).Tenant; !tenant.SamlEnabled {
		t.Fatalf("expected samlEnabled after configuring: %+v", tenant)
	}
}

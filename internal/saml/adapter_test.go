package saml

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/store/memory"
)

const baseURL = "https://auth.example.com"

func selfSignedPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

type stubVerifier struct {
	assertion *Assertion
	err       error
	got       Config
}

func (s *stubVerifier) Verify(_ context.Context, cfg Config, _ string) (*Assertion, error) {
	s.got = cfg
	return s.assertion, s.err
}

type fixture struct {
	svc    *auth.Service
	tenant *auth.Tenant
	user   *auth.User
	cert   string
}

func newFixture(t *testing.T, method auth.SamlRequestMethod) *fixture {
	t.Helper()
	ctx := context.Background()
	svc, err := auth.NewService(memory.New(), auth.WithResetSecret("saml-test-secret"), auth.WithLogger(logr.Discard()))
	require.NoError(t, err)
	tenant, err := svc.CreateTenant(ctx, "Acme", "acme")
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, tenant.ID, "Admins", auth.TierAdmin)
	require.NoError(t, err)
	user, err := svc.CreateUser(ctx, auth.UserInput{
		TenantID: tenant.ID, RoleID: role.ID, Email: "admin@example.com",
		Password: "pw", PasswordConfirmation: "pw", DisplayName: "Admin",
	})
	require.NoError(t, err)

	cert := selfSignedPEM(t)
	if method != "" {
		require.NoError(t, svc.SaveSamlSetting(ctx, &auth.SamlSetting{
			TenantID:       tenant.ID,
			EntityID:       "https://idp.example.com/metadata",
			SSOURL:         "https://idp.example.com/sso",
			IDPCertificate: cert,
			RequestMethod:  method,
		}, true))
	}
	return &fixture{svc: svc, tenant: tenant, user: user, cert: cert}
}

func TestNewConfig(t *testing.T) {
	f := newFixture(t, "")
	setting := &auth.SamlSetting{EntityID: "https://idp", SSOURL: "https://idp/sso", IDPCertificate: f.cert, RequestMethod: auth.SamlRequestPOST}

	cfg, err := NewConfig(f.tenant, setting, baseURL+"/")
	require.NoError(t, err)
	require.Equal(t, "https://auth.example.com/auth/saml/acme/acs", cfg.ACSURL())
	require.Equal(t, "https://auth.example.com/auth/saml/acme/metadata", cfg.MetadataURL())
	require.Equal(t, "acme", cfg.serviceProvider().EntityID)

	incomplete := *setting
	incomplete.EntityID = " "
	_, err = NewConfig(f.tenant, &incomplete, baseURL)
	require.ErrorIs(t, err, auth.ErrTenantOrConfigMissing)

	badCert := *setting
	badCert.IDPCertificate = "not a certificate"
	_, err = NewConfig(f.tenant, &badCert, baseURL)
	require.ErrorIs(t, err, auth.ErrTenantOrConfigMissing)

	_, err = NewConfig(f.tenant, nil, baseURL)
	require.ErrorIs(t, err, auth.ErrTenantOrConfigMissing)
}

func TestServiceProviderEndpoints(t *testing.T) {
	cfgless := ServiceProviderEndpoints(baseURL+"/", "acme")
	require.Equal(t, Endpoints{
		EntityID:    "acme",
		ACSURL:      "https://auth.example.com/auth/saml/acme/acs",
		InitiateURL: "https://auth.example.com/auth/saml/acme",
		MetadataURL: "https://auth.example.com/auth/saml/acme/metadata",
	}, cfgless)
}

func TestInitiateRedirectBinding(t *testing.T) {
	f := newFixture(t, auth.SamlRequestGET)
	a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

	redirect, err := a.Initiate(context.Background(), "acme", "/dashboard")
	require.NoError(t, err)
	require.Equal(t, auth.SamlRequestGET, redirect.Binding)

	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	require.Equal(t, "idp.example.com", u.Host)
	require.Equal(t, "/dashboard", u.Query().Get("RelayState"))

	compressed, err := base64.StdEncoding.DecodeString(u.Query().Get("SAMLRequest"))
	require.NoError(t, err)
	request, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	require.Contains(t, string(request), "https://auth.example.com/auth/saml/acme/acs")
	require.Contains(t, string(request), ">acme<")
}

func TestInitiatePostBinding(t *testing.T) {
	f := newFixture(t, auth.SamlRequestPOST)
	a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

	redirect, err := a.Initiate(context.Background(), "acme", "/")
	require.NoError(t, err)
	require.Equal(t, auth.SamlRequestPOST, redirect.Binding)
	require.Contains(t, string(redirect.Form), "SAMLRequest")
	require.Contains(t, string(redirect.Form), "https://idp.example.com/sso")
}

func TestInitiateWithoutConfiguration(t *testing.T) {
	f := newFixture(t, "")
	a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

	_, err := a.Initiate(context.Background(), "acme", "/")
	require.ErrorIs(t, err, auth.ErrTenantOrConfigMissing)

	_, err = a.Initiate(context.Background(), "ghost", "/")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestConsume(t *testing.T) {
	cases := []struct {
		name      string
		tenant    string
		configure bool
		assertion *Assertion
		verifyErr error
		reason    string
	}{
		{name: "name id", tenant: "acme", configure: true, assertion: &Assertion{NameID: " Admin@Example.com "}},
		{name: "email attribute", tenant: "acme", configure: true, assertion: &Assertion{Attributes: map[string][]string{"Email": {"admin@example.com"}}}},
		{name: "unknown tenant", tenant: "ghost", configure: true, reason: ReasonTenantNotFound},
		{name: "no setting", tenant: "acme", configure: false, reason: ReasonSettingNotFound},
		{name: "bad signature", tenant: "acme", configure: true, verifyErr: auth.ErrSamlAssertionInvalid, reason: ReasonInvalidResponse},
		{name: "no identity", tenant: "acme", configure: true, assertion: &Assertion{Attributes: map[string][]string{"role": {"x"}}}, reason: ReasonEmailNotFound},
		{name: "unknown user", tenant: "acme", configure: true, assertion: &Assertion{NameID: "stranger@example.com"}, reason: ReasonUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			method := auth.SamlRequestGET
			if !tc.configure {
				method = ""
			}
			f := newFixture(t, method)
			v := &stubVerifier{assertion: tc.assertion, err: tc.verifyErr}
			a := NewAdapter(f.svc, baseURL, WithVerifier(v), WithLogger(logr.Discard()))

			user, err := a.Consume(context.Background(), tc.tenant, "ignored")
			if tc.reason == "" {
				require.NoError(t, err)
				require.Equal(t, f.user.ID, user.ID)
				require.Equal(t, "https://auth.example.com/auth/saml/acme/acs", v.got.ACSURL())
				return
			}
			var ce *ConsumeError
			require.True(t, errors.As(err, &ce), "expected ConsumeError, got %v", err)
			require.Equal(t, tc.reason, ce.Reason)
		})
	}
}

func TestConsumeIsTenantScoped(t *testing.T) {
	f := newFixture(t, auth.SamlRequestGET)
	ctx := context.Background()
	other, err := f.svc.CreateTenant(ctx, "Globex", "globex")
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveSamlSetting(ctx, &auth.SamlSetting{
		TenantID: other.ID, EntityID: "https://idp.globex.com", SSOURL: "https://idp.globex.com/sso",
		IDPCertificate: f.cert, RequestMethod: auth.SamlRequestGET,
	}, true))

	v := &stubVerifier{assertion: &Assertion{NameID: "admin@example.com"}}
	a := NewAdapter(f.svc, baseURL, WithVerifier(v), WithLogger(logr.Discard()))
	_, err = a.Consume(ctx, "globex", "ignored")
	var ce *ConsumeError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, ReasonUserNotFound, ce.Reason)
}

func TestCrewjamVerifierRejectsGarbage(t *testing.T) {
	f := newFixture(t, auth.SamlRequestGET)
	a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

	for _, raw := range []string{"%%%not-base64", base64.StdEncoding.EncodeToString([]byte("<Response/>"))} {
		_, err := a.Consume(context.Background(), "acme", raw)
		var ce *ConsumeError
		require.True(t, errors.As(err, &ce), "expected ConsumeError, got %v", err)
		require.Equal(t, ReasonInvalidResponse, ce.Reason)
		require.ErrorIs(t, err, auth.ErrSamlAssertionInvalid)
	}
}

func TestMetadata(t *testing.T) {
	f := newFixture(t, auth.SamlRequestGET)
	a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

	doc, err := a.Metadata(context.Background(), "acme")
	require.NoError(t, err)
	require.Contains(t, string(doc), `entityID="acme"`)
	require.Contains(t, string(doc), "https://auth.example.com/auth/saml/acme/acs")
}

func TestSafeRelayState(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"/settings":            "/settings",
		"/a?b=c":               "/a?b=c",
		"//evil.example.com":   "/",
		"https://evil.example": "/",
		"javascript:alert(1)":  "/",
		"/\\evil.example.com":  "/",
	}
	for in, want := range cases {
		require.Equal(t, want, SafeRelayState(in, "/"), "relay state %q", in)
	}
}

package saml

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	crewjam "github.com/crewjam/saml"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"tenantgate.io/internal/auth"
)

const rsaSHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"

// testIDP signs responses the way a real identity provider would.
type testIDP struct {
	idp     *crewjam.IdentityProvider
	certPEM string
}

func newTestIDP(t *testing.T) *testIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testIDP{
		idp: &crewjam.IdentityProvider{
			Key:             key,
			Certificate:     cert,
			MetadataURL:     url.URL{Scheme: "https", Host: "idp.example.com", Path: "/metadata"},
			SSOURL:          url.URL{Scheme: "https", Host: "idp.example.com", Path: "/sso"},
			SignatureMethod: rsaSHA256,
		},
		certPEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
	}
}

func (p *testIDP) entityID() string { return p.idp.MetadataURL.String() }

// respond returns a signed, base64 POST-binding response for nameID addressed
// to audience at acsURL.
func (p *testIDP) respond(t *testing.T, audience, acsURL, nameID string) string {
	t.Helper()
	req := &crewjam.IdpAuthnRequest{
		IDP:                     p.idp,
		HTTPRequest:             httptest.NewRequest(http.MethodPost, acsURL, nil),
		ServiceProviderMetadata: &crewjam.EntityDescriptor{EntityID: audience},
		SPSSODescriptor:         &crewjam.SPSSODescriptor{},
		ACSEndpoint:             &crewjam.IndexedEndpoint{Binding: crewjam.HTTPPostBinding, Location: acsURL},
		Now:                     time.Now(),
	}
	err := crewjam.DefaultAssertionMaker{}.MakeAssertion(req, &crewjam.Session{
		CreateTime: time.Now(),
		NameID:     nameID,
		UserEmail:  nameID,
	})
	require.NoError(t, err)
	form, err := req.PostBinding()
	require.NoError(t, err)
	return form.SAMLResponse
}

// trustIDP stores p as acme's identity provider.
func trustIDP(t *testing.T, f *fixture, p *testIDP) {
	t.Helper()
	require.NoError(t, f.svc.SaveSamlSetting(context.Background(), &auth.SamlSetting{
		TenantID:       f.tenant.ID,
		EntityID:       p.entityID(),
		SSOURL:         p.idp.SSOURL.String(),
		IDPCertificate: p.certPEM,
		RequestMethod:  auth.SamlRequestPOST,
	}, true))
}

func TestCrewjamVerifierAcceptsSignedResponse(t *testing.T) {
	f := newFixture(t, "")
	idp := newTestIDP(t)
	trustIDP(t, f, idp)
	a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

	resp := idp.respond(t, "acme", baseURL+"/auth/saml/acme/acs", "admin@example.com")
	user, err := a.Consume(context.Background(), "acme", resp)
	require.NoError(t, err)
	require.Equal(t, f.user.ID, user.ID)
}

func TestCrewjamVerifierRejectsUntrustedResponses(t *testing.T) {
	acs := baseURL + "/auth/saml/acme/acs"
	cases := []struct {
		name    string
		respond func(t *testing.T, trusted *testIDP) string
	}{
		{
			name: "foreign signing key",
			respond: func(t *testing.T, _ *testIDP) string {
				forger := newTestIDP(t)
				return forger.respond(t, "acme", acs, "admin@example.com")
			},
		},
		{
			name: "other audience",
			respond: func(t *testing.T, trusted *testIDP) string {
				return trusted.respond(t, "globex", acs, "admin@example.com")
			},
		},
		{
			name: "other acs",
			respond: func(t *testing.T, trusted *testIDP) string {
				return trusted.respond(t, "acme", baseURL+"/auth/saml/globex/acs", "admin@example.com")
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "")
			idp := newTestIDP(t)
			trustIDP(t, f, idp)
			a := NewAdapter(f.svc, baseURL, WithLogger(logr.Discard()))

			user, err := a.Consume(context.Background(), "acme", tc.respond(t, idp))
			require.Nil(t, user)
			var ce *ConsumeError
			require.True(t, errors.As(err, &ce), "expected ConsumeError, got %v", err)
			require.Equal(t, ReasonInvalidResponse, ce.Reason)
			require.ErrorIs(t, err, auth.ErrSamlAssertionInvalid)
		})
	}
}

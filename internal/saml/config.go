// Package saml federates tenant sign-in with each tenant's SAML identity
// provider. Every request rebuilds an immutable per-tenant Config, so no
// mutable service provider state is shared between requests.
package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/url"
	"strings"

	crewjam "github.com/crewjam/saml"

	"tenantgate.io/internal/auth"
)

// Config is the per-tenant service provider configuration.
type Config struct {
	TenantID    string
	TenantCode  string
	IDPEntityID string
	SSOURL      string
	Binding     auth.SamlRequestMethod

	acsURL      url.URL
	metadataURL url.URL
	idpCert     *x509.Certificate
}

// NewConfig derives the configuration for tenant. It fails with
// ErrTenantOrConfigMissing when the setting is incomplete or its certificate
// does not parse.
func NewConfig(tenant *auth.Tenant, setting *auth.SamlSetting, publicBaseURL string) (Config, error) {
	if tenant == nil || setting == nil || !setting.Complete() {
		return Config{}, auth.ErrTenantOrConfigMissing
	}
	cert, err := parseCertificate(setting.IDPCertificate)
	if err != nil {
		return Config{}, fmt.Errorf("%w: idp certificate: %v", auth.ErrTenantOrConfigMissing, err)
	}
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return Config{}, fmt.Errorf("saml: public base url %q is not absolute", publicBaseURL)
	}
	binding := setting.RequestMethod
	if binding == "" {
		binding = auth.SamlRequestGET
	}
	code := url.PathEscape(tenant.Code)
	return Config{
		TenantID:    tenant.ID,
		TenantCode:  tenant.Code,
		IDPEntityID: setting.EntityID,
		SSOURL:      setting.SSOURL,
		Binding:     binding,
		acsURL:      *base.JoinPath("auth", "saml", code, "acs"),
		metadataURL: *base.JoinPath("auth", "saml", code, "metadata"),
		idpCert:     cert,
	}, nil
}

// Endpoints are the service provider URLs an IdP administrator registers.
type Endpoints struct {
	EntityID    string
	ACSURL      string
	InitiateURL string
	MetadataURL string
}

// ServiceProviderEndpoints lists tenantCode's endpoints under publicBaseURL.
// Unlike NewConfig it needs no IdP setting.
func ServiceProviderEndpoints(publicBaseURL, tenantCode string) Endpoints {
	prefix := strings.TrimRight(publicBaseURL, "/") + "/auth/saml/" + url.PathEscape(tenantCode)
	return Endpoints{
		EntityID:    tenantCode,
		ACSURL:      prefix + "/acs",
		InitiateURL: prefix,
		MetadataURL: prefix + "/metadata",
	}
}

// ACSURL is the tenant-scoped assertion consumer endpoint.
func (c Config) ACSURL() string { return c.acsURL.String() }

// MetadataURL is where the service provider metadata is published.
func (c Config) MetadataURL() string { return c.metadataURL.String() }

// serviceProvider builds a fresh crewjam service provider for one call.
func (c Config) serviceProvider() *crewjam.ServiceProvider {
	return &crewjam.ServiceProvider{
		EntityID:          c.TenantCode,
		AcsURL:            c.acsURL,
		MetadataURL:       c.metadataURL,
		IDPMetadata:       c.idpMetadata(),
		AuthnNameIDFormat: crewjam.UnspecifiedNameIDFormat,
		AllowIDPInitiated: true,
	}
}

func (c Config) idpMetadata() *crewjam.EntityDescriptor {
	return &crewjam.EntityDescriptor{
		EntityID: c.IDPEntityID,
		IDPSSODescriptors: []crewjam.IDPSSODescriptor{
			{
				SSODescriptor: crewjam.SSODescriptor{
					RoleDescriptor: crewjam.RoleDescriptor{
						KeyDescriptors: []crewjam.KeyDescriptor{
							{
								Use: "signing",
								KeyInfo: crewjam.KeyInfo{
									X509Data: crewjam.X509Data{
										X509Certificates: []crewjam.X509Certificate{
											{Data: base64.StdEncoding.EncodeToString(c.idpCert.Raw)},
										},
									},
								},
							},
						},
					},
				},
				SingleSignOnServices: []crewjam.Endpoint{
					{Binding: crewjam.HTTPRedirectBinding, Location: c.SSOURL},
					{Binding: crewjam.HTTPPostBinding, Location: c.SSOURL},
				},
			},
		},
	}
}

// parseCertificate accepts a PEM block or bare base64 DER.
func parseCertificate(raw string) (*x509.Certificate, error) {
	raw = strings.TrimSpace(raw)
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		return x509.ParseCertificate(block.Bytes)
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(raw), ""))
	if err != nil {
		return nil, fmt.Errorf("decode certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

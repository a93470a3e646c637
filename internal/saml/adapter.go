package saml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	crewjam "github.com/crewjam/saml"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/obs"
)

// Reasons reported back to the tenant sign-in page.
const (
	ReasonTenantNotFound  = "Tenant not found"
	ReasonSettingNotFound = "SAML setting not found"
	ReasonInvalidResponse = "Invalid SAML response"
	ReasonEmailNotFound   = "Email not found in SAML response"
	ReasonUserNotFound    = "User not found"
)

// ConsumeError is a rejected federated login.
type ConsumeError struct {
	Reason string
	Err    error
}

func (e *ConsumeError) Error() string {
	if e.Err == nil {
		return "saml: " + e.Reason
	}
	return fmt.Sprintf("saml: %s: %v", e.Reason, e.Err)
}

func (e *ConsumeError) Unwrap() error { return e.Err }

// Directory resolves tenants, their SAML settings and their users.
type Directory interface {
	TenantByCode(ctx context.Context, code string) (*auth.Tenant, error)
	SamlSetting(ctx context.Context, tenantID string) (*auth.SamlSetting, error)
	FindUserByEmail(ctx context.Context, tenantID, email string) (*auth.User, error)
}

// AuthnRedirect is how the browser reaches the IdP: a URL for the redirect
// binding or a self-submitting HTML form for the POST binding.
type AuthnRedirect struct {
	Binding auth.SamlRequestMethod
	URL     string
	Form    []byte
}

type Adapter struct {
	dir      Directory
	verifier Verifier
	baseURL  string
	logger   logr.Logger
	tracer   trace.Tracer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the component logger.
func WithLogger(l logr.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithVerifier replaces the crewjam response verifier.
func WithVerifier(v Verifier) Option {
	return func(a *Adapter) { a.verifier = v }
}

// NewAdapter builds an adapter publishing endpoints under publicBaseURL.
func NewAdapter(dir Directory, publicBaseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		dir:      dir,
		verifier: CrewjamVerifier{},
		baseURL:  publicBaseURL,
		logger:   obs.Logger().WithName("saml"),
		tracer:   obs.Tracer("saml"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config resolves the tenant and its setting into a Config. An unknown tenant
// yields auth.ErrNotFound; a missing or incomplete setting
// auth.ErrTenantOrConfigMissing.
func (a *Adapter) Config(ctx context.Context, tenantCode string) (*auth.Tenant, Config, error) {
	tenant, err := a.dir.TenantByCode(ctx, tenantCode)
	if err != nil {
		return nil, Config{}, err
	}
	setting, err := a.dir.SamlSetting(ctx, tenant.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return tenant, Config{}, auth.ErrTenantOrConfigMissing
		}
		return tenant, Config{}, err
	}
	cfg, err := NewConfig(tenant, setting, a.baseURL)
	return tenant, cfg, err
}

// Initiate builds the AuthnRequest for tenantCode's IdP.
func (a *Adapter) Initiate(ctx context.Context, tenantCode, relayState string) (*AuthnRedirect, error) {
	ctx, span := a.tracer.Start(ctx, "saml.initiate", trace.WithAttributes(attribute.String("tenant.code", tenantCode)))
	defer span.End()

	_, cfg, err := a.Config(ctx, tenantCode)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	sp := cfg.serviceProvider()

	if cfg.Binding == auth.SamlRequestPOST {
		req, err := sp.MakeAuthenticationRequest(cfg.SSOURL, crewjam.HTTPPostBinding, crewjam.HTTPPostBinding)
		if err != nil {
			return nil, fmt.Errorf("build authn request: %w", err)
		}
		return &AuthnRedirect{Binding: auth.SamlRequestPOST, Form: req.Post(relayState)}, nil
	}

	req, err := sp.MakeAuthenticationRequest(cfg.SSOURL, crewjam.HTTPRedirectBinding, crewjam.HTTPPostBinding)
	if err != nil {
		return nil, fmt.Errorf("build authn request: %w", err)
	}
	u, err := req.Redirect(relayState, sp)
	if err != nil {
		return nil, fmt.Errorf("encode authn request: %w", err)
	}
	return &AuthnRedirect{Binding: auth.SamlRequestGET, URL: u.String()}, nil
}

// Consume verifies samlResponse for tenantCode and maps the asserted identity
// to an existing user of that tenant. Users are never created here. Every
// rejection is a *ConsumeError.
func (a *Adapter) Consume(ctx context.Context, tenantCode, samlResponse string) (*auth.User, error) {
	ctx, span := a.tracer.Start(ctx, "saml.consume", trace.WithAttributes(attribute.String("tenant.code", tenantCode)))
	defer span.End()

	user, err := a.consume(ctx, tenantCode, samlResponse)
	if err != nil {
		var ce *ConsumeError
		if errors.As(err, &ce) {
			obs.RecordSAMLResponse(strings.ReplaceAll(strings.ToLower(ce.Reason), " ", "_"))
			a.logger.Info("saml response rejected", "tenant", tenantCode, "reason", ce.Reason, "error", err.Error())
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	obs.RecordSAMLResponse("accepted")
	return user, nil
}

func (a *Adapter) consume(ctx context.Context, tenantCode, samlResponse string) (*auth.User, error) {
	tenant, cfg, err := a.Config(ctx, tenantCode)
	switch {
	case errors.Is(err, auth.ErrNotFound) && tenant == nil:
		return nil, &ConsumeError{Reason: ReasonTenantNotFound, Err: err}
	case errors.Is(err, auth.ErrTenantOrConfigMissing):
		return nil, &ConsumeError{Reason: ReasonSettingNotFound, Err: err}
	case err != nil:
		return nil, err
	}

	assertion, err := a.verifier.Verify(ctx, cfg, samlResponse)
	if err != nil {
		return nil, &ConsumeError{Reason: ReasonInvalidResponse, Err: err}
	}
	identity := assertion.Identity()
	if identity == "" {
		return nil, &ConsumeError{Reason: ReasonEmailNotFound}
	}
	user, err := a.dir.FindUserByEmail(ctx, tenant.ID, identity)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, &ConsumeError{Reason: ReasonUserNotFound, Err: err}
		}
		return nil, err
	}
	return user, nil
}

// Endpoints lists the service provider URLs published for tenantCode.
func (a *Adapter) Endpoints(tenantCode string) Endpoints {
	return ServiceProviderEndpoints(a.baseURL, tenantCode)
}

// Metadata renders the tenant's service provider metadata document.
func (a *Adapter) Metadata(ctx context.Context, tenantCode string) ([]byte, error) {
	_, cfg, err := a.Config(ctx, tenantCode)
	if err != nil {
		return nil, err
	}
	doc, err := xml.MarshalIndent(cfg.serviceProvider().Metadata(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return append([]byte(xml.Header), doc...), nil
}

// SafeRelayState returns relayState when it is a local absolute path and
// fallback otherwise.
func SafeRelayState(relayState, fallback string) string {
	rs := strings.TrimSpace(relayState)
	if rs == "" || !strings.HasPrefix(rs, "/") || strings.HasPrefix(rs, "//") || strings.ContainsAny(rs, "\\\r\n") {
		return fallback
	}
	return rs
}

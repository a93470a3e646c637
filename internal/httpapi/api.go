// Package httpapi is the JSON and browser-redirect boundary in front of the
// auth core: login, sessions, password resets, tenant lookup, admin role and
// SAML settings, and the SAML endpoints.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/config"
	"tenantgate.io/internal/gateway"
	"tenantgate.io/internal/mail"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/ratelimit"
	"tenantgate.io/internal/saml"
	"tenantgate.io/internal/session"
)

const serviceName = "tenantgate-api"

// Pinger is implemented by the stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck checks the backing store.
type ReadyCheck struct {
	Store Pinger
}

func (rp ReadyCheck) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps are the collaborators the HTTP layer drives.
type Deps struct {
	Auth          *auth.Service
	Gateway       *gateway.Gateway
	Sessions      session.Store
	SAML          *saml.Adapter
	Mailer        mail.Mailer
	LoginLimiter  ratelimit.Limiter
	TenantLimiter ratelimit.Limiter
	Ready         ReadyCheck
	Logger        logr.Logger
}

// API is the HTTP layer.
type API struct {
	mux *http.ServeMux
	cfg config.Config

	auth          *auth.Service
	gw            *gateway.Gateway
	sessions      session.Store
	saml          *saml.Adapter
	mailer        mail.Mailer
	loginLimiter  ratelimit.Limiter
	tenantLimiter ratelimit.Limiter
	readyCheck    ReadyCheck
	proxies       gateway.ProxyTrust
	logger        logr.Logger
	version       string
}

func New(cfg config.Config, deps Deps, version string) (*API, error) {
	if deps.Auth == nil || deps.Gateway == nil || deps.Sessions == nil || deps.SAML == nil {
		return nil, errors.New("httpapi: auth service, gateway, session store and saml adapter are required")
	}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, fmt.Errorf("httpapi: %w", err)
	}
	a := &API{
		mux:           http.NewServeMux(),
		cfg:           cfg,
		auth:          deps.Auth,
		gw:            deps.Gateway,
		sessions:      deps.Sessions,
		saml:          deps.SAML,
		mailer:        deps.Mailer,
		loginLimiter:  deps.LoginLimiter,
		tenantLimiter: deps.TenantLimiter,
		readyCheck:    deps.Ready,
		proxies:       gateway.NewProxyTrust(prefixes),
		logger:        deps.Logger,
		version:       version,
	}
	if a.logger.GetSink() == nil {
		a.logger = obs.Logger().WithName("httpapi")
	}
	if a.mailer == nil {
		a.mailer = mail.LogMailer{Logger: a.logger.WithName("mail")}
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	user := func(h http.HandlerFunc) http.Handler { return gateway.RequireUser(h) }
	admin := func(h http.HandlerFunc) http.Handler { return gateway.RequireAdmin(h) }

	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /api/v1/sessions", RateLimit(http.HandlerFunc(a.handleLogin), a.loginLimiter, "login"))
	a.mux.HandleFunc("DELETE /api/v1/sessions", a.handleLogout)
	a.mux.Handle("GET /api/v1/active_sessions", user(a.handleActiveSessions))
	a.mux.Handle("DELETE /api/v1/active_sessions/{id}", user(a.handleRevokeSession))

	a.mux.HandleFunc("POST /api/v1/passwords", a.handlePasswordResetRequest)
	a.mux.HandleFunc("GET /api/v1/passwords/{token}", a.handlePasswordResetShow)
	a.mux.HandleFunc("PATCH /api/v1/passwords/{token}", a.handlePasswordResetUpdate)
	a.mux.HandleFunc("PUT /api/v1/passwords/{token}", a.handlePasswordResetUpdate)

	a.mux.HandleFunc("GET /api/v1/users/me", a.handleMe)
	a.mux.Handle("GET /api/v1/tenants/{code}", RateLimit(http.HandlerFunc(a.handleTenant), a.tenantLimiter, "tenant_lookup"))

	a.mux.Handle("GET /api/v1/admin_user/roles", admin(a.handleListRoles))
	a.mux.Handle("POST /api/v1/admin_user/roles", admin(a.handleCreateRole))
	a.mux.Handle("PATCH /api/v1/admin_user/roles/{id}", admin(a.handleUpdateRole))
	a.mux.Handle("PUT /api/v1/admin_user/roles/{id}", admin(a.handleUpdateRole))
	a.mux.Handle("DELETE /api/v1/admin_user/roles/{id}", admin(a.handleDeleteRole))
	a.mux.Handle("GET /api/v1/admin_user/saml_setting", admin(a.handleShowSamlSetting))
	a.mux.Handle("POST /api/v1/admin_user/saml_setting", admin(a.handleCreateSamlSetting))
	a.mux.Handle("PATCH /api/v1/admin_user/saml_setting", admin(a.handleUpdateSamlSetting))
	a.mux.Handle("PUT /api/v1/admin_user/saml_setting", admin(a.handleUpdateSamlSetting))

	a.mux.HandleFunc("GET /auth/saml/{tenantCode}", a.handleSamlInitiate)
	a.mux.HandleFunc("POST /auth/saml/{tenantCode}/acs", a.handleSamlACS)
	a.mux.HandleFunc("GET /auth/saml/{tenantCode}/metadata", a.handleSamlMetadata)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the fully wrapped handler for the HTTP server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.gw.Middleware(h)
	h = CSRFCookie(h, a.cfg.CookieSecure)
	h = MaxBodyBytes(h, a.cfg.MaxBodyBytes)
	h = CORS(h, a.cfg.CORSOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = a.proxies.Middleware(h)
	h = RequestID(h)
	h = obs.Instrument(h)
	return otelhttp.NewHandler(h, serviceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + obs.CanonicalPath(r.URL.Path)
		}),
	)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyCheck.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

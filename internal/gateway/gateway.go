// Package gateway resolves the signed session cookie of each request to the
// acting user and mints or destroys sessions on login and logout.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/securecookie"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/session"
)

// CookieName carries the signed session id.
const CookieName = "session_id"

// cookieLifetime approximates a permanent cookie; sessions end only when destroyed.
const cookieLifetime = 20 * 365 * 24 * time.Hour

// Principals loads the user, role and tenant behind a session.
type Principals interface {
	Principal(ctx context.Context, userID string) (auth.Principal, error)
}

type Gateway struct {
	sessions   session.Store
	principals Principals
	codec      *securecookie.SecureCookie
	secure     bool
	logger     logr.Logger
	tracer     trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSecureCookie sets the cookie Secure attribute.
func WithSecureCookie(secure bool) Option {
	return func(g *Gateway) { g.secure = secure }
}

// WithLogger sets the component logger.
func WithLogger(l logr.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New builds a gateway that signs cookies with secret.
func New(sessions session.Store, principals Principals, secret []byte, opts ...Option) (*Gateway, error) {
	if sessions == nil || principals == nil {
		return nil, errors.New("gateway: session store and principal loader are required")
	}
	if len(secret) == 0 {
		return nil, errors.New("gateway: cookie secret is required")
	}
	codec := securecookie.New(secret, nil)
	codec.MaxAge(0)
	codec.SetSerializer(securecookie.JSONEncoder{})

	g := &Gateway{
		sessions:   sessions,
		principals: principals,
		codec:      codec,
		secure:     true,
		logger:     obs.Logger().WithName("gateway"),
		tracer:     obs.Tracer("gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Resolve returns the request's authenticated context, or nil for an
// anonymous request. A bad signature, an unknown session and a session whose
// user is gone all resolve to anonymous; only store failures are errors.
func (g *Gateway) Resolve(r *http.Request) (*auth.RequestContext, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	var id string
	if err := g.codec.Decode(CookieName, c.Value, &id); err != nil {
		g.logger.V(1).Info("rejected session cookie", "reason", err.Error())
		return nil, nil
	}

	ctx := r.Context()
	sess, err := g.sessions.Find(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	p, err := g.principals.Principal(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load principal: %w", err)
	}
	return &auth.RequestContext{Principal: p, Session: sess}, nil
}

// StartSession creates a session for userID and writes the signed cookie.
func (g *Gateway) StartSession(w http.ResponseWriter, r *http.Request, userID string, provenance session.Provenance) (*session.Session, error) {
	ctx, span := g.tracer.Start(r.Context(), "gateway.start_session",
		trace.WithAttributes(attribute.String("auth.provenance", string(provenance))))
	defer span.End()

	if !provenance.Valid() {
		return nil, fmt.Errorf("gateway: unknown provenance %q", provenance)
	}
	sess, err := g.sessions.Create(ctx, userID, provenance, session.Metadata{
		UserAgent: r.UserAgent(),
		IPAddress: ClientIP(r),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	value, err := g.codec.Encode(CookieName, sess.ID)
	if err != nil {
		_ = g.sessions.Destroy(ctx, sess.ID)
		return nil, fmt.Errorf("sign session cookie: %w", err)
	}
	http.SetCookie(w, g.cookie(value, int(cookieLifetime/time.Second)))
	obs.RecordSessionCreated(string(provenance))
	g.logger.Info("session started", "user_id", userID, "session_id", sess.ID, "provenance", string(provenance))
	return sess, nil
}

// TerminateSession destroys sess, when present, and clears the cookie.
func (g *Gateway) TerminateSession(w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	http.SetCookie(w, g.cookie("", -1))
	if sess == nil {
		return nil
	}
	if err := g.sessions.Destroy(r.Context(), sess.ID); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	obs.RecordSessionRevoked()
	return nil
}

func (g *Gateway) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(maxAge) * time.Second).UTC()
	}
	return c
}

// Middleware resolves every request and stores the result in its context.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, err := g.Resolve(r)
		if err != nil {
			g.logger.Error(err, "resolve session", "path", r.URL.Path)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if rc != nil {
			r = r.WithContext(auth.ContextWithRequest(r.Context(), rc))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.RequestFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Cookie realm="tenantgate"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admin users with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequireAdmin(r.Context()); err != nil {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

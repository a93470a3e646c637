package httpapi

import (
	"crypto/subtle"
	"encoding/base64"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"golang.org/x/time/rate"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/gateway"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/ratelimit"
)

const limiterErrorLogInterval = 30 * time.Second

const (
	requestIDHeader = "X-Request-ID"
	csrfCookieName  = "X-CSRF-Token"
	csrfHeaderName  = "X-CSRF-Token"
)

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestID propagates X-Request-ID or mints a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)
		next.ServeHTTP(w, r.WithContext(audit.WithRequestID(r.Context(), rid)))
	})
}

// LoggingJSON writes one request_complete entry per request.
func LoggingJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		obs.LogRequest("request_complete", map[string]any{
			"request_id":  audit.RequestID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   gateway.ClientIP(r),
			"user_agent":  r.UserAgent(),
		})
	})
}

// SecurityHeaders: hardening + a CSP for a JSON API. Handlers that render
// HTML replace the CSP.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// CORS admits credentialed requests from the configured origins only.
func CORS(next http.Handler, origins []string) http.Handler {
	allowedMethods := "GET,POST,PATCH,PUT,DELETE,OPTIONS"
	allowedHeaders := "Content-Type,X-CSRF-Token,X-Request-ID"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(origins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Max-Age", "600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodyBytes: limit request body size
func MaxBodyBytes(next http.Handler, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

// CSRFCookie implements double-submit protection: every response carries the
// X-CSRF-Token cookie and unsafe requests must echo it in the X-CSRF-Token
// header. The SAML ACS endpoint is exempt because the IdP posts to it.
func CSRFCookie(next http.Handler, secure bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		if c, err := r.Cookie(csrfCookieName); err == nil {
			token = c.Value
		}
		if unsafeMethod(r.Method) && !csrfExempt(r.URL.Path) {
			sent := r.Header.Get(csrfHeaderName)
			if token == "" || sent == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sent)) != 1 {
				writeError(w, r, http.StatusForbidden, "invalid authenticity token")
				return
			}
		}
		if token == "" {
			token = base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
		}
		http.SetCookie(w, &http.Cookie{
			Name:     csrfCookieName,
			Value:    token,
			Path:     "/",
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
		next.ServeHTTP(w, r)
	})
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

func csrfExempt(path string) bool {
	return strings.HasPrefix(path, "/auth/saml/") && strings.HasSuffix(path, "/acs")
}

// RateLimit rejects callers over limiter's budget with 429 and Retry-After.
// Limiter failures let the request through and are logged at most once per
// limiterErrorLogInterval.
func RateLimit(next http.Handler, limiter ratelimit.Limiter, scope string) http.Handler {
	if limiter == nil {
		return next
	}
	failures := &rate.Sometimes{First: 1, Interval: limiterErrorLogInterval}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := gateway.ClientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		d, err := limiter.Allow(r.Context(), scope+":"+ip)
		if err != nil {
			failures.Do(func() {
				obs.Logger().Error(err, "rate limiter unavailable", "scope", scope)
			})
			next.ServeHTTP(w, r)
			return
		}
		if !d.Allowed {
			secs := int(math.Ceil(d.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			obs.RecordRateLimited(scope)
			writeError(w, r, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Password login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	sessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Sessions issued by provenance.",
		},
		[]string{"provenance"},
	)

	sessionsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_revoked_total",
		Help: "Sessions destroyed by logout or revocation.",
	})

	samlResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_saml_responses_total",
			Help: "SAML assertion consumer outcomes.",
		},
		[]string{"outcome"},
	)

	passwordResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_resets_total",
			Help: "Password reset requests and redemptions by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limited_total",
			Help: "Requests rejected by a rate limiter.",
		},
		[]string{"scope"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness check passes.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, sessionsCreated, sessionsRevoked,
			samlResponses, passwordResets, rateLimited, readyGauge,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers and tokens so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[2] == "active_sessions":
		parts[3] = ":id"
	case len(parts) == 4 && parts[0] == "api" && parts[2] == "passwords":
		parts[3] = ":token"
	case len(parts) == 4 && parts[0] == "api" && parts[2] == "tenants":
		parts[3] = ":code"
	case len(parts) == 5 && parts[0] == "api" && parts[2] == "admin_user" && parts[3] == "roles":
		parts[4] = ":id"
	case len(parts) >= 3 && parts[0] == "auth" && parts[1] == "saml":
		parts[2] = ":tenant"
	default:
		return p
	}
	return "/" + strings.Join(parts, "/")
}

// RecordLogin counts a password login attempt by outcome: succeeded or failed.
func RecordLogin(outcome string) { loginAttempts.WithLabelValues(outcome).Inc() }

// RecordSessionCreated counts an issued session.
func RecordSessionCreated(provenance string) { sessionsCreated.WithLabelValues(provenance).Inc() }

// RecordSessionRevoked counts a destroyed session.
func RecordSessionRevoked() { sessionsRevoked.Inc() }

// RecordSAMLResponse counts an ACS outcome.
func RecordSAMLResponse(outcome string) { samlResponses.WithLabelValues(outcome).Inc() }

// RecordPasswordReset counts reset requests ("request") and redemptions ("redeem").
func RecordPasswordReset(stage, outcome string) { passwordResets.WithLabelValues(stage, outcome).Inc() }

// RecordRateLimited counts a throttled request.
func RecordRateLimited(scope string) { rateLimited.WithLabelValues(scope).Inc() }

// SetReady publishes the readiness state.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

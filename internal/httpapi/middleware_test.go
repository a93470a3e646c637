package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"tenantgate.io/internal/audit"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitExceeded(t *testing.T) {
	limiter := ratelimit.NewMemory(ratelimit.Rule{Limit: 1, Window: time.Minute})
	handler := RequestID(RateLimit(okHandler, limiter, "login"))

	req := httptest.NewRequest(http.MethodPost, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] != rr2.Header().Get(requestIDHeader) {
		t.Fatalf("expected request_id %q in body, got %v", rr2.Header().Get(requestIDHeader), body["request_id"])
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("other client should have its own budget, got %d", rr3.Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	defer obs.SetOutput(os.Stdout)

	handler := RateLimit(okHandler, brokenLimiter{}, "login")
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("limiter failure should let the request through, got %d", rr.Code)
		}
	}
	if n := strings.Count(buf.String(), "rate limiter unavailable"); n != 1 {
		t.Fatalf("expected one limiter error log line, got %d", n)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	defer obs.SetOutput(os.Stdout)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry: %v", key, entry)
		}
	}
	if entry["msg"] != "request_complete" || entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["request_id"] != rr.Header().Get(requestIDHeader) {
		t.Fatalf("log request_id %v does not match header %q", entry["request_id"], rr.Header().Get(requestIDHeader))
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "req-123" || rr.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("inbound request id not propagated: ctx=%q header=%q", seen, rr.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 200))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if len(seen) != 36 {
		t.Fatalf("oversized request id should be replaced with a uuid, got %q", seen)
	}
}

func TestCSRFCookie(t *testing.T) {
	handler := CSRFCookie(okHandler, false)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("safe request rejected: %d", rr.Code)
	}
	var token string
	for _, c := range rr.Result().Cookies() {
		if c.Name == csrfCookieName {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatal("expected CSRF cookie on response")
	}

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "missing header", path: "/api/v1/sessions", want: http.StatusForbidden},
		{name: "wrong header", path: "/api/v1/sessions", header: "nope", want: http.StatusForbidden},
		{name: "matching header", path: "/api/v1/sessions", header: token, want: http.StatusOK},
		{name: "acs exempt", path: "/auth/saml/acme/acs", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
			if tc.header != "" {
				req.Header.Set(csrfHeaderName, tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(okHandler, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" || rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("allowed origin not echoed: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	handler := MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := decodeJSON(w, r, &v); err != nil {
			writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 16)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"`+strings.Repeat("b", 64)+`"}`)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body status = %d", rr.Code)
	}
}

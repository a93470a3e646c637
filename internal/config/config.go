// Package config loads process configuration from TENANTGATE_* environment
// variables layered over an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minSecretBytes = 32

// Config is the complete runtime configuration.
type Config struct {
	Environment string `yaml:"environment"`
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url"`

	SessionSecret string `yaml:"session_secret"`
	ResetSecret   string `yaml:"reset_secret"`
	CookieSecure  bool   `yaml:"cookie_secure"`

	PublicBaseURL       string `yaml:"public_base_url"`
	FrontendBasePath    string `yaml:"frontend_base_path"`
	DefaultRedirectPath string `yaml:"default_redirect_path"`

	LoginLimit        int           `yaml:"login_limit"`
	LoginWindow       time.Duration `yaml:"login_window"`
	TenantLookupLimit int           `yaml:"tenant_lookup_limit"`
	TenantLookupWin   time.Duration `yaml:"tenant_lookup_window"`

	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Environment:         "development",
		HTTPAddr:            ":8080",
		GRPCAddr:            ":9090",
		PublicBaseURL:       "http://localhost:8080",
		FrontendBasePath:    "",
		DefaultRedirectPath: "/",
		LoginLimit:          10,
		LoginWindow:         3 * time.Minute,
		TenantLookupLimit:   5,
		TenantLookupWin:     time.Minute,
		CORSOrigins:         []string{"http://localhost:3000"},
		LogLevel:            "info",
		MaxBodyBytes:        1 << 20,
	}
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds a Config from lookup. The YAML file named by TENANTGATE_CONFIG,
// when present, is applied before environment overrides.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup("TENANTGATE_CONFIG"); ok && strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	env := envReader{lookup: lookup}
	env.str("TENANTGATE_ENV", &cfg.Environment)
	env.str("TENANTGATE_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("TENANTGATE_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("TENANTGATE_PG_DSN", &cfg.PostgresDSN)
	env.str("TENANTGATE_REDIS_URL", &cfg.RedisURL)
	env.str("TENANTGATE_SESSION_SECRET", &cfg.SessionSecret)
	env.str("TENANTGATE_RESET_SECRET", &cfg.ResetSecret)
	env.boolean("TENANTGATE_COOKIE_SECURE", &cfg.CookieSecure)
	env.str("TENANTGATE_PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	env.str("TENANTGATE_FRONTEND_BASE_PATH", &cfg.FrontendBasePath)
	env.str("TENANTGATE_DEFAULT_REDIRECT", &cfg.DefaultRedirectPath)
	env.integer("TENANTGATE_LOGIN_LIMIT", &cfg.LoginLimit)
	env.duration("TENANTGATE_LOGIN_WINDOW", &cfg.LoginWindow)
	env.integer("TENANTGATE_TENANT_LOOKUP_LIMIT", &cfg.TenantLookupLimit)
	env.duration("TENANTGATE_TENANT_LOOKUP_WINDOW", &cfg.TenantLookupWin)
	env.list("TENANTGATE_CORS_ORIGINS", &cfg.CORSOrigins)
	env.list("TENANTGATE_TRUSTED_PROXIES", &cfg.TrustedProxies)
	env.str("TENANTGATE_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	env.str("TENANTGATE_LOG_LEVEL", &cfg.LogLevel)
	env.int64("TENANTGATE_MAX_BODY_BYTES", &cfg.MaxBodyBytes)
	if env.err != nil {
		return Config{}, env.err
	}

	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	cfg.FrontendBasePath = strings.TrimRight(cfg.FrontendBasePath, "/")
	return cfg, nil
}

// Production reports whether the config targets a production deployment.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the config for settings the server cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("public base url %q is not absolute", c.PublicBaseURL))
	}
	if !strings.HasPrefix(c.DefaultRedirectPath, "/") {
		errs = append(errs, errors.New("default redirect must be a local path"))
	}
	if c.LoginLimit < 0 || c.TenantLookupLimit < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.LoginLimit > 0 && c.LoginWindow <= 0 {
		errs = append(errs, errors.New("login window must be positive"))
	}
	if c.TenantLookupLimit > 0 && c.TenantLookupWin <= 0 {
		errs = append(errs, errors.New("tenant lookup window must be positive"))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Production() {
		if len(c.SessionSecret) < minSecretBytes {
			errs = append(errs, fmt.Errorf("session secret must be at least %d bytes", minSecretBytes))
		}
		if len(c.ResetSecret) < minSecretBytes {
			errs = append(errs, fmt.Errorf("reset secret must be at least %d bytes", minSecretBytes))
		}
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required in production"))
		}
		if !c.CookieSecure {
			errs = append(errs, errors.New("cookie_secure must be enabled in production"))
		}
	}
	return errors.Join(errs...)
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (c Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}

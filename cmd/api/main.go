package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/securecookie"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/config"
	"tenantgate.io/internal/gateway"
	"tenantgate.io/internal/httpapi"
	"tenantgate.io/internal/mail"
	"tenantgate.io/internal/obs"
	"tenantgate.io/internal/ratelimit"
	"tenantgate.io/internal/saml"
	"tenantgate.io/internal/session"
	"tenantgate.io/internal/store/memory"
	"tenantgate.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is the persistence both the auth service and the gateway share.
type backend interface {
	auth.Store
	session.Store
	Ping(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		obs.Logger().Error(err, "tenantgate-api exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger().WithName("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, log, "tenantgate-api", cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	store, closeStore, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionSecret, resetSecret := secrets(cfg, log)

	svc, err := auth.NewService(store,
		auth.WithResetSecret(resetSecret),
		auth.WithLogger(log.WithName("auth")),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	gw, err := gateway.New(store, svc, []byte(sessionSecret),
		gateway.WithSecureCookie(cfg.CookieSecure),
		gateway.WithLogger(log.WithName("gateway")),
	)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	loginLimiter, tenantLimiter, closeLimiters, err := openLimiters(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiters()

	ready := httpapi.ReadyCheck{Store: store}
	api, err := httpapi.New(cfg, httpapi.Deps{
		Auth:          svc,
		Gateway:       gw,
		Sessions:      store,
		SAML:          saml.NewAdapter(svc, cfg.PublicBaseURL, saml.WithLogger(log.WithName("saml"))),
		Mailer:        mail.LogMailer{Logger: log.WithName("mail"), RevealLinks: !cfg.Production()},
		LoginLimiter:  loginLimiter,
		TenantLimiter: tenantLimiter,
		Ready:         ready,
		Logger:        log.WithName("httpapi"),
	}, version)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Info("starting http server", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewHealthServer(ready)
		health.Register(grpcSrv)
		go health.Run(ctx, 10*time.Second)
		go func() {
			log.Info("starting grpc health server", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

func openBackend(cfg config.Config, log logr.Logger) (backend, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Info("no postgres dsn configured, using in-memory store")
		return memory.New(), func() {}, nil
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// secrets falls back to per-process random keys outside production, which
// invalidates sessions and reset links on restart.
func secrets(cfg config.Config, log logr.Logger) (string, string) {
	sessionKey, resetKey := cfg.SessionSecret, cfg.ResetSecret
	if sessionKey == "" {
		log.Info("TENANTGATE_SESSION_SECRET not set, generating an ephemeral key")
		sessionKey = ephemeralKey()
	}
	if resetKey == "" {
		log.Info("TENANTGATE_RESET_SECRET not set, generating an ephemeral key")
		resetKey = ephemeralKey()
	}
	return sessionKey, resetKey
}

func ephemeralKey() string {
	return base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
}

func openLimiters(ctx context.Context, cfg config.Config, log logr.Logger) (ratelimit.Limiter, ratelimit.Limiter, func(), error) {
	loginRule := ratelimit.Rule{Limit: cfg.LoginLimit, Window: cfg.LoginWindow}
	tenantRule := ratelimit.Rule{Limit: cfg.TenantLookupLimit, Window: cfg.TenantLookupWin}

	if cfg.RedisURL == "" {
		return memoryLimiter(loginRule), memoryLimiter(tenantRule), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Error(err, "redis unreachable at startup, rate limits fail open until it recovers")
	}
	closeFn := func() { _ = rdb.Close() }
	var login, tenant ratelimit.Limiter
	if loginRule.Limit > 0 {
		login = ratelimit.NewRedis(rdb, "tenantgate:login", loginRule)
	}
	if tenantRule.Limit > 0 {
		tenant = ratelimit.NewRedis(rdb, "tenantgate:tenant_lookup", tenantRule)
	}
	return login, tenant, closeFn, nil
}

func memoryLimiter(rule ratelimit.Rule) ratelimit.Limiter {
	if rule.Limit <= 0 {
		return nil
	}
	return ratelimit.NewMemory(rule)
}

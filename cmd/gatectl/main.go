// Command gatectl is the operator CLI: schema migrations and provisioning of
// tenants, roles and users.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/config"
	"tenantgate.io/internal/store/pg"
)

// openStore connects to the configured database. Tests replace it.
var openStore = func(dsn string) (auth.Store, func(), error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("missing DSN: provide via --dsn or TENANTGATE_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

var dsn string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatectl",
		Short:         "Operate a tenantgate deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg, err := config.Load()
	defaultDSN := os.Getenv("TENANTGATE_PG_DSN")
	if err == nil {
		defaultDSN = cfg.PostgresDSN
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", defaultDSN, "PostgreSQL DSN")

	root.AddCommand(newMigrateCmd(), newTenantCmd(), newRoleCmd(), newUserCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gatectl:", err)
		os.Exit(1)
	}
}

// withService runs fn against an auth.Service over the configured store.
func withService(ctx context.Context, fn func(*auth.Service) error) error {
	store, closeFn, err := openStore(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	// Provisioning never issues reset tokens.
	secret := base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
	svc, err := auth.NewService(store, auth.WithResetSecret(secret))
	if err != nil {
		return err
	}
	return fn(svc)
}

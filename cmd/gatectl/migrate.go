package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tenantgate.io/internal/migrate"
	"tenantgate.io/internal/store/pg"
)

var seedsPath string

// openDB connects the migration manager. Tests replace it.
var openDB = func(dsn string) (*sql.DB, func(), error) {
	store, err := pg.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return store.DB(), func() { _ = store.Close() }, nil
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the database schema",
	}
	cmd.PersistentFlags().StringVar(&seedsPath, "seeds", "", "directory of seed .sql files")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
					return m.Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
					history, err := m.Status(ctx)
					if err != nil {
						return err
					}
					for _, item := range history {
						fmt.Fprintln(cmd.OutOrStdout(), item)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply seed files not yet recorded",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if seedsPath == "" {
					return errors.New("seed requires --seeds")
				}
				return withManager(cmd.Context(), func(ctx context.Context, m *migrate.Manager) error {
					return m.Seed(ctx)
				})
			},
		},
	)
	return cmd
}

func withManager(parent context.Context, fn func(context.Context, *migrate.Manager) error) error {
	if dsn == "" {
		return errors.New("missing DSN: provide via --dsn or TENANTGATE_PG_DSN")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	db, closeDB, err := openDB(dsn)
	if err != nil {
		return err
	}
	defer closeDB()

	var seeds fs.FS
	if seedsPath != "" {
		seeds = os.DirFS(seedsPath)
	}
	return fn(ctx, migrate.NewManager(db, migrate.Schema(), seeds))
}

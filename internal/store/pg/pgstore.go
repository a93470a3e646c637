// Package pg persists tenants, users, roles, SAML settings and sessions in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/ids"
	"tenantgate.io/internal/session"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var newID = ids.New

var (
	_ auth.Store    = (*Store)(nil)
	_ session.Store = (*Store)(nil)
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Tenants(context.Context) auth.TenantStore           { return tenantStore{s} }
func (s *Store) Users(context.Context) auth.UserStore               { return userStore{s} }
func (s *Store) Credentials(context.Context) auth.CredentialStore   { return credentialStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore               { return roleStore{s} }
func (s *Store) SamlSettings(context.Context) auth.SamlSettingStore { return samlStore{s} }

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// withTenantLock serializes fn against other callers holding the same tenant's lock.
func (s *Store) withTenantLock(ctx context.Context, tenantID string, fn func(tx *sql.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
			return fmt.Errorf("lock tenant %s: %w", tenantID, err)
		}
		return fn(tx)
	})
}

type tenantStore struct{ s *Store }

func (t tenantStore) Create(ctx context.Context, tenant *auth.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = newID()
	}
	err := t.s.db.QueryRowContext(ctx, `
		insert into tenants (id, name, code)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, tenant.ID, tenant.Name, tenant.Code).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	return mapErr(err)
}

func (t tenantStore) Find(ctx context.Context, id string) (*auth.Tenant, error) {
	return t.scanOne(ctx, `where id = $1`, id)
}

func (t tenantStore) FindByCode(ctx context.Context, code string) (*auth.Tenant, error) {
	return t.scanOne(ctx, `where code = $1`, code)
}

func (t tenantStore) scanOne(ctx context.Context, where string, arg any) (*auth.Tenant, error) {
	var tenant auth.Tenant
	err := t.s.db.QueryRowContext(ctx, `
		select id, name, code, created_at, updated_at
		from tenants `+where, arg).Scan(&tenant.ID, &tenant.Name, &tenant.Code, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &tenant, nil
}

// --- helpers ---

// mapErr translates driver errors into the auth sentinel errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrAlreadyExists, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

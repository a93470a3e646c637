package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"tenantgate.io/internal/auth"
	"tenantgate.io/internal/session"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var roleRowColumns = []string{"id", "tenant_id", "name", "permission_type", "created_at", "updated_at"}

func TestTenantCreateMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into tenants").
		WithArgs(sqlmock.AnyArg(), "Acme", "acme").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "tenants_code_key"})

	err := store.Tenants(context.Background()).Create(context.Background(), &auth.Tenant{Name: "Acme", Code: "acme"})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestTenantFindByCodeNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select id, name, code, created_at, updated_at.*from tenants where code").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Tenants(context.Background()).FindByCode(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserCreateRollsBackOnDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "role-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("insert into credentials").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "dup@example.com", "hash").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "credentials_email_key"})
	mock.ExpectRollback()

	_, err := store.Users(context.Background()).Create(context.Background(), auth.NewUser{
		TenantID:     "tenant-1",
		RoleID:       "role-1",
		Email:        "dup@example.com",
		PasswordHash: "hash",
		DisplayName:  "Dup",
	})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUserFindWithoutProfile(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectQuery("from users u.*left join profiles p.*where u.id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "role_id", "name_id", "created_at", "updated_at",
			"p_id", "p_name", "p_created_at", "p_updated_at",
		}).AddRow("user-1", "tenant-1", "role-1", "", now, now, nil, nil, nil, nil))

	user, err := store.Users(context.Background()).Find(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if user.Profile != nil || user.DisplayName() != auth.DeletedUserDisplayName {
		t.Fatalf("expected sentinel display name, got %q", user.DisplayName())
	}
}

func TestRoleUpdateRejectsLastAdminDemotion(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("tenant-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from roles where id = \\$1 and tenant_id = \\$2 for update").
		WithArgs("role-1", "tenant-1").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow("role-1", "tenant-1", "Admins", "admin", now, now))
	mock.ExpectQuery("select count\\(\\*\\) from roles").
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.Roles(context.Background()).Update(context.Background(), "tenant-1", "role-1", func(role *auth.Role, adminCount int) error {
		return auth.EnsureAdminRetained(role, auth.TierGeneral, adminCount)
	})
	if !errors.Is(err, auth.ErrAdminRoleRequired) {
		t.Fatalf("expected ErrAdminRoleRequired, got %v", err)
	}
}

func TestRoleUpdateCommitsWithSecondAdmin(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("tenant-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").
		WithArgs("role-1", "tenant-1").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow("role-1", "tenant-1", "Admins", "admin", now, now))
	mock.ExpectQuery("select count").WithArgs("tenant-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("update roles set name").
		WithArgs("role-1", "tenant-1", "Staff", "general").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectCommit()

	role, err := store.Roles(context.Background()).Update(context.Background(), "tenant-1", "role-1", func(role *auth.Role, adminCount int) error {
		if err := auth.EnsureAdminRetained(role, auth.TierGeneral, adminCount); err != nil {
			return err
		}
		role.Name = "Staff"
		role.Tier = auth.TierGeneral
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if role.Tier != auth.TierGeneral {
		t.Fatalf("unexpected tier %s", role.Tier)
	}
}

func TestRoleDeleteInUse(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("tenant-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("for update").
		WithArgs("role-2", "tenant-1").
		WillReturnRows(sqlmock.NewRows(roleRowColumns).AddRow("role-2", "tenant-1", "Readers", "general", now, now))
	mock.ExpectQuery("select count").WithArgs("tenant-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("select exists").WithArgs("role-2").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Roles(context.Background()).Delete(context.Background(), "tenant-1", "role-2", func(*auth.Role, int) error { return nil })
	if !errors.Is(err, auth.ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}
}

func TestSessionListOrdering(t *testing.T) {
	store, mock := newMock(t)
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	mock.ExpectQuery("from sessions.*where user_id = \\$1.*order by created_at desc, id desc").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "user_agent", "ip_address", "provenance", "created_at", "updated_at"}).
			AddRow("s2", "user-1", "ua", "10.0.0.1", "saml", newer, newer).
			AddRow("s1", "user-1", "ua", "10.0.0.1", "password", older, older))

	list, err := store.ListForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(list) != 2 || list[0].ID != "s2" || list[0].Provenance != session.ProvenanceSaml {
		t.Fatalf("unexpected sessions: %+v", list)
	}
}

func TestSessionFindAndDestroyForUser(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from sessions where id").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("delete from sessions where id = \\$1 and user_id = \\$2").
		WithArgs("s1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from sessions where id").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if _, err := store.Find(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound, got %v", err)
	}
	if err := store.DestroyForUser(ctx, "intruder", "s1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound for foreign session, got %v", err)
	}
	if err := store.Destroy(ctx, "gone"); err != nil {
		t.Fatalf("Destroy must be idempotent: %v", err)
	}
}

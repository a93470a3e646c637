package pg

import (
	"context"
	"database/sql"

	"tenantgate.io/internal/auth"
)

type userStore struct{ s *Store }

const userColumns = `
	select u.id, u.tenant_id, u.role_id, coalesce(u.name_id, ''), u.created_at, u.updated_at,
	       p.id, p.name, p.created_at, p.updated_at
	from users u
	left join profiles p on p.user_id = u.id`

func (u userStore) Create(ctx context.Context, nu auth.NewUser) (*auth.User, error) {
	user := &auth.User{
		ID:       newID(),
		TenantID: nu.TenantID,
		RoleID:   nu.RoleID,
		NameID:   nu.NameID,
	}
	profile := &auth.Profile{ID: newID(), UserID: user.ID, Name: nu.DisplayName}
	err := u.s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			insert into users (id, tenant_id, role_id, name_id)
			values ($1, $2, $3, $4)
			returning created_at, updated_at
		`, user.ID, user.TenantID, user.RoleID, nullIfEmpty(user.NameID)).Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
			return mapErr(err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into credentials (id, user_id, email, password_hash)
			values ($1, $2, $3, $4)
		`, newID(), user.ID, nu.Email, nu.PasswordHash); err != nil {
			return mapErr(err)
		}
		if err := tx.QueryRowContext(ctx, `
			insert into profiles (id, user_id, name)
			values ($1, $2, $3)
			returning created_at, updated_at
		`, profile.ID, profile.UserID, profile.Name).Scan(&profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return mapErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	user.Profile = profile
	return user, nil
}

func (u userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(u.s.db.QueryRowContext(ctx, userColumns+` where u.id = $1`, id))
}

func (u userStore) FindByEmail(ctx context.Context, tenantID, email string) (*auth.User, error) {
	return scanUser(u.s.db.QueryRowContext(ctx, userColumns+`
		join credentials c on c.user_id = u.id
		where u.tenant_id = $1 and c.email = $2`, tenantID, email))
}

func (u userStore) ListByTenant(ctx context.Context, tenantID string) ([]*auth.User, error) {
	rows, err := u.s.db.QueryContext(ctx, userColumns+`
		where u.tenant_id = $1
		order by u.created_at desc, u.id desc`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (u userStore) DeleteProfile(ctx context.Context, userID string) error {
	var exists bool
	if err := u.s.db.QueryRowContext(ctx, `select exists(select 1 from users where id = $1)`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	_, err := u.s.db.ExecContext(ctx, `delete from profiles where user_id = $1`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		user                   auth.User
		profileID, profileName sql.NullString
		profileCreated         sql.NullTime
		profileUpdated         sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.TenantID, &user.RoleID, &user.NameID, &user.CreatedAt, &user.UpdatedAt,
		&profileID, &profileName, &profileCreated, &profileUpdated); err != nil {
		return nil, mapErr(err)
	}
	if profileID.Valid {
		user.Profile = &auth.Profile{
			ID:        profileID.String,
			UserID:    user.ID,
			Name:      profileName.String,
			CreatedAt: profileCreated.Time,
			UpdatedAt: profileUpdated.Time,
		}
	}
	return &user, nil
}

type credentialStore struct{ s *Store }

const credentialColumns = `select id, user_id, email, password_hash, created_at, updated_at from credentials`

func (c credentialStore) Find(ctx context.Context, id string) (*auth.Credential, error) {
	return scanCredential(c.s.db.QueryRowContext(ctx, credentialColumns+` where id = $1`, id))
}

func (c credentialStore) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	return scanCredential(c.s.db.QueryRowContext(ctx, credentialColumns+` where email = $1`, email))
}

func (c credentialStore) FindByUser(ctx context.Context, userID string) (*auth.Credential, error) {
	return scanCredential(c.s.db.QueryRowContext(ctx, credentialColumns+` where user_id = $1`, userID))
}

func (c credentialStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := c.s.db.ExecContext(ctx, `
		update credentials set password_hash = $2, updated_at = now()
		where id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func scanCredential(row rowScanner) (*auth.Credential, error) {
	var cred auth.Credential
	if err := row.Scan(&cred.ID, &cred.UserID, &cred.Email, &cred.PasswordHash, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &cred, nil
}

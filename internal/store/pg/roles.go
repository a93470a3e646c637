package pg

import (
	"context"
	"database/sql"

	"tenantgate.io/internal/auth"
)

type roleStore struct{ s *Store }

const roleColumns = `select id, tenant_id, name, permission_type, created_at, updated_at from roles`

func (r roleStore) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = newID()
	}
	err := r.s.db.QueryRowContext(ctx, `
		insert into roles (id, tenant_id, name, permission_type)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, role.ID, role.TenantID, role.Name, string(role.Tier)).Scan(&role.CreatedAt, &role.UpdatedAt)
	return mapErr(err)
}

func (r roleStore) Find(ctx context.Context, tenantID, id string) (*auth.Role, error) {
	return scanRole(r.s.db.QueryRowContext(ctx, roleColumns+` where id = $1 and tenant_id = $2`, id, tenantID))
}

func (r roleStore) ListByTenant(ctx context.Context, tenantID string) ([]*auth.Role, error) {
	rows, err := r.s.db.QueryContext(ctx, roleColumns+`
		where tenant_id = $1
		order by created_at desc, id desc`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*auth.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// Update holds the tenant's advisory lock while it reads the admin count,
// applies mutate and writes, so two concurrent demotions cannot both pass.
func (r roleStore) Update(ctx context.Context, tenantID, id string, mutate auth.RoleMutation) (*auth.Role, error) {
	var out *auth.Role
	err := r.s.withTenantLock(ctx, tenantID, func(tx *sql.Tx) error {
		role, count, err := lockRole(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := mutate(role, count); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			update roles set name = $3, permission_type = $4, updated_at = now()
			where id = $1 and tenant_id = $2
			returning updated_at
		`, id, tenantID, role.Name, string(role.Tier)).Scan(&role.UpdatedAt); err != nil {
			return mapErr(err)
		}
		out = role
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r roleStore) Delete(ctx context.Context, tenantID, id string, check auth.RoleMutation) error {
	return r.s.withTenantLock(ctx, tenantID, func(tx *sql.Tx) error {
		role, count, err := lockRole(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		var inUse bool
		if err := tx.QueryRowContext(ctx, `select exists(select 1 from users where role_id = $1)`, id).Scan(&inUse); err != nil {
			return err
		}
		if inUse {
			return auth.ErrRoleInUse
		}
		if err := check(role, count); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from roles where id = $1 and tenant_id = $2`, id, tenantID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return auth.ErrRoleInUse
			}
			return err
		}
		return nil
	})
}

func lockRole(ctx context.Context, tx *sql.Tx, tenantID, id string) (*auth.Role, int, error) {
	role, err := scanRole(tx.QueryRowContext(ctx, roleColumns+` where id = $1 and tenant_id = $2 for update`, id, tenantID))
	if err != nil {
		return nil, 0, err
	}
	var count int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from roles where tenant_id = $1 and permission_type = 'admin'
	`, tenantID).Scan(&count); err != nil {
		return nil, 0, err
	}
	return role, count, nil
}

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		role auth.Role
		tier string
	)
	if err := row.Scan(&role.ID, &role.TenantID, &role.Name, &tier, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	role.Tier = auth.PermissionTier(tier)
	return &role, nil
}

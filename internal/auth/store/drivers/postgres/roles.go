package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
)

type rolesRepo struct {
	db dbtx
}

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	return r.getRole(ctx, `SELECT id, name, created_at FROM roles WHERE id = $1`, id)
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return r.getRole(ctx, `SELECT id, name, created_at FROM roles WHERE name = $1`, name)
}

func (r *rolesRepo) getRole(ctx context.Context, query, arg string) (domain.Role, error) {
	var role domain.Role
	if err := r.db.QueryRow(ctx, query, arg).Scan(&role.ID, &role.Name, &role.CreatedAt); err != nil {
		return domain.Role{}, mapNotFound(err)
	}

	perms, err := r.permissions(ctx, role.ID)
	if err != nil {
		return domain.Role{}, err
	}
	role.Permissions = perms[role.ID]
	return role, nil
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Role, error) {
		var role domain.Role
		err := row.Scan(&role.ID, &role.Name, &role.CreatedAt)
		return role, err
	})
	if err != nil {
		return nil, err
	}

	perms, err := r.permissions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = perms[roles[i].ID]
	}
	return roles, nil
}

func (r *rolesRepo) permissions(ctx context.Context, roleID string) (map[string][]domain.Permission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, p.id, p.name, p.is_active
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE $1 = '' OR rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]domain.Permission)
	for rows.Next() {
		var (
			rid string
			p   domain.Permission
		)
		if err := rows.Scan(&rid, &p.ID, &p.Name, &p.IsActive); err != nil {
			return nil, err
		}
		out[rid] = append(out[rid], p)
	}
	return out, rows.Err()
}

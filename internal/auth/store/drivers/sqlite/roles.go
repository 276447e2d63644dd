package sqlite

import (
	"context"

	"github.com/aussiebroadwan/sessionauth/internal/auth/domain"
)

type rolesRepo struct {
	db dbtx
}

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	return r.getRole(ctx, `SELECT id, name, created_at FROM roles WHERE id = ?`, id)
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return r.getRole(ctx, `SELECT id, name, created_at FROM roles WHERE name = ?`, name)
}

func (r *rolesRepo) getRole(ctx context.Context, query string, arg string) (domain.Role, error) {
	var (
		role    domain.Role
		created int64
	)
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&role.ID, &role.Name, &created); err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	role.CreatedAt = fromMillis(created)

	perms, err := r.permissions(ctx, role.ID)
	if err != nil {
		return domain.Role{}, err
	}
	role.Permissions = perms[role.ID]
	return role, nil
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var (
			role    domain.Role
			created int64
		)
		if err := rows.Scan(&role.ID, &role.Name, &created); err != nil {
			return nil, err
		}
		role.CreatedAt = fromMillis(created)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Drain before the next query; a single-connection pool would block.
	_ = rows.Close()

	perms, err := r.permissions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Permissions = perms[roles[i].ID]
	}
	return roles, nil
}

// permissions returns permissions keyed by role id, for one role or for all
// roles when roleID is empty.
func (r *rolesRepo) permissions(ctx context.Context, roleID string) (map[string][]domain.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rp.role_id, p.id, p.name, p.is_active
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ? = '' OR rp.role_id = ?
		ORDER BY p.name`, roleID, roleID)
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

package domain

import "time"

// Built-in role names seeded by the initial migration.
const (
	RoleUser     = "user"
	RoleAdmin    = "admin"
	RoleSysadmin = "sysadmin"
)

type Role struct {
	ID          string
	Name        string
	Permissions []Permission
	CreatedAt   time.Time
}

// PermissionNames returns the names of the active permissions.
func (r Role) PermissionNames() []string {
	out := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		if p.IsActive {
			out = append(out, p.Name)
		}
	}
	return out
}

// Permission is informational. Access decisions use the role name.
type Permission struct {
	ID       string
	Name     string
	IsActive bool
}

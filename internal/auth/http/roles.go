package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
)

type RolesHandler struct {
	Roles *service.RolesService
}

// ServeHTTP lists every role with its active permissions.
func (h *RolesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Roles.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := authsdk.RolesResponse{Roles: make([]authsdk.Role, len(roles))}
	for i, role := range roles {
		resp.Roles[i] = authsdk.Role{
			ID:          role.ID,
			Name:        role.Name,
			Permissions: role.PermissionNames(),
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
)

type UsersHandler struct {
	Users *service.UserService
}

// HandleSetRole changes a user's role. Every session of that user ends, so
// the new role takes effect on the next login.
func (h *UsersHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SetRoleRequest
	if apiErr := decodeBody(w, r, &req); apiErr != nil {
		apiErr.WriteError(w)
		return
	}

	u, _, err := h.Users.SetRole(r.Context(), r.PathValue("id"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(u))
}

func (h *UsersHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	u, revoked, err := h.Users.Deactivate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.DeactivateResponse{
		User:            toUser(u),
		RevokedSessions: revoked,
	})
}

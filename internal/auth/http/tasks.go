package http

import (
	"net/http"

	"github.com/aussiebroadwan/sessionauth/internal/auth/service"
	"github.com/aussiebroadwan/sessionauth/pkg/authsdk"
	"github.com/aussiebroadwan/sessionauth/pkg/httpx"
	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

type TasksHandler struct {
	Janitor *service.SessionJanitor
}

// HandleCleanup runs a sweep now and reports what it removed.
func (h *TasksHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.Janitor.RunNow(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	slogx.FromContext(r.Context()).Info("manual session sweep", "deleted", res.DeletedCount)
	httpx.WriteJSON(w, http.StatusOK, authsdk.CleanupResponse{
		DeletedCount: res.DeletedCount,
		Timestamp:    res.Timestamp,
	})
}

func (h *TasksHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st := h.Janitor.Status()
	httpx.WriteJSON(w, http.StatusOK, authsdk.TaskStatusResponse{
		IsRunning:       st.IsRunning,
		HourlyCleanup:   st.HourlySpec,
		FrequentCleanup: st.FrequentSpec,
		LastRunAt:       st.LastRunAt,
		LastDeleted:     st.LastDeleted,
		NextRunAt:       st.NextRunAt,
	})
}

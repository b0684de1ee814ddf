package handler

import (
	"log/slog"
	"net/http"

	"github.com/practice-lms/practice/internal/model"
)

// handleMyStats returns the caller's per-subject statistics.
func (h *Handler) handleMyStats(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	stats, err := h.store.StudentStats(user.ID)
	if err != nil {
		slog.Error("failed to compute stats", "user_id", user.ID, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

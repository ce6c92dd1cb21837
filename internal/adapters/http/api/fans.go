package api

import (
	"net/http"
)

// FansHandler serves fan reads.
type FansHandler struct {
	deps FanDependencies
}

// NewFansHandler creates a new fans handler.
func NewFansHandler(deps FanDependencies) *FansHandler {
	return &FansHandler{deps: deps}
}

// HandleGetFan handles GET /fans/{fan_id} requests.
func (h *FansHandler) HandleGetFan(w http.ResponseWriter, r *http.Request, fanID string) {
	const op = "api.get_fan"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	fan, err := h.deps.GetFan(r.Context(), fanID)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, fan)
}

// HandleGetAchievements handles GET /fans/{fan_id}/achievements requests.
func (h *FansHandler) HandleGetAchievements(w http.ResponseWriter, r *http.Request, fanID string) {
	const op = "api.get_achievements"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	progress, err := h.deps.GetAchievementProgress(r.Context(), fanID)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

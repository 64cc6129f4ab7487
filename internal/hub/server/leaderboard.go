package server

import (
	"net/http"

	"nervix-hub/internal/shared/model"
)

func (h *Handler) registerLeaderboardRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/leaderboard", h.Leaderboard)
	mux.HandleFunc("GET /api/v1/agents/{id}/rank", h.AgentRank)
}

// AgentRank 获取 Agent 在综合榜上的名次与百分位
// GET /api/v1/agents/{id}/rank
func (h *Handler) AgentRank(w http.ResponseWriter, r *http.Request) {
	profile, err := h.leaderboard.AgentProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Leaderboard 获取声誉排行榜及层级分布
// GET /api/v1/leaderboard?sort=&limit=
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.leaderboard.Rankings(r.Context(),
		model.LeaderboardSort(r.URL.Query().Get("sort")), queryInt(r, "limit", 0))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	tiers, err := h.leaderboard.Distribution(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"tiers":   tiers,
	})
}

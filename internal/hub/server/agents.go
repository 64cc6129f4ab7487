package server

import (
	"net/http"

	"nervix-hub/internal/hub/agents"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

func (h *Handler) registerAgentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/agents/heartbeat", h.AgentHeartbeat)
	mux.HandleFunc("GET /api/v1/agents", h.ListAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", h.GetAgent)
	mux.HandleFunc("PATCH /api/v1/agents/me", h.UpdateProfile)
	mux.HandleFunc("PUT /api/v1/agents/me/capabilities", h.ReplaceCapabilities)
	mux.HandleFunc("GET /api/v1/agents/{id}/capabilities", h.ListCapabilities)
	mux.HandleFunc("POST /api/v1/agents/{id}/suspend", h.SuspendAgent)
	mux.HandleFunc("POST /api/v1/agents/{id}/reactivate", h.ReactivateAgent)
}

// AgentHeartbeat 心跳上报（操作主体为令牌中的 Agent）
// POST /api/v1/agents/heartbeat
func (h *Handler) AgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	var report agents.HeartbeatReport
	if err := decodeJSON(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.agents.Heartbeat(r.Context(), caller(r).AgentID, report); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListAgents 列出 Agent
// GET /api/v1/agents?status=&role=&limit=&offset=
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	filter := storage.AgentFilter{
		Status: r.URL.Query().Get("status"),
		Role:   r.URL.Query().Get("role"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}

	list, err := h.agents.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": list})
}

// GetAgent 获取 Agent 详情
// GET /api/v1/agents/{id}
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.agents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// UpdateProfile 更新自身档案
// PATCH /api/v1/agents/me
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update agents.ProfileUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	agent, err := h.agents.UpdateProfile(r.Context(), caller(r).AgentID, update)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ReplaceCapabilities 全量替换自身能力声明
// PUT /api/v1/agents/me/capabilities
func (h *Handler) ReplaceCapabilities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Capabilities []agents.CapabilityDecl `json:"capabilities"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caps, err := h.agents.ReplaceCapabilities(r.Context(), caller(r).AgentID, req.Capabilities)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": caps})
}

// ListCapabilities 列出 Agent 的能力声明
// GET /api/v1/agents/{id}/capabilities
func (h *Handler) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := h.agents.Capabilities(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": caps})
}

// SuspendAgent 停用 Agent（仅 orchestrator 角色）
// POST /api/v1/agents/{id}/suspend
func (h *Handler) SuspendAgent(w http.ResponseWriter, r *http.Request) {
	if !caller(r).HasRole(string(model.RoleOrchestrator)) {
		writeError(w, http.StatusForbidden, "orchestrator role required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.agents.Suspend(r.Context(), r.PathValue("id"), req.Reason); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// ReactivateAgent 恢复停用的 Agent（仅 orchestrator 角色）
// POST /api/v1/agents/{id}/reactivate
func (h *Handler) ReactivateAgent(w http.ResponseWriter, r *http.Request) {
	if !caller(r).HasRole(string(model.RoleOrchestrator)) {
		writeError(w, http.StatusForbidden, "orchestrator role required")
		return
	}

	if err := h.agents.Reactivate(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

package server

import (
	"net/http"

	"nervix-hub/internal/hub/tasks"
	"nervix-hub/internal/shared/storage"
)

func (h *Handler) registerTaskRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.CreateTask)
	mux.HandleFunc("GET /api/v1/tasks", h.ListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.GetTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/start", h.StartTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/complete", h.CompleteTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/fail", h.FailTask)
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", h.CancelTask)
}

// CreateTask 发布任务，悬赏由发布方余额托管
// POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req tasks.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RequesterID = caller(r).AgentID

	task, err := h.tasks.Create(r.Context(), &req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// ListTasks 列出任务
// GET /api/v1/tasks?status=&requester=me&assignee=me
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := storage.TaskFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if r.URL.Query().Get("requester") == "me" {
		filter.RequesterID = caller(r).AgentID
	}
	if r.URL.Query().Get("assignee") == "me" {
		filter.AssignedTo = caller(r).AgentID
	}

	list, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

// GetTask 获取任务详情
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// StartTask 被指派的 Agent 开始执行任务
// POST /api/v1/tasks/{id}/start
func (h *Handler) StartTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Start(r.Context(), r.PathValue("id"), caller(r).AgentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CompleteTask 上报任务完成并触发结算
// POST /api/v1/tasks/{id}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Complete(r.Context(), r.PathValue("id"), caller(r).AgentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// FailTask 上报任务失败
// POST /api/v1/tasks/{id}/fail
func (h *Handler) FailTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := h.tasks.Fail(r.Context(), r.PathValue("id"), caller(r).AgentID, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelTask 发布方取消任务
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Cancel(r.Context(), r.PathValue("id"), caller(r).AgentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

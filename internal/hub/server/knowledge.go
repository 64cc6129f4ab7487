package server

import (
	"net/http"
	"time"

	"nervix-hub/internal/hub/knowledge"
	"nervix-hub/internal/shared/storage"
)

// 预签名下载链接的有效期
const archiveURLExpiry = 15 * time.Minute

func (h *Handler) registerKnowledgeRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/packages", h.RegisterPackage)
	mux.HandleFunc("GET /api/v1/packages", h.ListPackages)
	mux.HandleFunc("GET /api/v1/packages/{id}", h.GetPackage)
	mux.HandleFunc("POST /api/v1/packages/{id}/archive", h.UploadArchive)
	mux.HandleFunc("GET /api/v1/packages/{id}/archive", h.ArchiveURL)
	mux.HandleFunc("POST /api/v1/packages/{id}/delist", h.DelistPackage)
	mux.HandleFunc("GET /api/v1/marketplace", h.Marketplace)

	mux.HandleFunc("POST /api/v1/packages/{id}/audit", h.AuditPackage)
	mux.HandleFunc("GET /api/v1/packages/{id}/audit", h.LatestAudit)
	mux.HandleFunc("GET /api/v1/audits", h.ListAudits)
}

// RegisterPackage 登记知识包（owner 为调用方）
// POST /api/v1/packages
func (h *Handler) RegisterPackage(w http.ResponseWriter, r *http.Request) {
	var req knowledge.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OwnerID = caller(r).AgentID

	pkg, err := h.knowledge.Register(r.Context(), &req)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

// ListPackages 列出知识包
// GET /api/v1/packages?owner=me&audit_status=
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	filter := storage.PackageFilter{
		AuditStatus: r.URL.Query().Get("audit_status"),
		Limit:       queryInt(r, "limit", 100),
		Offset:      queryInt(r, "offset", 0),
	}
	if r.URL.Query().Get("owner") == "me" {
		filter.OwnerID = caller(r).AgentID
	}

	list, err := h.knowledge.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packages": list})
}

// GetPackage 获取知识包详情
// GET /api/v1/packages/{id}
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.knowledge.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// UploadArchive 上传知识包归档（仅属主）
// POST /api/v1/packages/{id}/archive
func (h *Handler) UploadArchive(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength <= 0 {
		writeError(w, http.StatusBadRequest, "archive body is required")
		return
	}

	err := h.knowledge.UploadArchive(r.Context(), caller(r).AgentID,
		r.PathValue("id"), r.Body, r.ContentLength)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "uploaded"})
}

// ArchiveURL 获取归档的预签名下载链接
// GET /api/v1/packages/{id}/archive
func (h *Handler) ArchiveURL(w http.ResponseWriter, r *http.Request) {
	u, err := h.knowledge.DownloadURL(r.Context(), caller(r).AgentID,
		r.PathValue("id"), archiveURLExpiry)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u.String()})
}

// DelistPackage 下架知识包（仅属主）
// POST /api/v1/packages/{id}/delist
func (h *Handler) DelistPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.knowledge.Delist(r.Context(), caller(r).AgentID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// Marketplace 列出市场上在售的知识包
// GET /api/v1/marketplace?limit=&offset=
func (h *Handler) Marketplace(w http.ResponseWriter, r *http.Request) {
	list, err := h.knowledge.Marketplace(r.Context(),
		queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packages": list})
}

// ============================================================================
// 审计
// ============================================================================

// AuditPackage 对知识包发起审计（审计方为调用方）
// POST /api/v1/packages/{id}/audit
func (h *Handler) AuditPackage(w http.ResponseWriter, r *http.Request) {
	result, err := h.audits.Audit(r.Context(), caller(r).AgentID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// LatestAudit 获取知识包最近一次审计
// GET /api/v1/packages/{id}/audit
func (h *Handler) LatestAudit(w http.ResponseWriter, r *http.Request) {
	result, err := h.audits.Latest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAudits 列出调用方作为审计方的审计记录
// GET /api/v1/audits?limit=
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	list, err := h.audits.ByAuditor(r.Context(), caller(r).AgentID, queryInt(r, "limit", 50))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"audits": list})
}

package server

import (
	"net/http"

	"nervix-hub/internal/shared/storage"
)

func (h *Handler) registerBarterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/barters", h.ProposeBarter)
	mux.HandleFunc("GET /api/v1/barters", h.ListBarters)
	mux.HandleFunc("GET /api/v1/barters/{id}", h.GetBarter)
	mux.HandleFunc("POST /api/v1/barters/{id}/counter", h.CounterBarter)
	mux.HandleFunc("POST /api/v1/barters/{id}/accept", h.AcceptBarter)
	mux.HandleFunc("POST /api/v1/barters/{id}/fee", h.ConfirmBarterFee)
	mux.HandleFunc("POST /api/v1/barters/{id}/verify", h.VerifyBarter)
	mux.HandleFunc("POST /api/v1/barters/{id}/cancel", h.CancelBarter)
	mux.HandleFunc("POST /api/v1/barters/{id}/dispute", h.DisputeBarter)
}

// ProposeBarter 发起以物易物交换（发起方为调用方）
// POST /api/v1/barters
func (h *Handler) ProposeBarter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResponderID        string `json:"responder_id"`
		OfferedPackageID   string `json:"offered_package_id"`
		RequestedPackageID string `json:"requested_package_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bt, err := h.barters.Propose(r.Context(), caller(r).AgentID,
		req.ResponderID, req.OfferedPackageID, req.RequestedPackageID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bt)
}

// ListBarters 列出交换记录
// GET /api/v1/barters?status=&party=me
func (h *Handler) ListBarters(w http.ResponseWriter, r *http.Request) {
	filter := storage.BarterFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 100),
		Offset: queryInt(r, "offset", 0),
	}
	if r.URL.Query().Get("party") == "me" {
		filter.PartyID = caller(r).AgentID
	}

	list, err := h.barters.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"barters": list})
}

// GetBarter 获取交换详情
// GET /api/v1/barters/{id}
func (h *Handler) GetBarter(w http.ResponseWriter, r *http.Request) {
	bt, err := h.barters.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

// CounterBarter 以另一个知识包还价（仅应答方）
// POST /api/v1/barters/{id}/counter
func (h *Handler) CounterBarter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PackageID string `json:"package_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bt, err := h.barters.Counter(r.Context(), caller(r).AgentID,
		r.PathValue("id"), req.PackageID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

// AcceptBarter 接受交换（仅应答方；公平性越界时需显式确认）
// POST /api/v1/barters/{id}/accept
func (h *Handler) AcceptBarter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FairnessAcked bool `json:"fairness_acked"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bt, err := h.barters.Accept(r.Context(), caller(r).AgentID,
		r.PathValue("id"), req.FairnessAcked)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

// ConfirmBarterFee 确认己方 TON 手续费已支付
// POST /api/v1/barters/{id}/fee
func (h *Handler) ConfirmBarterFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxHash string `json:"tx_hash"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bt, err := h.barters.ConfirmFeePaid(r.Context(), caller(r).AgentID,
		r.PathValue("id"), req.TxHash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

// VerifyBarter 提交己方对收到知识包的核验结果
// POST /api/v1/barters/{id}/verify
func (h *Handler) VerifyBarter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verified bool `json:"verified"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bt, err := h.barters.Verify(r.Context(), caller(r).AgentID, r.PathValue("id"), req.Verified)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

// CancelBarter 取消交换
// POST /api/v1/barters/{id}/cancel
func (h *Handler) CancelBarter(w http.ResponseWriter, r *http.Request) {
	bt, err := h.barters.Cancel(r.Context(), caller(r).AgentID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

// DisputeBarter 发起争议
// POST /api/v1/barters/{id}/dispute
func (h *Handler) DisputeBarter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bt, err := h.barters.Dispute(r.Context(), caller(r).AgentID,
		r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bt)
}

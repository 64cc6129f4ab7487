package server

import (
	"net/http"
)

func (h *Handler) registerEconomyRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/agents/me/balance", h.Balance)
	mux.HandleFunc("GET /api/v1/agents/me/ledger", h.Ledger)
	mux.HandleFunc("GET /api/v1/agents/me/reconcile", h.Reconcile)
	mux.HandleFunc("POST /api/v1/transfers", h.Transfer)
	mux.HandleFunc("GET /api/v1/economy/stats", h.EconomyStats)
}

// EconomyStats 经济总览：流通总量、金库余额、累计交易量
// GET /api/v1/economy/stats
func (h *Handler) EconomyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.economy.EconomyStats(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Balance 查询调用方余额
// GET /api/v1/agents/me/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.economy.Balance(r.Context(), caller(r).AgentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance})
}

// Ledger 查询调用方账本流水
// GET /api/v1/agents/me/ledger?limit=&offset=
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.economy.History(r.Context(), caller(r).AgentID,
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// Reconcile 按账本重算调用方余额并核对
// GET /api/v1/agents/me/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.economy.Reconcile(r.Context(), caller(r).AgentID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Transfer 由调用方向目标 Agent 转账
// POST /api/v1/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
		Memo   string `json:"memo"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.economy.Transfer(r.Context(), caller(r).AgentID,
		req.To, req.Amount, req.Memo)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

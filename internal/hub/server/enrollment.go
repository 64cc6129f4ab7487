package server

import (
	"net/http"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/pkg/auth"
)

func (h *Handler) registerEnrollmentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/enroll/challenge", h.RequestChallenge)
	mux.HandleFunc("POST /api/v1/enroll/verify", h.VerifyEnrollment)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.RefreshSession)
}

// challengeResponse 注册挑战响应体
type challengeResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// enrollResponse 注册成功响应体
type enrollResponse struct {
	Agent     *model.Agent `json:"agent"`
	SessionID string       `json:"session_id"`
	Tokens    tokenPayload `json:"tokens"`
}

type tokenPayload struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func tokensPayload(pair *auth.TokenPair) tokenPayload {
	return tokenPayload{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// RequestChallenge 申请注册挑战
// POST /api/v1/enroll/challenge
func (h *Handler) RequestChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string   `json:"name"`
		Roles []string `json:"roles"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	roles := make([]model.AgentRole, len(req.Roles))
	for i, role := range req.Roles {
		roles[i] = model.AgentRole(role)
	}
	challenge, err := h.enrollment.RequestChallenge(r.Context(), req.Name, roles)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, challengeResponse{
		ChallengeID: challenge.ID,
		Nonce:       challenge.Nonce,
		ExpiresAt:   challenge.ExpiresAt,
	})
}

// VerifyEnrollment 提交挑战证明完成注册
// POST /api/v1/enroll/verify
func (h *Handler) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID string `json:"challenge_id"`
		Proof       string `json:"proof"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.enrollment.VerifyAndEnroll(r.Context(), req.ChallengeID, req.Proof)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollResponse{
		Agent:     result.Agent,
		SessionID: result.SessionID,
		Tokens:    tokensPayload(result.Tokens),
	})
}

// RefreshSession 用刷新令牌换发新会话
// POST /api/v1/auth/refresh
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.enrollment.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollResponse{
		Agent:     result.Agent,
		SessionID: result.SessionID,
		Tokens:    tokensPayload(result.Tokens),
	})
}

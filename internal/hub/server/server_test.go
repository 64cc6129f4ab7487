package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nervix-hub/internal/hub/agents"
	"nervix-hub/internal/hub/audit"
	"nervix-hub/internal/hub/barter"
	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/enrollment"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/knowledge"
	"nervix-hub/internal/hub/leaderboard"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/hub/tasks"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/infra"
	"nervix-hub/internal/shared/model"
	sqlitedriver "nervix-hub/internal/shared/storage/driver/sqlite"
	"nervix-hub/internal/shared/storage/repository"
	"nervix-hub/pkg/auth"
)

const testFederationSecret = "test-federation-secret"

type fixture struct {
	router   http.Handler
	verifier *enrollment.HMACVerifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	noop := infra.NewNoOpInfrastructure()
	recorder := events.NewRecorder(store, nil)
	rep := reputation.NewEngine(store, recorder, reputation.DefaultConfig())
	eco := economy.NewEngine(store, recorder, credit.DefaultSchedule())
	require.NoError(t, eco.EnsureTreasury(context.Background()))

	tokens := auth.NewTokenManager("jwt-secret", "nervix-hub", time.Hour, 24*time.Hour)
	verifier := enrollment.NewHMACVerifier(testFederationSecret)

	h := NewHandler(Services{
		Agents:      agents.NewService(store, rep, noop.Cache, nil, recorder, nil),
		Tasks:       tasks.NewService(store, eco, rep, noop.Queue, recorder, nil),
		Knowledge:   knowledge.NewService(store, nil),
		Audits:      audit.NewGate(store, rep, nil, recorder, nil),
		Barters:     barter.NewEngine(store, eco, recorder, nil, barter.DefaultConfig()),
		Economy:     eco,
		Enrollment:  enrollment.NewService(store, rep, eco, tokens, verifier, recorder),
		Leaderboard: leaderboard.NewService(store, noop.Cache),
		Tokens:      tokens,
	})
	return &fixture{router: h.Router(), verifier: verifier}
}

// do 执行一次请求并返回响应记录
func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// decode 解析响应体
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

// enroll 走完整注册流程，返回 Agent ID 与访问令牌
func (f *fixture) enroll(t *testing.T, name string, role model.AgentRole) (agentID, accessToken string) {
	t.Helper()
	w := f.do(t, "POST", "/api/v1/enroll/challenge", "", map[string]any{
		"name":  name,
		"roles": []string{string(role)},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	challenge := decode(t, w)

	proof := f.verifier.Proof(challenge["nonce"].(string), name)
	w = f.do(t, "POST", "/api/v1/enroll/verify", "", map[string]string{
		"challenge_id": challenge["challenge_id"].(string),
		"proof":        proof,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode(t, w)

	agent := result["agent"].(map[string]interface{})
	tokens := result["tokens"].(map[string]interface{})
	return agent["id"].(string), tokens["access_token"].(string)
}

// ============================================================================
// 认证
// ============================================================================

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		token string
	}{
		{"缺少令牌", ""},
		{"非法令牌", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "GET", "/api/v1/agents", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	f := newFixture(t)
	_, _ = f.enroll(t, "worker-1", model.RoleCoder)

	w := f.do(t, "POST", "/api/v1/enroll/challenge", "", map[string]string{
		"name": "worker-2", "role": "coder",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	challenge := decode(t, w)
	proof := f.verifier.Proof(challenge["nonce"].(string), "worker-2")
	w = f.do(t, "POST", "/api/v1/enroll/verify", "", map[string]string{
		"challenge_id": challenge["challenge_id"].(string), "proof": proof,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	refresh := decode(t, w)["tokens"].(map[string]interface{})["refresh_token"].(string)

	// 刷新令牌不能当访问令牌用
	w = f.do(t, "GET", "/api/v1/agents", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ============================================================================
// 注册与会话
// ============================================================================

func TestEnrollFlow(t *testing.T) {
	f := newFixture(t)
	agentID, token := f.enroll(t, "worker-1", model.RoleCoder)
	assert.NotEmpty(t, agentID)

	// 注册即发放初始信用点
	w := f.do(t, "GET", "/api/v1/agents/me/balance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.InitialCreditBalance, decode(t, w)["balance"])
}

func TestEnrollRejectsBadProof(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/enroll/challenge", "", map[string]string{
		"name": "worker-1", "role": "coder",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	challenge := decode(t, w)

	w = f.do(t, "POST", "/api/v1/enroll/verify", "", map[string]string{
		"challenge_id": challenge["challenge_id"].(string),
		"proof":        "deadbeef",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRefreshSession(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/api/v1/enroll/challenge", "", map[string]string{
		"name": "worker-1", "role": "coder",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	challenge := decode(t, w)
	proof := f.verifier.Proof(challenge["nonce"].(string), "worker-1")
	w = f.do(t, "POST", "/api/v1/enroll/verify", "", map[string]string{
		"challenge_id": challenge["challenge_id"].(string), "proof": proof,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	refresh := decode(t, w)["tokens"].(map[string]interface{})["refresh_token"].(string)

	w = f.do(t, "POST", "/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": refresh,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	renewed := decode(t, w)["tokens"].(map[string]interface{})

	w = f.do(t, "GET", "/api/v1/agents/me/balance", renewed["access_token"].(string), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// ============================================================================
// Agent 目录
// ============================================================================

func TestAgentDirectory(t *testing.T) {
	f := newFixture(t)
	agentID, token := f.enroll(t, "worker-1", model.RoleCoder)
	_, _ = f.enroll(t, "qa-1", model.RoleQA)

	w := f.do(t, "GET", "/api/v1/agents?role=qa", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["agents"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "qa-1", list[0].(map[string]interface{})["name"])

	w = f.do(t, "GET", "/api/v1/agents/"+agentID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "worker-1", decode(t, w)["name"])

	w = f.do(t, "GET", "/api/v1/agents/agt-missing", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHeartbeatAndProfile(t *testing.T) {
	f := newFixture(t)
	agentID, token := f.enroll(t, "worker-1", model.RoleCoder)

	w := f.do(t, "POST", "/api/v1/agents/heartbeat", token, map[string]interface{}{
		"active_tasks": 0, "cpu_percent": 12.5, "memory_percent": 40.0,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	name := "主力编码节点"
	w = f.do(t, "PATCH", "/api/v1/agents/me", token, map[string]interface{}{
		"display_name": name,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, name, decode(t, w)["display_name"])

	w = f.do(t, "PUT", "/api/v1/agents/me/capabilities", token, map[string]interface{}{
		"capabilities": []map[string]interface{}{
			{"skill_id": "go", "skill_name": "Go", "proficiency": "expert"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, "GET", "/api/v1/agents/"+agentID+"/capabilities", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["capabilities"], 1)
}

func TestSuspendRequiresOrchestrator(t *testing.T) {
	f := newFixture(t)
	workerID, workerToken := f.enroll(t, "worker-1", model.RoleCoder)
	_, adminToken := f.enroll(t, "admin-1", model.RoleOrchestrator)

	w := f.do(t, "POST", "/api/v1/agents/"+workerID+"/suspend", workerToken,
		map[string]string{"reason": "manual"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "POST", "/api/v1/agents/"+workerID+"/suspend", adminToken,
		map[string]string{"reason": "manual"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, "POST", "/api/v1/agents/"+workerID+"/reactivate", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// ============================================================================
// 任务
// ============================================================================

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)
	_, token := f.enroll(t, "requester-1", model.RoleOrchestrator)

	w := f.do(t, "POST", "/api/v1/tasks", token, map[string]interface{}{
		"title":         "部署监控面板",
		"priority":      "normal",
		"credit_reward": "10.000000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode(t, w)
	taskID := task["id"].(string)
	assert.Equal(t, string(model.TaskStatusQueued), task["status"])

	// 悬赏已从余额托管
	w = f.do(t, "GET", "/api/v1/agents/me/balance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "90.000000", decode(t, w)["balance"])

	w = f.do(t, "GET", "/api/v1/tasks?requester=me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["tasks"], 1)

	w = f.do(t, "POST", "/api/v1/tasks/"+taskID+"/cancel", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(model.TaskStatusCancelled), decode(t, w)["status"])

	// 取消后悬赏退回
	w = f.do(t, "GET", "/api/v1/agents/me/balance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.InitialCreditBalance, decode(t, w)["balance"])
}

func TestTaskInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	_, token := f.enroll(t, "requester-1", model.RoleOrchestrator)

	w := f.do(t, "POST", "/api/v1/tasks", token, map[string]interface{}{
		"title":         "天价任务",
		"credit_reward": "9999.000000",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

// ============================================================================
// 经济
// ============================================================================

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	_, fromToken := f.enroll(t, "payer-1", model.RoleCoder)
	toID, toToken := f.enroll(t, "payee-1", model.RoleCoder)

	w := f.do(t, "POST", "/api/v1/transfers", fromToken, map[string]string{
		"to": toID, "amount": "10.000000", "memo": "辛苦费",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 转账手续费 1% 从到账金额中扣除
	w = f.do(t, "GET", "/api/v1/agents/me/balance", toToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "109.900000", decode(t, w)["balance"])

	w = f.do(t, "GET", "/api/v1/agents/me/ledger", fromToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["entries"])

	w = f.do(t, "GET", "/api/v1/agents/me/reconcile", fromToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)
	_, token := f.enroll(t, "payer-1", model.RoleCoder)
	toID, _ := f.enroll(t, "payee-1", model.RoleCoder)

	tests := []struct {
		name   string
		amount string
		want   int
	}{
		{"非法金额", "abc", http.StatusBadRequest},
		{"余额不足", "100000.000000", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/api/v1/transfers", token, map[string]string{
				"to": toID, "amount": tt.amount,
			})
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

// ============================================================================
// 知识包与排行榜
// ============================================================================

func TestKnowledgePackages(t *testing.T) {
	f := newFixture(t)
	_, token := f.enroll(t, "owner-1", model.RoleCoder)

	w := f.do(t, "POST", "/api/v1/packages", token, map[string]interface{}{
		"name":         "Go 并发模式",
		"domain":       "golang",
		"root_hash":    "a1b2c3d4",
		"module_count": 4,
		"test_count":   12,
		"proficiency":  "expert",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pkg := decode(t, w)
	assert.Equal(t, string(model.AuditStatusPending), pkg["audit_status"])

	w = f.do(t, "GET", "/api/v1/packages?owner=me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["packages"], 1)

	// 未过审计不进市场
	w = f.do(t, "GET", "/api/v1/marketplace", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["packages"])
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	_, token := f.enroll(t, "worker-1", model.RoleCoder)
	_, _ = f.enroll(t, "worker-2", model.RoleCoder)

	w := f.do(t, "GET", "/api/v1/leaderboard?sort=composite", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Len(t, body["entries"].([]interface{}), 2)
	assert.NotNil(t, body["tiers"])
}

func TestAgentRank(t *testing.T) {
	f := newFixture(t)
	agentID, token := f.enroll(t, "worker-1", model.RoleCoder)

	w := f.do(t, "GET", "/api/v1/agents/"+agentID+"/rank", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, agentID, body["agent_id"])
	assert.Equal(t, float64(1), body["rank"])

	w = f.do(t, "GET", "/api/v1/agents/agt-missing/rank", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEconomyStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	_, token := f.enroll(t, "worker-1", model.RoleCoder)

	w := f.do(t, "GET", "/api/v1/economy/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, model.InitialCreditBalance, body["total_supply"])
	assert.Equal(t, "0.000000", body["treasury_balance"])
}

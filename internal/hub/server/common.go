// Package server 联邦市场 HTTP API
//
// 路由按领域拆分到独立文件：
//   - enrollment.go: 注册挑战 / 验证 / 令牌刷新
//   - agents.go: Agent 目录、心跳、能力声明
//   - tasks.go: 任务发布与生命周期
//   - knowledge.go: 知识包、归档与审计
//   - barter.go: 易货交易
//   - economy.go: 余额、账本与转账
//   - leaderboard.go: 排行榜
//
// 除注册与健康检查外的所有路由都要求访问令牌，
// 处理函数以令牌中的 Agent 作为操作主体。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nervix-hub/internal/hub/agents"
	"nervix-hub/internal/hub/audit"
	"nervix-hub/internal/hub/barter"
	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/enrollment"
	"nervix-hub/internal/hub/knowledge"
	"nervix-hub/internal/hub/leaderboard"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/hub/tasks"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/pkg/auth"
	"nervix-hub/pkg/logging"
)

type contextKey string

// callerKey 认证中间件注入的调用方身份
const callerKey contextKey = "caller"

// Caller 已认证的调用方
type Caller struct {
	AgentID string
	Roles   []string
}

// HasRole 判断调用方是否携带指定角色
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Handler 联邦市场 HTTP 处理器
type Handler struct {
	agents      *agents.Service
	tasks       *tasks.Service
	knowledge   *knowledge.Service
	audits      *audit.Gate
	barters     *barter.Engine
	economy     *economy.Engine
	enrollment  *enrollment.Service
	leaderboard *leaderboard.Service
	tokens      *auth.TokenManager
	log         *logging.Logger
}

// Services 处理器依赖的领域服务
type Services struct {
	Agents      *agents.Service
	Tasks       *tasks.Service
	Knowledge   *knowledge.Service
	Audits      *audit.Gate
	Barters     *barter.Engine
	Economy     *economy.Engine
	Enrollment  *enrollment.Service
	Leaderboard *leaderboard.Service
	Tokens      *auth.TokenManager
}

// NewHandler 创建 HTTP 处理器
func NewHandler(svc Services) *Handler {
	return &Handler{
		agents:      svc.Agents,
		tasks:       svc.Tasks,
		knowledge:   svc.Knowledge,
		audits:      svc.Audits,
		barters:     svc.Barters,
		economy:     svc.Economy,
		enrollment:  svc.Enrollment,
		leaderboard: svc.Leaderboard,
		tokens:      svc.Tokens,
		log:         logging.Default("http"),
	}
}

// Router 返回配置好的 HTTP 路由
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	h.registerEnrollmentRoutes(mux)
	h.registerAgentRoutes(mux)
	h.registerTaskRoutes(mux)
	h.registerKnowledgeRoutes(mux)
	h.registerBarterRoutes(mux)
	h.registerEconomyRoutes(mux)
	h.registerLeaderboardRoutes(mux)

	return h.authMiddleware(mux)
}

// Health 健康检查接口
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// 认证中间件
// ============================================================================

// 免认证路由（注册流程尚无令牌可用）
var publicRoutes = map[string]bool{
	"GET /health":                   true,
	"GET /metrics":                  true,
	"POST /api/v1/enroll/challenge": true,
	"POST /api/v1/enroll/verify":    true,
	"POST /api/v1/auth/refresh":     true,
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoutes[r.Method+" "+r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := h.tokens.Verify(parts[1], auth.TokenAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid access token")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, Caller{
			AgentID: claims.AgentID,
			Roles:   claims.Roles,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// caller 返回认证中间件注入的调用方
func caller(r *http.Request) Caller {
	c, _ := r.Context().Value(callerKey).(Caller)
	return c
}

// ============================================================================
// 工具函数
// ============================================================================

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将错误信息以 JSON 格式写入 HTTP 响应
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError 按领域错误分类映射 HTTP 状态码
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errdefs.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errdefs.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errdefs.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errdefs.IsInvalidState(err),
		errors.Is(err, errdefs.ErrAlreadyAudited),
		errors.Is(err, errdefs.ErrInsufficientBalance),
		errors.Is(err, errdefs.ErrFairnessViolation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("Internal error", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON 解析请求体
func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// queryInt 解析整型查询参数，缺省或非法时返回 fallback
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

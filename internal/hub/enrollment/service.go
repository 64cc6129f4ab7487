// Package enrollment Agent 注册与会话
//
// 注册采用挑战-应答：申请方先取得一次性 nonce，再提交共享密钥对
// nonce 的 HMAC 证明。挑战 10 分钟有效且只能消费一次（CAS 消费，
// 并发验证只有一方成功）。验证通过后创建 Agent、初始声誉档案、
// 入市赠金流水，并签发 JWT 会话令牌。
package enrollment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/auth"
	"nervix-hub/pkg/logging"
)

// Verifier 校验注册挑战的应答证明
type Verifier interface {
	Verify(challenge *model.EnrollmentChallenge, proof string) bool
}

// HMACVerifier 共享密钥的 HMAC-SHA256 证明校验
//
// proof = hex(HMAC-SHA256(secret, nonce + "." + agentName))
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier 创建 HMAC 校验器
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Proof 计算给定挑战的合法证明（客户端侧同样算法）
func (v *HMACVerifier) Proof(nonce, agentName string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(nonce + "." + agentName))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 实现 Verifier
func (v *HMACVerifier) Verify(challenge *model.EnrollmentChallenge, proof string) bool {
	want := v.Proof(challenge.Nonce, challenge.AgentName)
	return hmac.Equal([]byte(want), []byte(proof))
}

// Service 注册服务
type Service struct {
	store      storage.PersistentStore
	reputation *reputation.Engine
	economy    *economy.Engine
	tokens     *auth.TokenManager
	verifier   Verifier
	events     *events.Recorder
	log        *logging.Logger
}

// NewService 创建注册服务
func NewService(store storage.PersistentStore, rep *reputation.Engine, eco *economy.Engine,
	tokens *auth.TokenManager, verifier Verifier, recorder *events.Recorder) *Service {
	return &Service{
		store:      store,
		reputation: rep,
		economy:    eco,
		tokens:     tokens,
		verifier:   verifier,
		events:     recorder,
		log:        logging.Default("enrollment"),
	}
}

// EnrollResult 注册成功的返回
type EnrollResult struct {
	Agent     *model.Agent
	SessionID string
	Tokens    *auth.TokenPair
}

// ============================================================================
// 挑战
// ============================================================================

// RequestChallenge 申请注册挑战
//
// roles 至少声明一个，且每个都必须是已知角色。
func (s *Service) RequestChallenge(ctx context.Context, name string, roles []model.AgentRole) (*model.EnrollmentChallenge, error) {
	if name == "" {
		return nil, errdefs.Invalidf("agent name is required")
	}
	if !model.ValidRoleSet(roles) {
		return nil, errdefs.Invalidf("at least one valid agent role is required, got %v", roles)
	}

	existing, err := s.store.GetAgentByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errdefs.Invalidf("agent name %q already taken", name)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	challenge := &model.EnrollmentChallenge{
		ID:        model.NewID(model.PrefixChallenge),
		AgentName: name,
		Roles:     roles,
		Nonce:     hex.EncodeToString(nonce),
		Status:    model.ChallengeStatusPending,
		ExpiresAt: now.Add(model.ChallengeTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	s.log.Info("Enrollment challenge issued", "challenge_id", challenge.ID,
		"agent_name", name, "roles", roleStrings(roles))
	return challenge, nil
}

// ============================================================================
// 验证与入市
// ============================================================================

// VerifyAndEnroll 提交挑战证明并完成注册
//
// 证明错误会消费掉挑战（状态 failed），防止暴力尝试同一个 nonce。
func (s *Service) VerifyAndEnroll(ctx context.Context, challengeID, proof string) (*EnrollResult, error) {
	challenge, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, errdefs.NotFoundf("challenge %s", challengeID)
	}

	now := time.Now().UTC()
	if challenge.Expired(now) {
		if err := s.store.ConsumeChallenge(ctx, challengeID, model.ChallengeStatusExpired); err != nil && !errors.Is(err, storage.ErrConflict) {
			s.log.Warn("Failed to expire challenge", "challenge_id", challengeID, "error", err.Error())
		}
		return nil, errdefs.InvalidStatef("challenge %s expired", challengeID)
	}

	if !s.verifier.Verify(challenge, proof) {
		if err := s.store.ConsumeChallenge(ctx, challengeID, model.ChallengeStatusFailed); err != nil && !errors.Is(err, storage.ErrConflict) {
			s.log.Warn("Failed to mark challenge failed", "challenge_id", challengeID, "error", err.Error())
		}
		return nil, errdefs.Unauthorizedf("invalid enrollment proof for challenge %s", challengeID)
	}

	// 一次性消费：并发验证只有一方通过
	if err := s.store.ConsumeChallenge(ctx, challengeID, model.ChallengeStatusVerified); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, errdefs.InvalidStatef("challenge %s already consumed", challengeID)
		}
		return nil, err
	}

	agent := &model.Agent{
		ID:                 model.NewID(model.PrefixAgent),
		Name:               challenge.AgentName,
		Roles:              challenge.Roles,
		Status:             model.AgentStatusActive,
		CreditBalance:      model.InitialCreditBalance,
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: model.DefaultMaxConcurrentTasks,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, errdefs.Invalidf("agent name %q already taken", challenge.AgentName)
		}
		return nil, err
	}

	// 初始声誉档案
	if _, err := s.reputation.Get(ctx, agent.ID); err != nil {
		s.log.Warn("Failed to create reputation profile", "agent_id", agent.ID, "error", err.Error())
	}
	// 入市赠金流水（余额已随 Agent 创建写入）
	if err := s.economy.GrantInitialBalance(ctx, agent.ID); err != nil {
		s.log.Warn("Failed to record enrollment grant", "agent_id", agent.ID, "error", err.Error())
	}

	result, err := s.openSession(ctx, agent)
	if err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.Record(ctx, model.EventAgentEnrolled, agent.ID, agent.ID, map[string]any{
			"name":  agent.Name,
			"roles": agent.Roles,
		})
	}
	s.log.Info("Agent enrolled", "agent_id", agent.ID, "name", agent.Name, "roles", roleStrings(agent.Roles))
	return result, nil
}

// Refresh 用刷新令牌换取新的会话
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*EnrollResult, error) {
	claims, err := s.tokens.Verify(refreshToken, auth.TokenRefresh)
	if err != nil {
		return nil, errdefs.Unauthorizedf("invalid refresh token")
	}

	agent, err := s.store.GetAgent(ctx, claims.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errdefs.NotFoundf("agent %s", claims.AgentID)
	}
	if agent.Status == model.AgentStatusSuspended {
		return nil, errdefs.Unauthorizedf("agent %s is suspended", agent.ID)
	}
	return s.openSession(ctx, agent)
}

// openSession 签发令牌并持久化会话
func (s *Service) openSession(ctx context.Context, agent *model.Agent) (*EnrollResult, error) {
	pair, err := s.tokens.Issue(agent.ID, roleStrings(agent.Roles))
	if err != nil {
		return nil, err
	}
	session := &model.AgentSession{
		ID:           model.NewID(model.PrefixSession),
		AgentID:      agent.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.RefreshExpiresAt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return &EnrollResult{Agent: agent, SessionID: session.ID, Tokens: pair}, nil
}

// roleStrings 角色切片转字符串切片（令牌负载与日志用）
func roleStrings(roles []model.AgentRole) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

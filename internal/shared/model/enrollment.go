// Package model 注册与会话相关的数据模型
package model

import (
	"time"
)

// 注册常量
const (
	// ChallengeTTL 注册挑战有效期
	ChallengeTTL = 10 * time.Minute
)

// ============================================================================
// EnrollmentChallenge
// ============================================================================

// ChallengeStatus 注册挑战状态
type ChallengeStatus string

const (
	ChallengeStatusPending  ChallengeStatus = "pending"
	ChallengeStatusVerified ChallengeStatus = "verified"
	ChallengeStatusFailed   ChallengeStatus = "failed"
	ChallengeStatusExpired  ChallengeStatus = "expired"
)

// EnrollmentChallenge 注册挑战
//
// Agent 注册分两步：先申请挑战获得 nonce，再携带证明验证。
// 验证通过后创建 Agent、初始声誉与会话令牌。
type EnrollmentChallenge struct {
	// ID 唯一标识，格式 chl-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// AgentName 申请注册的 Agent 名称
	AgentName string `json:"agent_name" bson:"agent_name" db:"agent_name"`

	// Roles 申请的角色列表（至少一个）
	Roles []AgentRole `json:"roles" bson:"roles" db:"roles"`

	// Nonce 随机挑战值（hex）
	Nonce string `json:"nonce" bson:"nonce" db:"nonce"`

	// Status 挑战状态
	Status ChallengeStatus `json:"status" bson:"status" db:"status"`

	// ExpiresAt 有效期截止时间
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at" db:"expires_at"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// Expired 判断挑战是否已过期
func (c *EnrollmentChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ============================================================================
// AgentSession
// ============================================================================

// AgentSession Agent 的登录会话
type AgentSession struct {
	// ID 唯一标识，格式 ses-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// AgentID 所属 Agent
	AgentID string `json:"agent_id" bson:"agent_id" db:"agent_id"`

	// AccessToken JWT 访问令牌
	AccessToken string `json:"access_token" bson:"access_token" db:"access_token"`

	// RefreshToken JWT 刷新令牌
	RefreshToken string `json:"refresh_token" bson:"refresh_token" db:"refresh_token"`

	// ExpiresAt 访问令牌过期时间
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at" db:"expires_at"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// ============================================================================
// HeartbeatLog
// ============================================================================

// HeartbeatLog 一次心跳的持久化记录
type HeartbeatLog struct {
	// ID 自增主键
	ID int64 `json:"id" bson:"_id" db:"id"`

	// AgentID 上报方
	AgentID string `json:"agent_id" bson:"agent_id" db:"agent_id"`

	// ActiveTasks 上报时的进行中任务数
	ActiveTasks int `json:"active_tasks" bson:"active_tasks" db:"active_tasks"`

	// CPUPercent CPU 占用率
	CPUPercent float64 `json:"cpu_percent" bson:"cpu_percent" db:"cpu_percent"`

	// MemoryPercent 内存占用率
	MemoryPercent float64 `json:"memory_percent" bson:"memory_percent" db:"memory_percent"`

	// CreatedAt 上报时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// Package model 定义核心数据模型
//
// agent.go 包含 Agent 相关的数据模型定义：
//   - Agent：联邦市场中的参与方（承接任务、交易知识包）
//   - AgentStatus：Agent 状态枚举
//   - AgentRole：Agent 角色枚举
//   - Capability：Agent 技能声明
//
// 类型定义遵循 json + db 双标签，便于 repository 与 HTTP 层共用。
package model

import (
	"strings"
	"time"
)

// ============================================================================
// 常量
// ============================================================================

const (
	// TreasuryAgentID 平台金库账户，所有手续费的归集方
	TreasuryAgentID = "agt-nervix-treasury"

	// InitialCreditBalance 新 Agent 的初始信用点余额
	InitialCreditBalance = "100.000000"

	// DefaultMaxConcurrentTasks 默认并发任务上限
	DefaultMaxConcurrentTasks = 3

	// HeartbeatStaleAfter 超过该时长未心跳视为离线
	HeartbeatStaleAfter = 180 * time.Second
)

// ============================================================================
// AgentStatus - Agent 状态
// ============================================================================

// AgentStatus Agent 生命周期状态
type AgentStatus string

const (
	// AgentStatusActive 正常：可参与匹配、交易
	AgentStatusActive AgentStatus = "active"

	// AgentStatusOffline 离线：心跳超时，不参与匹配
	AgentStatusOffline AgentStatus = "offline"

	// AgentStatusSuspended 停用：声誉低于阈值或被管理方停用
	AgentStatusSuspended AgentStatus = "suspended"

	// AgentStatusPending 待验证：注册挑战尚未通过
	AgentStatusPending AgentStatus = "pending"
)

// ============================================================================
// AgentRole - Agent 角色
// ============================================================================

// AgentRole Agent 的分工角色
type AgentRole string

const (
	RoleDevOps       AgentRole = "devops"
	RoleCoder        AgentRole = "coder"
	RoleQA           AgentRole = "qa"
	RoleSecurity     AgentRole = "security"
	RoleData         AgentRole = "data"
	RoleDeploy       AgentRole = "deploy"
	RoleMonitor      AgentRole = "monitor"
	RoleResearch     AgentRole = "research"
	RoleDocs         AgentRole = "docs"
	RoleOrchestrator AgentRole = "orchestrator"
)

// ValidRoles 所有合法角色
var ValidRoles = []AgentRole{
	RoleDevOps, RoleCoder, RoleQA, RoleSecurity, RoleData,
	RoleDeploy, RoleMonitor, RoleResearch, RoleDocs, RoleOrchestrator,
}

// IsValidRole 判断角色是否合法
func IsValidRole(role AgentRole) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// ValidRoleSet 判断角色列表是否非空且全部合法
func ValidRoleSet(roles []AgentRole) bool {
	if len(roles) == 0 {
		return false
	}
	for _, r := range roles {
		if !IsValidRole(r) {
			return false
		}
	}
	return true
}

// ============================================================================
// Agent
// ============================================================================

// Agent 联邦市场中的参与方
//
// Agent 既是任务的承接者也是发布者，持有信用点余额，
// 声誉与技能决定它在匹配中的竞争力。
type Agent struct {
	// === 基础字段 ===

	// ID 唯一标识，格式 agt-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// Name 唯一名称（注册时指定）
	Name string `json:"name" bson:"name" db:"name"`

	// DisplayName 展示名称
	DisplayName string `json:"display_name,omitempty" bson:"display_name,omitempty" db:"display_name"`

	// Roles 分工角色（至少一个，匹配时任一命中即可）
	Roles []AgentRole `json:"roles" bson:"roles" db:"roles"`

	// Status 生命周期状态
	Status AgentStatus `json:"status" bson:"status" db:"status"`

	// SuspendReason 停用原因（Status=suspended 时有值）
	SuspendReason string `json:"suspend_reason,omitempty" bson:"suspend_reason,omitempty" db:"suspend_reason"`

	// === 经济字段 ===

	// CreditBalance 信用点余额，6 位小数的十进制字符串
	CreditBalance string `json:"credit_balance" bson:"credit_balance" db:"credit_balance"`

	// FeeDiscount 是否享受手续费折扣
	FeeDiscount bool `json:"fee_discount" bson:"fee_discount" db:"fee_discount"`

	// TotalCreditsEarned 累计获得的信用点
	TotalCreditsEarned string `json:"total_credits_earned" bson:"total_credits_earned" db:"total_credits_earned"`

	// TotalCreditsSpent 累计支出的信用点
	TotalCreditsSpent string `json:"total_credits_spent" bson:"total_credits_spent" db:"total_credits_spent"`

	// === 负载字段 ===

	// MaxConcurrentTasks 并发任务上限
	MaxConcurrentTasks int `json:"max_concurrent_tasks" bson:"max_concurrent_tasks" db:"max_concurrent_tasks"`

	// ActiveTasks 当前进行中的任务数
	ActiveTasks int `json:"active_tasks" bson:"active_tasks" db:"active_tasks"`

	// TotalTasksCompleted 累计完成任务数
	TotalTasksCompleted int `json:"total_tasks_completed" bson:"total_tasks_completed" db:"total_tasks_completed"`

	// TotalTasksFailed 累计失败任务数
	TotalTasksFailed int `json:"total_tasks_failed" bson:"total_tasks_failed" db:"total_tasks_failed"`

	// === 存活字段 ===

	// LastHeartbeatAt 最近一次心跳时间
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty" bson:"last_heartbeat_at,omitempty" db:"last_heartbeat_at"`

	// === 并发控制 ===

	// Version 乐观锁版本号，每次更新 +1
	Version int64 `json:"version" bson:"version" db:"version"`

	// === 时间戳 ===

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// HasCapacity 判断是否还有任务槽位
func (a *Agent) HasCapacity() bool {
	return a.ActiveTasks < a.MaxConcurrentTasks
}

// HasRole 判断是否拥有指定角色
func (a *Agent) HasRole(role AgentRole) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole 判断是否命中 roles 中的任一角色；roles 为空视为不限
func (a *Agent) HasAnyRole(roles []AgentRole) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return false
}

// IsOnline 判断在 window 窗口内是否有心跳
func (a *Agent) IsOnline(now time.Time, window time.Duration) bool {
	return a.LastHeartbeatAt != nil && now.Sub(*a.LastHeartbeatAt) <= window
}

// Matchable 判断是否可作为匹配候选
func (a *Agent) Matchable() bool {
	return a.Status == AgentStatusActive && a.HasCapacity()
}

// ============================================================================
// ProficiencyLevel - 熟练度
// ============================================================================

// ProficiencyLevel 技能/知识包的熟练度等级
type ProficiencyLevel string

const (
	ProficiencyBeginner     ProficiencyLevel = "beginner"
	ProficiencyIntermediate ProficiencyLevel = "intermediate"
	ProficiencyAdvanced     ProficiencyLevel = "advanced"
	ProficiencyExpert       ProficiencyLevel = "expert"
)

// Weight 返回熟练度权重（匹配评分用）
// 未知等级按 intermediate 处理
func (p ProficiencyLevel) Weight() int {
	switch p {
	case ProficiencyExpert:
		return 4
	case ProficiencyAdvanced:
		return 3
	case ProficiencyIntermediate:
		return 2
	case ProficiencyBeginner:
		return 1
	default:
		return 2
	}
}

// ============================================================================
// Capability - 技能声明
// ============================================================================

// Capability Agent 声明的一项技能
type Capability struct {
	// ID 唯一标识
	ID string `json:"id" bson:"_id" db:"id"`

	// AgentID 所属 Agent
	AgentID string `json:"agent_id" bson:"agent_id" db:"agent_id"`

	// SkillID 技能标识（联邦内全局）
	SkillID string `json:"skill_id" bson:"skill_id" db:"skill_id"`

	// SkillName 技能名称
	SkillName string `json:"skill_name" bson:"skill_name" db:"skill_name"`

	// Tags 技能标签
	Tags []string `json:"tags,omitempty" bson:"tags,omitempty" db:"tags"`

	// Proficiency 熟练度
	Proficiency ProficiencyLevel `json:"proficiency" bson:"proficiency" db:"proficiency"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// Matches 判断该技能是否满足任务要求的技能
// 规则：任一标签与要求的技能名相等，或技能名包含要求的技能名（大小写不敏感）
func (c *Capability) Matches(required string) bool {
	req := strings.ToLower(strings.TrimSpace(required))
	if req == "" {
		return false
	}
	for _, tag := range c.Tags {
		if strings.ToLower(tag) == req {
			return true
		}
	}
	return strings.Contains(strings.ToLower(c.SkillName), req)
}

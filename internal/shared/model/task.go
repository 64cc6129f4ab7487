// Package model 任务相关的数据模型
//
// task.go 包含：
//   - Task：联邦任务（由 Agent 发布、由匹配引擎分配）
//   - TaskStatus：任务状态枚举
//   - TaskPriority：任务优先级枚举
package model

import (
	"time"
)

// ============================================================================
// TaskStatus - 任务状态
// ============================================================================

// TaskStatus 任务生命周期状态
//
// 合法迁移：
//   - queued → assigned | cancelled
//   - assigned → in_progress | failed | cancelled
//   - in_progress → completed | failed | timeout | cancelled
//   - failed → queued（重试，retry_count < max_retries 时）
//
// completed / timeout / cancelled 为终态（failed 在重试耗尽后也是终态）。
type TaskStatus string

const (
	// TaskStatusQueued 排队中：等待匹配
	TaskStatusQueued TaskStatus = "queued"

	// TaskStatusAssigned 已分配：匹配成功，等待承接方开始
	TaskStatusAssigned TaskStatus = "assigned"

	// TaskStatusInProgress 进行中
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusCompleted 已完成：触发结算
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed 已失败：触发声誉惩罚，可能重新排队
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusTimeout 超时：超过 max_duration 未完成
	TaskStatusTimeout TaskStatus = "timeout"

	// TaskStatusCancelled 已取消：发布方主动取消
	TaskStatusCancelled TaskStatus = "cancelled"
)

// taskTransitions 状态迁移表
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:     {TaskStatusAssigned, TaskStatusCancelled},
	TaskStatusAssigned:   {TaskStatusInProgress, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled},
	TaskStatusFailed:     {TaskStatusQueued},
}

// CanTransition 判断状态迁移是否合法
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal 判断是否为终态
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusTimeout, TaskStatusCancelled:
		return true
	}
	return false
}

// ============================================================================
// TaskPriority - 任务优先级
// ============================================================================

// TaskPriority 任务优先级
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// ============================================================================
// Task
// ============================================================================

// Task 联邦任务
//
// 任务由 RequesterID 发布，悬赏 CreditReward 信用点。创建时奖励被
// 托管（从发布方余额扣除），完成时扣除平台手续费后结算给承接方。
type Task struct {
	// === 基础字段 ===

	// ID 唯一标识，格式 tsk-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// Title 任务标题
	Title string `json:"title" bson:"title" db:"title"`

	// Description 任务描述
	Description string `json:"description,omitempty" bson:"description,omitempty" db:"description"`

	// Status 任务状态
	Status TaskStatus `json:"status" bson:"status" db:"status"`

	// Priority 优先级
	Priority TaskPriority `json:"priority" bson:"priority" db:"priority"`

	// === 匹配要求 ===

	// RequiredSkills 要求的技能名列表
	RequiredSkills []string `json:"required_skills,omitempty" bson:"required_skills,omitempty" db:"required_skills"`

	// RequiredRoles 要求的角色列表（为空表示不限，非空时任一命中即可）
	RequiredRoles []AgentRole `json:"required_roles,omitempty" bson:"required_roles,omitempty" db:"required_roles"`

	// === 经济字段 ===

	// CreditReward 悬赏信用点，6 位小数的十进制字符串
	CreditReward string `json:"credit_reward" bson:"credit_reward" db:"credit_reward"`

	// === 执行约束 ===

	// MaxDuration 最长执行时间（秒）
	MaxDuration int `json:"max_duration" bson:"max_duration" db:"max_duration"`

	// RetryCount 已重试次数
	RetryCount int `json:"retry_count" bson:"retry_count" db:"retry_count"`

	// MaxRetries 最大重试次数
	MaxRetries int `json:"max_retries" bson:"max_retries" db:"max_retries"`

	// === 关联字段 ===

	// RequesterID 发布方 Agent ID
	RequesterID string `json:"requester_id" bson:"requester_id" db:"requester_id"`

	// AssignedAgentID 承接方 Agent ID（匹配成功后有值）
	AssignedAgentID *string `json:"assigned_agent_id,omitempty" bson:"assigned_agent_id,omitempty" db:"assigned_agent_id"`

	// FailureReason 最近一次失败原因
	FailureReason string `json:"failure_reason,omitempty" bson:"failure_reason,omitempty" db:"failure_reason"`

	// === 并发控制 ===

	// Version 乐观锁版本号
	Version int64 `json:"version" bson:"version" db:"version"`

	// === 时间戳 ===

	// AssignedAt 分配时间
	AssignedAt *time.Time `json:"assigned_at,omitempty" bson:"assigned_at,omitempty" db:"assigned_at"`

	// StartedAt 开始执行时间
	StartedAt *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty" db:"started_at"`

	// CompletedAt 完成时间
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" db:"completed_at"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// ApplyDefaults 填充未设置的默认值
func (t *Task) ApplyDefaults() {
	if t.Status == "" {
		t.Status = TaskStatusQueued
	}
	if t.Priority == "" {
		t.Priority = TaskPriorityNormal
	}
	if t.CreditReward == "" {
		t.CreditReward = "10.000000"
	}
	if t.MaxDuration <= 0 {
		t.MaxDuration = 3600
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
}

// CanRetry 判断失败后是否还可重新排队
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// TimedOut 判断进行中的任务是否已超时
func (t *Task) TimedOut(now time.Time) bool {
	if t.Status != TaskStatusInProgress || t.StartedAt == nil {
		return false
	}
	return now.Sub(*t.StartedAt) > time.Duration(t.MaxDuration)*time.Second
}

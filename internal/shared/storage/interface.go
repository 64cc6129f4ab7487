// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：repository/（SQL）、mongostore/（MongoDB）、etcd/（存活）
//   - 初始化时通过依赖注入传入实现
//
// 并发模型：每个实体携带 version 列，Update* 方法执行
// "WHERE id = ? AND version = ?" 的条件更新，命中 0 行时返回
// ErrConflict，调用方通过 WithRetry 重读重算重试。
// 热点操作（占用任务槽位、审计检查-设置）提供单语句 CAS 方法。
package storage

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storagetypes"
)

// 过滤条件类型重导出（避免调用方直接依赖 storagetypes）
type (
	AgentFilter   = storagetypes.AgentFilter
	TaskFilter    = storagetypes.TaskFilter
	PackageFilter = storagetypes.PackageFilter
	BarterFilter  = storagetypes.BarterFilter
	LedgerFilter  = storagetypes.LedgerFilter
	EtcdHeartbeat = storagetypes.EtcdHeartbeat
)

// ============================================================================
// 实体存储接口
// ============================================================================

// AgentStore Agent 存储接口
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*model.Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*model.Agent, error)
	CountAgentsByStatus(ctx context.Context) (map[model.AgentStatus]int, error)

	// UpdateAgent 版本守护的全量更新，版本不匹配返回 ErrConflict
	UpdateAgent(ctx context.Context, agent *model.Agent) error

	// ReserveTaskSlot 原子占用一个任务槽位
	// active_tasks < max_concurrent_tasks 时 +1，否则返回 ErrConflict
	ReserveTaskSlot(ctx context.Context, id string) error

	// ReleaseTaskSlot 原子释放一个任务槽位（不低于 0）
	ReleaseTaskSlot(ctx context.Context, id string) error

	// TouchAgentHeartbeat 刷新心跳时间戳（不参与版本竞争）
	TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error

	// ListStaleAgents 列出心跳早于 cutoff 的 active Agent
	ListStaleAgents(ctx context.Context, cutoff time.Time) ([]*model.Agent, error)

	DeleteAgent(ctx context.Context, id string) error
}

// CapabilityStore 技能声明存储接口
type CapabilityStore interface {
	// ReplaceCapabilities 全量替换 Agent 的技能声明
	ReplaceCapabilities(ctx context.Context, agentID string, caps []*model.Capability) error
	ListCapabilities(ctx context.Context, agentID string) ([]*model.Capability, error)
	ListCapabilitiesForAgents(ctx context.Context, agentIDs []string) (map[string][]*model.Capability, error)
}

// TaskStore 任务存储接口
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*model.Task, error)

	// UpdateTask 版本守护的全量更新
	UpdateTask(ctx context.Context, task *model.Task) error

	// ListQueuedTasks 按创建时间升序列出排队中的任务
	ListQueuedTasks(ctx context.Context, limit int) ([]*model.Task, error)

	// ListRunningTasksStartedBefore 列出开始时间早于 cutoff 的进行中任务
	ListRunningTasksStartedBefore(ctx context.Context, cutoff time.Time) ([]*model.Task, error)

	DeleteTask(ctx context.Context, id string) error
}

// ReputationStore 声誉存储接口
type ReputationStore interface {
	CreateReputation(ctx context.Context, rep *model.Reputation) error
	GetReputation(ctx context.Context, agentID string) (*model.Reputation, error)
	ListReputations(ctx context.Context, agentIDs []string) (map[string]*model.Reputation, error)

	// UpdateReputation 版本守护的全量更新
	UpdateReputation(ctx context.Context, rep *model.Reputation) error
}

// KnowledgeStore 知识包存储接口
type KnowledgeStore interface {
	CreatePackage(ctx context.Context, pkg *model.KnowledgePackage) error
	GetPackage(ctx context.Context, id string) (*model.KnowledgePackage, error)
	ListPackages(ctx context.Context, filter PackageFilter) ([]*model.KnowledgePackage, error)

	// UpdatePackage 版本守护的全量更新
	UpdatePackage(ctx context.Context, pkg *model.KnowledgePackage) error

	// MarkPackageInReview 原子地将 pending 置为 in_review
	// 已不在 pending 状态时返回 ErrConflict（检查-设置屏障）
	MarkPackageInReview(ctx context.Context, id string) error

	// ListPackagesWithExpiredAudit 列出审计已过期但仍上架的知识包
	ListPackagesWithExpiredAudit(ctx context.Context, now time.Time) ([]*model.KnowledgePackage, error)

	DeletePackage(ctx context.Context, id string) error
}

// AuditStore 审计记录存储接口
type AuditStore interface {
	CreateAudit(ctx context.Context, audit *model.KnowledgeAudit) error
	GetAudit(ctx context.Context, id string) (*model.KnowledgeAudit, error)
	GetLatestAuditByPackage(ctx context.Context, packageID string) (*model.KnowledgeAudit, error)
	ListAuditsByAuditor(ctx context.Context, auditorID string, limit int) ([]*model.KnowledgeAudit, error)
}

// BarterStore 易货交易存储接口
type BarterStore interface {
	CreateBarter(ctx context.Context, barter *model.BarterTransaction) error
	GetBarter(ctx context.Context, id string) (*model.BarterTransaction, error)
	ListBarters(ctx context.Context, filter BarterFilter) ([]*model.BarterTransaction, error)

	// UpdateBarter 版本守护的全量更新
	UpdateBarter(ctx context.Context, barter *model.BarterTransaction) error

	// ListExpiredBarters 列出超过截止时间且未到终态的交易
	ListExpiredBarters(ctx context.Context, now time.Time, limit int) ([]*model.BarterTransaction, error)
}

// LedgerStore 账本存储接口（条目不可变，只增不改）
type LedgerStore interface {
	CreateLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]*model.LedgerEntry, error)

	// SumLedgerByAgent 返回该 Agent 的账本净流入（收入 - 支出），用于对账
	SumLedgerByAgent(ctx context.Context, agentID string) (string, error)
}

// EnrollmentStore 注册挑战存储接口
type EnrollmentStore interface {
	CreateChallenge(ctx context.Context, ch *model.EnrollmentChallenge) error
	GetChallenge(ctx context.Context, id string) (*model.EnrollmentChallenge, error)

	// ConsumeChallenge 原子地将 pending 置为目标状态
	// 已不在 pending 状态时返回 ErrConflict（防止挑战复用）
	ConsumeChallenge(ctx context.Context, id string, to model.ChallengeStatus) error

	// ExpireStaleChallenges 批量过期超时的 pending 挑战，返回处理数
	ExpireStaleChallenges(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore 会话存储接口
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.AgentSession) error
	GetSession(ctx context.Context, id string) (*model.AgentSession, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// HeartbeatStore 心跳流水存储接口
type HeartbeatStore interface {
	CreateHeartbeatLog(ctx context.Context, hb *model.HeartbeatLog) error
	ListHeartbeatLogs(ctx context.Context, agentID string, limit int) ([]*model.HeartbeatLog, error)

	// CountHeartbeatsSince 统计窗口内的心跳次数（在线率估算用）
	CountHeartbeatsSince(ctx context.Context, agentID string, since time.Time) (int, error)
}

// EventStore 联邦事件日志存储接口（归档）
type EventStore interface {
	CreateEvent(ctx context.Context, ev *model.FederationEvent) error
	ListEvents(ctx context.Context, eventType string, limit, offset int) ([]*model.FederationEvent, error)
	ListEventsBySubject(ctx context.Context, subjectID string, limit int) ([]*model.FederationEvent, error)
}

// ============================================================================
// etcd 存活接口（由 etcd.Store 实现）
// ============================================================================

// EtcdAgentLiveness etcd Agent 租约存活接口
type EtcdAgentLiveness interface {
	UpdateAgentHeartbeat(ctx context.Context, hb *EtcdHeartbeat) error
	GetAgentHeartbeat(ctx context.Context, agentID string) (*EtcdHeartbeat, error)
	ListAgentHeartbeats(ctx context.Context) ([]*EtcdHeartbeat, error)
	IsAgentOnline(ctx context.Context, agentID string) bool
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	AgentStore
	CapabilityStore
	TaskStore
	ReputationStore
	KnowledgeStore
	AuditStore
	BarterStore
	LedgerStore
	EnrollmentStore
	SessionStore
	HeartbeatStore
	EventStore
	Close() error
}

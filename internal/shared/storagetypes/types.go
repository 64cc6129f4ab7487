// Package storagetypes 存储层共享类型
//
// 独立成包以避免 storage 与其实现子包之间的循环导入。
package storagetypes

import (
	"time"
)

// AgentFilter Agent 查询过滤条件
type AgentFilter struct {
	// Status 按状态过滤（空表示不限）
	Status string

	// Role 按角色过滤（空表示不限）
	Role string

	// OnlyMatchable 仅返回 active 且有空闲槽位的 Agent
	OnlyMatchable bool

	// ExcludeID 排除指定 Agent（匹配时排除发布方）
	ExcludeID string

	Limit  int
	Offset int
}

// TaskFilter 任务查询过滤条件
type TaskFilter struct {
	Status      string
	RequesterID string
	AssignedTo  string

	Limit  int
	Offset int
}

// PackageFilter 知识包查询过滤条件
type PackageFilter struct {
	OwnerID     string
	AuditStatus string

	// OnlyListed 仅返回已上架的知识包
	OnlyListed bool

	Limit  int
	Offset int
}

// BarterFilter 易货交易查询过滤条件
type BarterFilter struct {
	Status string

	// PartyID 任意一方为该 Agent
	PartyID string

	Limit  int
	Offset int
}

// LedgerFilter 账本查询过滤条件
type LedgerFilter struct {
	// AgentID 任意一方为该 Agent
	AgentID string

	Type  string
	RefID string

	Limit  int
	Offset int
}

// EtcdHeartbeat etcd 中的 Agent 存活记录（租约过期即离线）
type EtcdHeartbeat struct {
	AgentID       string    `json:"agent_id"`
	Status        string    `json:"status"`
	ActiveTasks   int       `json:"active_tasks"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

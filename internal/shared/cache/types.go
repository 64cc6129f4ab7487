// Package cache 缓存层类型定义
package cache

import (
	"time"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// AgentPresence Agent 在线状态
type AgentPresence struct {
	Status        string    `json:"status"`
	ActiveTasks   int       `json:"active_tasks"`
	CPUPercent    float64   `json:"cpu_percent,omitempty"`
	MemoryPercent float64   `json:"memory_percent,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeyAgentPresence = "agent_presence:"
	KeyLeaderboard   = "leaderboard:"

	// TTL 常量
	TTLAgentPresence = 3 * time.Minute
	TTLLeaderboard   = 1 * time.Minute
)

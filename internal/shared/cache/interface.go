// Package cache 缓存层抽象接口
//
// 提供临时状态和缓存的存取能力，当前由 Redis 实现。
package cache

import (
	"context"

	"nervix-hub/internal/shared/model"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// AgentPresenceCache Agent 在线状态缓存接口
//
// 心跳写入带 TTL 的 key，过期即视为离线，在线判定无需查库。
type AgentPresenceCache interface {
	UpdateAgentPresence(ctx context.Context, agentID string, presence *AgentPresence) error
	GetAgentPresence(ctx context.Context, agentID string) (*AgentPresence, error)
	DeleteAgentPresence(ctx context.Context, agentID string) error
	ListOnlineAgents(ctx context.Context) ([]string, error)
}

// LeaderboardCache 排行榜快照缓存接口
type LeaderboardCache interface {
	SetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort, entries []*model.LeaderboardEntry) error
	GetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort) ([]*model.LeaderboardEntry, error)
	InvalidateLeaderboard(ctx context.Context) error
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	AgentPresenceCache
	LeaderboardCache
	Close() error
}

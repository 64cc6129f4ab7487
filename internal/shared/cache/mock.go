// Package cache 缓存层 mock 实现
package cache

import (
	"context"

	"nervix-hub/internal/shared/model"
)

// ============================================================================
// NoOpCache - 空操作的 Cache 实现（用于测试）
// ============================================================================

// NoOpCache 是一个不做任何操作的 Cache 实现
type NoOpCache struct{}

// NewNoOpCache 创建 NoOpCache 实例
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Close 关闭缓存
func (c *NoOpCache) Close() error {
	return nil
}

// AgentPresenceCache 方法

func (c *NoOpCache) UpdateAgentPresence(ctx context.Context, agentID string, presence *AgentPresence) error {
	return nil
}
func (c *NoOpCache) GetAgentPresence(ctx context.Context, agentID string) (*AgentPresence, error) {
	return nil, nil
}
func (c *NoOpCache) DeleteAgentPresence(ctx context.Context, agentID string) error {
	return nil
}
func (c *NoOpCache) ListOnlineAgents(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

// LeaderboardCache 方法

func (c *NoOpCache) SetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort, entries []*model.LeaderboardEntry) error {
	return nil
}
func (c *NoOpCache) GetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort) ([]*model.LeaderboardEntry, error) {
	return nil, nil
}
func (c *NoOpCache) InvalidateLeaderboard(ctx context.Context) error {
	return nil
}

// 确保 NoOpCache 实现了 Cache 接口
var _ Cache = (*NoOpCache)(nil)

// Package redis AgentPresence 缓存操作
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"nervix-hub/internal/shared/cache"
)

// UpdateAgentPresence 更新 Agent 在线状态
// key 带 TTL，心跳停止后自动过期
func (s *Store) UpdateAgentPresence(ctx context.Context, agentID string, presence *cache.AgentPresence) error {
	key := cache.KeyAgentPresence + agentID

	presence.UpdatedAt = time.Now()
	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, cache.TTLAgentPresence).Err()
}

// GetAgentPresence 获取 Agent 在线状态（不存在或已过期返回 nil）
func (s *Store) GetAgentPresence(ctx context.Context, agentID string) (*cache.AgentPresence, error) {
	key := cache.KeyAgentPresence + agentID

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var presence cache.AgentPresence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, err
	}

	return &presence, nil
}

// DeleteAgentPresence 删除 Agent 在线状态缓存（下线/停用时调用）
func (s *Store) DeleteAgentPresence(ctx context.Context, agentID string) error {
	key := cache.KeyAgentPresence + agentID
	return s.client.Del(ctx, key).Err()
}

// ListOnlineAgents 列出在线 Agent
//
// 使用 SCAN 替代 KEYS，避免在 Agent 数量大时阻塞 Redis
func (s *Store) ListOnlineAgents(ctx context.Context) ([]string, error) {
	pattern := cache.KeyAgentPresence + "*"
	var agentIDs []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		agentID := key[len(cache.KeyAgentPresence):]
		agentIDs = append(agentIDs, agentID)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return agentIDs, nil
}

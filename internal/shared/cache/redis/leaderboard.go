// Package redis Leaderboard 快照缓存操作
package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"nervix-hub/internal/shared/cache"
	"nervix-hub/internal/shared/model"
)

// SetLeaderboard 缓存一个排序维度的排行榜快照
func (s *Store) SetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort, entries []*model.LeaderboardEntry) error {
	key := cache.KeyLeaderboard + string(sortBy)

	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, cache.TTLLeaderboard).Err()
}

// GetLeaderboard 读取排行榜快照（未缓存返回 nil）
func (s *Store) GetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort) ([]*model.LeaderboardEntry, error) {
	key := cache.KeyLeaderboard + string(sortBy)

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []*model.LeaderboardEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// InvalidateLeaderboard 清除所有排序维度的快照（结算/审计后调用）
func (s *Store) InvalidateLeaderboard(ctx context.Context) error {
	pattern := cache.KeyLeaderboard + "*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// Package redis Redis 缓存实现
//
// 承载两类联邦易失态：智能体在线状态（presence:* 键，TTL 驱动过期）
// 和排行榜快照（leaderboard:* 键）。连接由 infra 层统一建立并在
// 缓存、事件总线、队列三个组件间共享。
package redis

import (
	"github.com/redis/go-redis/v9"
)

// Store Redis 缓存存储
type Store struct {
	client *redis.Client
}

// NewStoreFromClient 基于共享 Redis 连接创建缓存实例
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

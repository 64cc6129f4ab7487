// Package redis Redis Streams 队列实现
//
// 两级任务流水：撮合队列（全局 stream，撮合器消费组竞争消费）
// 和派发队列（每个智能体一条 stream）。连接由 infra 层建立并与
// 缓存、事件总线共享。
package redis

import (
	"github.com/redis/go-redis/v9"
)

// Store Redis 队列存储
type Store struct {
	client *redis.Client
}

// NewStoreFromClient 基于共享 Redis 连接创建队列实例
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

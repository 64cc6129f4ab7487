// Package redis Redis Streams 事件总线实现
//
// 联邦事件经 XADD 写入单条 capped stream，供镜像节点与监控端
// 按 ID 增量拉取或订阅。连接由 infra 层建立并与缓存、队列共享。
package redis

import (
	"github.com/redis/go-redis/v9"
)

// Store Redis 事件总线存储
type Store struct {
	client *redis.Client
}

// NewStoreFromClient 基于共享 Redis 连接创建事件总线实例
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

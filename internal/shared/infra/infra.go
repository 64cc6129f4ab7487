// Package infra 基础设施聚合层
//
// 提供统一的基础设施初始化和依赖注入，包括：
//   - Storage：持久化存储（PostgreSQL/SQLite/MongoDB）
//   - Cache：缓存（Redis），包含 Agent 在线状态与排行榜快照
//   - EventBus：联邦事件总线（Redis Streams）
//   - Queue：消息队列（Redis Streams）
package infra

import (
	"nervix-hub/internal/shared/cache"
	"nervix-hub/internal/shared/eventbus"
	"nervix-hub/internal/shared/queue"
	"nervix-hub/internal/shared/storage"
)

// Infrastructure 基础设施聚合结构
type Infrastructure struct {
	// Storage 持久化存储
	Storage storage.PersistentStore

	// Cache 缓存（Redis），包含 Agent 在线状态（AgentPresenceCache）
	Cache cache.Cache

	// EventBus 联邦事件总线（Redis）
	EventBus eventbus.EventBus

	// Queue 消息队列（Redis）
	Queue queue.Queue
}

// Close 关闭所有基础设施连接
func (i *Infrastructure) Close() error {
	var lastErr error

	if i.Storage != nil {
		if err := i.Storage.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Cache != nil {
		if err := i.Cache.Close(); err != nil {
			lastErr = err
		}
	}

	if i.EventBus != nil {
		if err := i.EventBus.Close(); err != nil {
			lastErr = err
		}
	}

	if i.Queue != nil {
		if err := i.Queue.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// NewNoOpInfrastructure 创建空操作的基础设施（用于测试）
func NewNoOpInfrastructure() *Infrastructure {
	return &Infrastructure{
		Cache:    cache.NewNoOpCache(),
		EventBus: eventbus.NewNoOpEventBus(),
		Queue:    queue.NewNoOpQueue(),
	}
}

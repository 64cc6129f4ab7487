// Package eventbus 事件总线抽象接口
//
// 提供联邦事件的发布/订阅能力，当前由 Redis Streams 实现。
package eventbus

import (
	"context"
)

// ============================================================================
// 事件总线接口定义
// ============================================================================

// FederationEventBus 联邦事件总线接口
//
// 所有联邦事件写入同一条 Stream，订阅方从 "$" 开始增量消费。
// 持久归档由 storage.EventStore 负责，总线只承担实时广播。
type FederationEventBus interface {
	PublishFederationEvent(ctx context.Context, event *Event) error
	GetFederationEvents(ctx context.Context, fromID string, count int64) ([]*Event, error)
	GetFederationEventCount(ctx context.Context) (int64, error)
	SubscribeFederationEvents(ctx context.Context) (<-chan *Event, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// EventBus 事件总线组合接口
type EventBus interface {
	FederationEventBus
	Close() error
}

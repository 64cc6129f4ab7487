// Package eventbus 事件总线 mock 实现
package eventbus

import (
	"context"
)

// ============================================================================
// NoOpEventBus - 空操作的 EventBus 实现（用于测试）
// ============================================================================

// NoOpEventBus 是一个不做任何操作的 EventBus 实现
type NoOpEventBus struct{}

// NewNoOpEventBus 创建 NoOpEventBus 实例
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

// Close 关闭事件总线
func (b *NoOpEventBus) Close() error {
	return nil
}

func (b *NoOpEventBus) PublishFederationEvent(ctx context.Context, event *Event) error {
	return nil
}
func (b *NoOpEventBus) GetFederationEvents(ctx context.Context, fromID string, count int64) ([]*Event, error) {
	return nil, nil
}
func (b *NoOpEventBus) GetFederationEventCount(ctx context.Context) (int64, error) {
	return 0, nil
}
func (b *NoOpEventBus) SubscribeFederationEvents(ctx context.Context) (<-chan *Event, error) {
	ch := make(chan *Event)
	close(ch)
	return ch, nil
}

// 确保 NoOpEventBus 实现了 EventBus 接口
var _ EventBus = (*NoOpEventBus)(nil)

// Package queue 消息队列 mock 实现
package queue

import (
	"context"
	"time"
)

// ============================================================================
// NoOpQueue - 空操作的 Queue 实现（用于测试）
// ============================================================================

// NoOpQueue 是一个不做任何操作的 Queue 实现
type NoOpQueue struct{}

// NewNoOpQueue 创建 NoOpQueue 实例
func NewNoOpQueue() *NoOpQueue {
	return &NoOpQueue{}
}

// Close 关闭队列
func (q *NoOpQueue) Close() error {
	return nil
}

// MatchQueue 方法

func (q *NoOpQueue) EnqueueTask(ctx context.Context, taskID, requesterID string) (string, error) {
	return "", nil
}
func (q *NoOpQueue) CreateMatchConsumerGroup(ctx context.Context) error {
	return nil
}
func (q *NoOpQueue) ConsumeMatchTasks(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*MatchMessage, error) {
	return nil, nil
}
func (q *NoOpQueue) AckMatchTask(ctx context.Context, messageID string) error {
	return nil
}
func (q *NoOpQueue) GetMatchQueueLength(ctx context.Context) (int64, error) {
	return 0, nil
}
func (q *NoOpQueue) GetMatchPendingCount(ctx context.Context) (int64, error) {
	return 0, nil
}

// DispatchQueue 方法

func (q *NoOpQueue) DispatchTaskToAgent(ctx context.Context, agentID, taskID string) (string, error) {
	return "", nil
}
func (q *NoOpQueue) CreateAgentConsumerGroup(ctx context.Context, agentID string) error {
	return nil
}
func (q *NoOpQueue) ConsumeAgentTasks(ctx context.Context, agentID, consumerID string, count int64, blockTimeout time.Duration) ([]*DispatchMessage, error) {
	return nil, nil
}
func (q *NoOpQueue) AckAgentTask(ctx context.Context, agentID, messageID string) error {
	return nil
}
func (q *NoOpQueue) GetAgentQueueLength(ctx context.Context, agentID string) (int64, error) {
	return 0, nil
}
func (q *NoOpQueue) GetAgentPendingCount(ctx context.Context, agentID string) (int64, error) {
	return 0, nil
}

// 确保 NoOpQueue 实现了 Queue 接口
var _ Queue = (*NoOpQueue)(nil)

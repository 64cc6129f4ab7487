// Package queue 消息队列抽象接口
//
// 提供任务撮合和派发的队列能力，当前由 Redis Streams 实现。
package queue

import (
	"context"
	"time"
)

// ============================================================================
// 队列接口定义
// ============================================================================

// MatchQueue 撮合队列接口
type MatchQueue interface {
	// EnqueueTask 将任务加入撮合队列（等待匹配 Agent）
	EnqueueTask(ctx context.Context, taskID, requesterID string) (string, error)
	CreateMatchConsumerGroup(ctx context.Context) error
	ConsumeMatchTasks(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*MatchMessage, error)
	AckMatchTask(ctx context.Context, messageID string) error
	GetMatchQueueLength(ctx context.Context) (int64, error)
	GetMatchPendingCount(ctx context.Context) (int64, error)
}

// DispatchQueue Agent 派发队列接口
type DispatchQueue interface {
	// DispatchTaskToAgent 将任务派发给指定 Agent
	DispatchTaskToAgent(ctx context.Context, agentID, taskID string) (string, error)
	CreateAgentConsumerGroup(ctx context.Context, agentID string) error
	ConsumeAgentTasks(ctx context.Context, agentID, consumerID string, count int64, blockTimeout time.Duration) ([]*DispatchMessage, error)
	AckAgentTask(ctx context.Context, agentID, messageID string) error
	GetAgentQueueLength(ctx context.Context, agentID string) (int64, error)
	GetAgentPendingCount(ctx context.Context, agentID string) (int64, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Queue 消息队列组合接口
type Queue interface {
	MatchQueue
	DispatchQueue
	Close() error
}

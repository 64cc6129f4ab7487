// Package queue 消息队列类型定义
package queue

import (
	"time"
)

// ============================================================================
// 消息类型
// ============================================================================

// MatchMessage 撮合队列消息
type MatchMessage struct {
	ID          string
	TaskID      string
	RequesterID string
	CreatedAt   time.Time
}

// DispatchMessage 派发队列消息
type DispatchMessage struct {
	ID           string
	TaskID       string
	DispatchedAt time.Time
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// 撮合队列 - 存放待匹配的任务
	KeyMatchTasks = "match:tasks"

	// Agent 派发队列 - 存放派发给 Agent 的任务
	KeyAgentTasks       = "agents:"
	KeyAgentTasksSuffix = ":tasks"

	// 消费者组
	MatchConsumerGroup = "matchers"
	AgentConsumerGroup = "agents"
)

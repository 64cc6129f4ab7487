// Package redis DispatchQueue 操作
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"nervix-hub/internal/shared/queue"
)

func agentTasksKey(agentID string) string {
	return queue.KeyAgentTasks + agentID + queue.KeyAgentTasksSuffix
}

// DispatchTaskToAgent 将任务派发给指定 Agent
func (s *Store) DispatchTaskToAgent(ctx context.Context, agentID, taskID string) (string, error) {
	key := agentTasksKey(agentID)

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"task_id":       taskID,
			"dispatched_at": time.Now().Format(time.RFC3339Nano),
		},
	}

	msgID, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to dispatch task to agent %s: %w", agentID, err)
	}

	log.Printf("[Redis/Queue] Dispatched task to agent: agent=%s task=%s msg_id=%s", agentID, taskID, msgID)
	return msgID, nil
}

// CreateAgentConsumerGroup 创建 Agent 消费者组
func (s *Store) CreateAgentConsumerGroup(ctx context.Context, agentID string) error {
	key := agentTasksKey(agentID)

	err := s.client.XGroupCreateMkStream(ctx, key, queue.AgentConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group for agent %s: %w", agentID, err)
	}

	return nil
}

// ConsumeAgentTasks 消费派发给 Agent 的任务
func (s *Store) ConsumeAgentTasks(ctx context.Context, agentID, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.DispatchMessage, error) {
	key := agentTasksKey(agentID)

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.AgentConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{key, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume agent tasks: %w", err)
	}

	var messages []*queue.DispatchMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.DispatchMessage{
				ID: msg.ID,
			}
			if taskID, ok := msg.Values["task_id"].(string); ok {
				m.TaskID = taskID
			}
			if dispatchedAt, ok := msg.Values["dispatched_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, dispatchedAt); err == nil {
					m.DispatchedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckAgentTask 确认 Agent 任务消息已处理
func (s *Store) AckAgentTask(ctx context.Context, agentID, messageID string) error {
	key := agentTasksKey(agentID)
	return s.client.XAck(ctx, key, queue.AgentConsumerGroup, messageID).Err()
}

// GetAgentQueueLength 获取 Agent 派发队列长度
func (s *Store) GetAgentQueueLength(ctx context.Context, agentID string) (int64, error) {
	key := agentTasksKey(agentID)
	return s.client.XLen(ctx, key).Result()
}

// GetAgentPendingCount 获取 Agent 未确认消息数量
func (s *Store) GetAgentPendingCount(ctx context.Context, agentID string) (int64, error) {
	key := agentTasksKey(agentID)
	pending, err := s.client.XPending(ctx, key, queue.AgentConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

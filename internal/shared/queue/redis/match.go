// Package redis MatchQueue 操作
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"nervix-hub/internal/shared/queue"
)

// EnqueueTask 将任务加入撮合队列（等待匹配 Agent）
func (s *Store) EnqueueTask(ctx context.Context, taskID, requesterID string) (string, error) {
	args := &redis.XAddArgs{
		Stream: queue.KeyMatchTasks,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"task_id":      taskID,
			"requester_id": requesterID,
			"created_at":   time.Now().Format(time.RFC3339Nano),
		},
	}

	return s.client.XAdd(ctx, args).Result()
}

// CreateMatchConsumerGroup 创建撮合消费者组
func (s *Store) CreateMatchConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, queue.KeyMatchTasks, queue.MatchConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// ConsumeMatchTasks 消费撮合队列中的任务
func (s *Store) ConsumeMatchTasks(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.MatchMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    queue.MatchConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{queue.KeyMatchTasks, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var messages []*queue.MatchMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &queue.MatchMessage{
				ID: msg.ID,
			}
			if taskID, ok := msg.Values["task_id"].(string); ok {
				m.TaskID = taskID
			}
			if requesterID, ok := msg.Values["requester_id"].(string); ok {
				m.RequesterID = requesterID
			}
			if createdAt, ok := msg.Values["created_at"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
					m.CreatedAt = t
				}
			}
			messages = append(messages, m)
		}
	}

	return messages, nil
}

// AckMatchTask 确认撮合消息已处理
func (s *Store) AckMatchTask(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, queue.KeyMatchTasks, queue.MatchConsumerGroup, messageID).Err()
}

// GetMatchQueueLength 获取撮合队列长度
func (s *Store) GetMatchQueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, queue.KeyMatchTasks).Result()
}

// GetMatchPendingCount 获取未确认消息数量
func (s *Store) GetMatchPendingCount(ctx context.Context) (int64, error) {
	pending, err := s.client.XPending(ctx, queue.KeyMatchTasks, queue.MatchConsumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Package redis FederationEvents 事件总线操作
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"nervix-hub/internal/shared/eventbus"
)

// PublishFederationEvent 发布联邦事件
func (s *Store) PublishFederationEvent(ctx context.Context, event *eventbus.Event) error {
	args := &redis.XAddArgs{
		Stream: eventbus.KeyFederationEvents,
		MaxLen: eventbus.MaxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":   event.EventID,
			"type":       event.Type,
			"actor_id":   event.ActorID,
			"subject_id": event.SubjectID,
			"payload":    string(event.Payload),
			"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
		},
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish federation event: %w", err)
	}

	log.Printf("[Redis/EventBus] Published event: stream_id=%s type=%s subject=%s", id, event.Type, event.SubjectID)
	return nil
}

// parseEventMessage 从 Stream 消息解析 Event
func parseEventMessage(msg redis.XMessage) *eventbus.Event {
	event := &eventbus.Event{StreamID: msg.ID}
	if v, ok := msg.Values["event_id"].(string); ok {
		event.EventID = v
	}
	if v, ok := msg.Values["type"].(string); ok {
		event.Type = v
	}
	if v, ok := msg.Values["actor_id"].(string); ok {
		event.ActorID = v
	}
	if v, ok := msg.Values["subject_id"].(string); ok {
		event.SubjectID = v
	}
	if v, ok := msg.Values["payload"].(string); ok && v != "" {
		event.Payload = []byte(v)
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			event.Timestamp = t
		}
	}
	return event
}

// GetFederationEvents 获取联邦事件列表
func (s *Store) GetFederationEvents(ctx context.Context, fromID string, count int64) ([]*eventbus.Event, error) {
	if fromID == "" {
		fromID = "0"
	}

	msgs, err := s.client.XRange(ctx, eventbus.KeyFederationEvents, fromID, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get federation events: %w", err)
	}

	var events []*eventbus.Event
	for _, msg := range msgs {
		events = append(events, parseEventMessage(msg))
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}

	return events, nil
}

// GetFederationEventCount 获取事件数量
func (s *Store) GetFederationEventCount(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, eventbus.KeyFederationEvents).Result()
}

// SubscribeFederationEvents 订阅联邦事件（从订阅时刻起的增量）
func (s *Store) SubscribeFederationEvents(ctx context.Context) (<-chan *eventbus.Event, error) {
	ch := make(chan *eventbus.Event, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{eventbus.KeyFederationEvents, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				log.Printf("[Redis/EventBus] Event subscription error: %v", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					event := parseEventMessage(msg)
					lastID = msg.ID

					select {
					case ch <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

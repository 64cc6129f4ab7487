// Package infra Redis 基础设施初始化
package infra

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"nervix-hub/internal/shared/cache"
	cacheredis "nervix-hub/internal/shared/cache/redis"
	"nervix-hub/internal/shared/eventbus"
	eventbusredis "nervix-hub/internal/shared/eventbus/redis"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/queue"
	queueredis "nervix-hub/internal/shared/queue/redis"
)

// RedisInfra Redis 基础设施
//
// 三个组件共享同一条底层连接，分别实现 cache.Cache、
// eventbus.EventBus、queue.Queue 接口
type RedisInfra struct {
	// 组件（显式命名避免冲突）
	cacheStore    *cacheredis.Store
	eventBusStore *eventbusredis.Store
	queueStore    *queueredis.Store

	// 底层连接
	client *redis.Client
}

// NewRedisInfra 从 URL 创建 Redis 基础设施
func NewRedisInfra(redisURL string) (*RedisInfra, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", opts.Addr)

	return &RedisInfra{
		client:        client,
		cacheStore:    cacheredis.NewStoreFromClient(client),
		eventBusStore: eventbusredis.NewStoreFromClient(client),
		queueStore:    queueredis.NewStoreFromClient(client),
	}, nil
}

// NewRedisInfraFromAddr 从地址创建 Redis 基础设施
func NewRedisInfraFromAddr(addr, password string, db int) (*RedisInfra, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[Redis/Infra] Connected to %s", addr)

	return &RedisInfra{
		client:        client,
		cacheStore:    cacheredis.NewStoreFromClient(client),
		eventBusStore: eventbusredis.NewStoreFromClient(client),
		queueStore:    queueredis.NewStoreFromClient(client),
	}, nil
}

// Cache 返回缓存组件接口
func (r *RedisInfra) Cache() cache.Cache {
	return r.cacheStore
}

// EventBus 返回事件总线组件接口
func (r *RedisInfra) EventBus() eventbus.EventBus {
	return r.eventBusStore
}

// Queue 返回消息队列组件接口
func (r *RedisInfra) Queue() queue.Queue {
	return r.queueStore
}

// Client 返回底层 Redis 客户端
func (r *RedisInfra) Client() *redis.Client {
	return r.client
}

// Close 关闭 Redis 连接
func (r *RedisInfra) Close() error {
	return r.client.Close()
}

// ============================================================================
// cache.Cache 接口委托实现
// ============================================================================

func (r *RedisInfra) UpdateAgentPresence(ctx context.Context, agentID string, presence *cache.AgentPresence) error {
	return r.cacheStore.UpdateAgentPresence(ctx, agentID, presence)
}
func (r *RedisInfra) GetAgentPresence(ctx context.Context, agentID string) (*cache.AgentPresence, error) {
	return r.cacheStore.GetAgentPresence(ctx, agentID)
}
func (r *RedisInfra) DeleteAgentPresence(ctx context.Context, agentID string) error {
	return r.cacheStore.DeleteAgentPresence(ctx, agentID)
}
func (r *RedisInfra) ListOnlineAgents(ctx context.Context) ([]string, error) {
	return r.cacheStore.ListOnlineAgents(ctx)
}
func (r *RedisInfra) SetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort, entries []*model.LeaderboardEntry) error {
	return r.cacheStore.SetLeaderboard(ctx, sortBy, entries)
}
func (r *RedisInfra) GetLeaderboard(ctx context.Context, sortBy model.LeaderboardSort) ([]*model.LeaderboardEntry, error) {
	return r.cacheStore.GetLeaderboard(ctx, sortBy)
}
func (r *RedisInfra) InvalidateLeaderboard(ctx context.Context) error {
	return r.cacheStore.InvalidateLeaderboard(ctx)
}

// ============================================================================
// eventbus.EventBus 接口委托实现
// ============================================================================

func (r *RedisInfra) PublishFederationEvent(ctx context.Context, event *eventbus.Event) error {
	return r.eventBusStore.PublishFederationEvent(ctx, event)
}
func (r *RedisInfra) GetFederationEvents(ctx context.Context, fromID string, count int64) ([]*eventbus.Event, error) {
	return r.eventBusStore.GetFederationEvents(ctx, fromID, count)
}
func (r *RedisInfra) GetFederationEventCount(ctx context.Context) (int64, error) {
	return r.eventBusStore.GetFederationEventCount(ctx)
}
func (r *RedisInfra) SubscribeFederationEvents(ctx context.Context) (<-chan *eventbus.Event, error) {
	return r.eventBusStore.SubscribeFederationEvents(ctx)
}

// ============================================================================
// queue.Queue 接口委托实现
// ============================================================================

func (r *RedisInfra) EnqueueTask(ctx context.Context, taskID, requesterID string) (string, error) {
	return r.queueStore.EnqueueTask(ctx, taskID, requesterID)
}
func (r *RedisInfra) CreateMatchConsumerGroup(ctx context.Context) error {
	return r.queueStore.CreateMatchConsumerGroup(ctx)
}
func (r *RedisInfra) ConsumeMatchTasks(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.MatchMessage, error) {
	return r.queueStore.ConsumeMatchTasks(ctx, consumerID, count, blockTimeout)
}
func (r *RedisInfra) AckMatchTask(ctx context.Context, messageID string) error {
	return r.queueStore.AckMatchTask(ctx, messageID)
}
func (r *RedisInfra) GetMatchQueueLength(ctx context.Context) (int64, error) {
	return r.queueStore.GetMatchQueueLength(ctx)
}
func (r *RedisInfra) GetMatchPendingCount(ctx context.Context) (int64, error) {
	return r.queueStore.GetMatchPendingCount(ctx)
}
func (r *RedisInfra) DispatchTaskToAgent(ctx context.Context, agentID, taskID string) (string, error) {
	return r.queueStore.DispatchTaskToAgent(ctx, agentID, taskID)
}
func (r *RedisInfra) CreateAgentConsumerGroup(ctx context.Context, agentID string) error {
	return r.queueStore.CreateAgentConsumerGroup(ctx, agentID)
}
func (r *RedisInfra) ConsumeAgentTasks(ctx context.Context, agentID, consumerID string, count int64, blockTimeout time.Duration) ([]*queue.DispatchMessage, error) {
	return r.queueStore.ConsumeAgentTasks(ctx, agentID, consumerID, count, blockTimeout)
}
func (r *RedisInfra) AckAgentTask(ctx context.Context, agentID, messageID string) error {
	return r.queueStore.AckAgentTask(ctx, agentID, messageID)
}
func (r *RedisInfra) GetAgentQueueLength(ctx context.Context, agentID string) (int64, error) {
	return r.queueStore.GetAgentQueueLength(ctx, agentID)
}
func (r *RedisInfra) GetAgentPendingCount(ctx context.Context, agentID string) (int64, error) {
	return r.queueStore.GetAgentPendingCount(ctx, agentID)
}

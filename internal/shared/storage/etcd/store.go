// Package etcd etcd 存活存储实现
//
// Agent 心跳以租约 key 写入，租约到期自动删除，在线判定即 key 存在性。
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"nervix-hub/internal/shared/storagetypes"
)

// LeaseTTLSeconds Agent 心跳租约时长（秒），三个心跳周期
const LeaseTTLSeconds = 180

// Store etcd 存储客户端
type Store struct {
	client *clientv3.Client
	prefix string
}

// Config etcd 配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewStore 创建 etcd 存储客户端
func NewStore(cfg Config) (*Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/nervix"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &Store{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 etcd 客户端
func (s *Store) Client() *clientv3.Client {
	return s.client
}

// Prefix 返回 key 前缀
func (s *Store) Prefix() string {
	return s.prefix
}

// UpdateAgentHeartbeat 更新 Agent 心跳
func (s *Store) UpdateAgentHeartbeat(ctx context.Context, hb *storagetypes.EtcdHeartbeat) error {
	key := fmt.Sprintf("%s/agents/%s/heartbeat", s.prefix, hb.AgentID)
	hb.LastHeartbeat = time.Now()

	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	lease, err := s.client.Grant(ctx, LeaseTTLSeconds)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	_, err = s.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID))
	if err != nil {
		return fmt.Errorf("failed to put heartbeat: %w", err)
	}

	return nil
}

// GetAgentHeartbeat 获取 Agent 心跳（租约已过期返回 nil）
func (s *Store) GetAgentHeartbeat(ctx context.Context, agentID string) (*storagetypes.EtcdHeartbeat, error) {
	key := fmt.Sprintf("%s/agents/%s/heartbeat", s.prefix, agentID)

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get heartbeat: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var hb storagetypes.EtcdHeartbeat
	if err := json.Unmarshal(resp.Kvs[0].Value, &hb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}

	return &hb, nil
}

// ListAgentHeartbeats 列出所有 Agent 心跳
func (s *Store) ListAgentHeartbeats(ctx context.Context) ([]*storagetypes.EtcdHeartbeat, error) {
	prefix := fmt.Sprintf("%s/agents/", s.prefix)

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}

	var heartbeats []*storagetypes.EtcdHeartbeat
	for _, kv := range resp.Kvs {
		var hb storagetypes.EtcdHeartbeat
		if err := json.Unmarshal(kv.Value, &hb); err != nil {
			log.Printf("[etcd] Failed to unmarshal heartbeat at %s: %v", string(kv.Key), err)
			continue
		}
		heartbeats = append(heartbeats, &hb)
	}

	return heartbeats, nil
}

// WatchAgentHeartbeats 监听 Agent 心跳变化
func (s *Store) WatchAgentHeartbeats(ctx context.Context) clientv3.WatchChan {
	prefix := fmt.Sprintf("%s/agents/", s.prefix)
	return s.client.Watch(ctx, prefix, clientv3.WithPrefix())
}

// IsAgentOnline 检查 Agent 是否在线
func (s *Store) IsAgentOnline(ctx context.Context, agentID string) bool {
	hb, err := s.GetAgentHeartbeat(ctx, agentID)
	if err != nil {
		log.Printf("[etcd] Error checking agent %s online status: %v", agentID, err)
		return false
	}
	return hb != nil
}

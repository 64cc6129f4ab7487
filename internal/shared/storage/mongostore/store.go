// Package mongostore 实现基于 MongoDB 的 PersistentStore
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
//
// 版本守护更新以 {_id, version} 过滤条件 ReplaceOne 实现，
// 未命中即 ErrConflict，与 SQL 实现行为一致。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColAgents       = "agents"
	ColCapabilities = "agent_capabilities"
	ColTasks        = "tasks"
	ColReputations  = "reputation_scores"
	ColPackages     = "knowledge_packages"
	ColAudits       = "knowledge_audits"
	ColBarters      = "barter_transactions"
	ColLedger       = "ledger_entries"
	ColChallenges   = "enrollment_challenges"
	ColSessions     = "agent_sessions"
	ColHeartbeats   = "heartbeat_logs"
	ColEvents       = "federation_events"
)

// Store 实现 storage.PersistentStore 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "nervix_hub"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// agents
		{ColAgents, bson.D{{Key: "name", Value: 1}}, true},
		{ColAgents, bson.D{{Key: "status", Value: 1}}, false},
		{ColAgents, bson.D{{Key: "role", Value: 1}}, false},

		// agent_capabilities
		{ColCapabilities, bson.D{{Key: "agent_id", Value: 1}}, false},

		// tasks
		{ColTasks, bson.D{{Key: "status", Value: 1}}, false},
		{ColTasks, bson.D{{Key: "assigned_agent_id", Value: 1}}, false},
		{ColTasks, bson.D{{Key: "requester_id", Value: 1}}, false},
		{ColTasks, bson.D{{Key: "created_at", Value: -1}}, false},

		// reputation_scores
		{ColReputations, bson.D{{Key: "agent_id", Value: 1}}, true},

		// knowledge_packages
		{ColPackages, bson.D{{Key: "owner_id", Value: 1}}, false},
		{ColPackages, bson.D{{Key: "audit_status", Value: 1}}, false},

		// knowledge_audits
		{ColAudits, bson.D{{Key: "package_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColAudits, bson.D{{Key: "auditor_id", Value: 1}}, false},

		// barter_transactions
		{ColBarters, bson.D{{Key: "status", Value: 1}}, false},
		{ColBarters, bson.D{{Key: "proposer_id", Value: 1}}, false},
		{ColBarters, bson.D{{Key: "responder_id", Value: 1}}, false},

		// ledger_entries
		{ColLedger, bson.D{{Key: "from_agent_id", Value: 1}}, false},
		{ColLedger, bson.D{{Key: "to_agent_id", Value: 1}}, false},
		{ColLedger, bson.D{{Key: "ref_id", Value: 1}}, false},

		// enrollment_challenges
		{ColChallenges, bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}, false},

		// agent_sessions
		{ColSessions, bson.D{{Key: "agent_id", Value: 1}}, false},
		{ColSessions, bson.D{{Key: "expires_at", Value: 1}}, false},

		// heartbeat_logs
		{ColHeartbeats, bson.D{{Key: "agent_id", Value: 1}, {Key: "created_at", Value: -1}}, false},

		// federation_events
		{ColEvents, bson.D{{Key: "type", Value: 1}}, false},
		{ColEvents, bson.D{{Key: "subject_id", Value: 1}}, false},
	}

	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}

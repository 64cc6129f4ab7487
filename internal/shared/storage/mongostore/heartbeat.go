package mongostore

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// HeartbeatStore
// ============================================================================

func (s *Store) CreateHeartbeatLog(ctx context.Context, hb *model.HeartbeatLog) error {
	if hb.ID == 0 {
		// SQL 侧为自增主键，文档模型以纳秒时间戳代替
		hb.ID = time.Now().UnixNano()
	}
	return insertOne(ctx, s.col(ColHeartbeats), hb)
}

func (s *Store) ListHeartbeatLogs(ctx context.Context, agentID string, limit int) ([]*model.HeartbeatLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[model.HeartbeatLog](ctx, s.col(ColHeartbeats), bson.D{{Key: "agent_id", Value: agentID}}, opts)
}

func (s *Store) CountHeartbeatsSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	n, err := s.col(ColHeartbeats).CountDocuments(ctx, bson.D{
		{Key: "agent_id", Value: agentID},
		{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since}}},
	})
	if err != nil {
		return 0, wrapError(err)
	}
	return int(n), nil
}

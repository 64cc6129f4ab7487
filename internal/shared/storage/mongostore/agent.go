package mongostore

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// AgentStore
// ============================================================================

func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) error {
	return insertOne(ctx, s.col(ColAgents), agent)
}

func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return findOne[model.Agent](ctx, s.col(ColAgents), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	return findOne[model.Agent](ctx, s.col(ColAgents), bson.D{{Key: "name", Value: name}})
}

func (s *Store) ListAgents(ctx context.Context, af storage.AgentFilter) ([]*model.Agent, error) {
	filter := bson.D{}
	if af.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: af.Status})
	}
	if af.Role != "" {
		// roles 为数组字段，等值匹配即数组元素包含
		filter = append(filter, bson.E{Key: "roles", Value: af.Role})
	}
	if af.ExcludeID != "" {
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$ne", Value: af.ExcludeID}}})
	}
	if af.OnlyMatchable {
		filter = append(filter,
			bson.E{Key: "status", Value: model.AgentStatusActive},
			bson.E{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$active_tasks", "$max_concurrent_tasks"}}}},
		)
	}

	// 按 ID 升序保证匹配与排行的确定性
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if af.Limit > 0 {
		opts.SetLimit(int64(af.Limit))
	}
	if af.Offset > 0 {
		opts.SetSkip(int64(af.Offset))
	}
	return findMany[model.Agent](ctx, s.col(ColAgents), filter, opts)
}

func (s *Store) CountAgentsByStatus(ctx context.Context) (map[model.AgentStatus]int, error) {
	pipeline := []bson.D{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.col(ColAgents).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	counts := make(map[model.AgentStatus]int)
	for cursor.Next(ctx) {
		var row struct {
			Status model.AgentStatus `bson:"_id"`
			Count  int               `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cursor.Err()
}

func (s *Store) UpdateAgent(ctx context.Context, agent *model.Agent) error {
	expect := agent.Version
	agent.Version++
	agent.UpdatedAt = time.Now()
	if err := replaceVersioned(ctx, s.col(ColAgents), agent.ID, expect, agent); err != nil {
		agent.Version = expect
		return err
	}
	return nil
}

func (s *Store) ReserveTaskSlot(ctx context.Context, id string) error {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: model.AgentStatusActive},
		{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$active_tasks", "$max_concurrent_tasks"}}}},
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "active_tasks", Value: 1}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
	}
	res, err := s.col(ColAgents).UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) ReleaseTaskSlot(ctx context.Context, id string) error {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "active_tasks", Value: bson.D{{Key: "$gt", Value: 0}}},
	}
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "active_tasks", Value: -1}}},
		{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now()}}},
	}
	res, err := s.col(ColAgents).UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		// 计数已为 0 时不下穿，仅校验 Agent 存在
		n, err := s.col(ColAgents).CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
		if err != nil {
			return wrapError(err)
		}
		if n == 0 {
			return storage.ErrNotFound
		}
	}
	return nil
}

func (s *Store) TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error {
	return updateFields(ctx, s.col(ColAgents), id, bson.D{
		{Key: "last_heartbeat_at", Value: at},
		{Key: "updated_at", Value: at},
	})
}

func (s *Store) ListStaleAgents(ctx context.Context, cutoff time.Time) ([]*model.Agent, error) {
	filter := bson.D{
		{Key: "status", Value: model.AgentStatusActive},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "last_heartbeat_at", Value: nil}},
			bson.D{{Key: "last_heartbeat_at", Value: bson.D{{Key: "$lt", Value: cutoff}}}},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return findMany[model.Agent](ctx, s.col(ColAgents), filter, opts)
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	if err := deleteByID(ctx, s.col(ColAgents), id); err != nil {
		return err
	}
	// 级联清理从属文档
	if _, err := s.col(ColCapabilities).DeleteMany(ctx, bson.D{{Key: "agent_id", Value: id}}); err != nil {
		return wrapError(err)
	}
	if _, err := s.col(ColSessions).DeleteMany(ctx, bson.D{{Key: "agent_id", Value: id}}); err != nil {
		return wrapError(err)
	}
	if _, err := s.col(ColReputations).DeleteMany(ctx, bson.D{{Key: "agent_id", Value: id}}); err != nil {
		return wrapError(err)
	}
	return nil
}

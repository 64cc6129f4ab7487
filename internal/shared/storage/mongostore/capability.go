package mongostore

import (
	"context"

	"nervix-hub/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// CapabilityStore
// ============================================================================

func (s *Store) ReplaceCapabilities(ctx context.Context, agentID string, caps []*model.Capability) error {
	col := s.col(ColCapabilities)
	if _, err := col.DeleteMany(ctx, bson.D{{Key: "agent_id", Value: agentID}}); err != nil {
		return wrapError(err)
	}
	if len(caps) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(caps))
	for _, c := range caps {
		docs = append(docs, c)
	}
	_, err := col.InsertMany(ctx, docs)
	return wrapError(err)
}

func (s *Store) ListCapabilities(ctx context.Context, agentID string) ([]*model.Capability, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return findMany[model.Capability](ctx, s.col(ColCapabilities), bson.D{{Key: "agent_id", Value: agentID}}, opts)
}

func (s *Store) ListCapabilitiesForAgents(ctx context.Context, agentIDs []string) (map[string][]*model.Capability, error) {
	result := make(map[string][]*model.Capability, len(agentIDs))
	if len(agentIDs) == 0 {
		return result, nil
	}
	filter := bson.D{{Key: "agent_id", Value: bson.D{{Key: "$in", Value: agentIDs}}}}
	caps, err := findMany[model.Capability](ctx, s.col(ColCapabilities), filter)
	if err != nil {
		return nil, err
	}
	for _, c := range caps {
		result[c.AgentID] = append(result[c.AgentID], c)
	}
	return result, nil
}

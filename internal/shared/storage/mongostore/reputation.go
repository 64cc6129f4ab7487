package mongostore

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// ReputationStore
// ============================================================================

func (s *Store) CreateReputation(ctx context.Context, rep *model.Reputation) error {
	return insertOne(ctx, s.col(ColReputations), rep)
}

func (s *Store) GetReputation(ctx context.Context, agentID string) (*model.Reputation, error) {
	return findOne[model.Reputation](ctx, s.col(ColReputations), bson.D{{Key: "agent_id", Value: agentID}})
}

func (s *Store) ListReputations(ctx context.Context, agentIDs []string) (map[string]*model.Reputation, error) {
	result := make(map[string]*model.Reputation, len(agentIDs))
	if len(agentIDs) == 0 {
		return result, nil
	}
	filter := bson.D{{Key: "agent_id", Value: bson.D{{Key: "$in", Value: agentIDs}}}}
	reps, err := findMany[model.Reputation](ctx, s.col(ColReputations), filter)
	if err != nil {
		return nil, err
	}
	for _, r := range reps {
		result[r.AgentID] = r
	}
	return result, nil
}

func (s *Store) UpdateReputation(ctx context.Context, rep *model.Reputation) error {
	expect := rep.Version
	rep.Version++
	rep.UpdatedAt = time.Now()
	if err := replaceVersioned(ctx, s.col(ColReputations), rep.ID, expect, rep); err != nil {
		rep.Version = expect
		return err
	}
	return nil
}

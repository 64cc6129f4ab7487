package mongostore

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// EnrollmentStore
// ============================================================================

func (s *Store) CreateChallenge(ctx context.Context, ch *model.EnrollmentChallenge) error {
	return insertOne(ctx, s.col(ColChallenges), ch)
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*model.EnrollmentChallenge, error) {
	return findOne[model.EnrollmentChallenge](ctx, s.col(ColChallenges), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ConsumeChallenge(ctx context.Context, id string, to model.ChallengeStatus) error {
	return casStatus(ctx, s.col(ColChallenges), id, string(model.ChallengeStatusPending), string(to))
}

func (s *Store) ExpireStaleChallenges(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.D{
		{Key: "status", Value: model.ChallengeStatusPending},
		{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: model.ChallengeStatusExpired}}}}
	res, err := s.col(ColChallenges).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, wrapError(err)
	}
	return res.ModifiedCount, nil
}

// ============================================================================
// SessionStore
// ============================================================================

func (s *Store) CreateSession(ctx context.Context, sess *model.AgentSession) error {
	return insertOne(ctx, s.col(ColSessions), sess)
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.AgentSession, error) {
	return findOne[model.AgentSession](ctx, s.col(ColSessions), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.col(ColSessions).DeleteMany(ctx, bson.D{
		{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}},
	})
	if err != nil {
		return 0, wrapError(err)
	}
	return res.DeletedCount, nil
}

package mongostore

import (
	"context"

	"nervix-hub/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// EventStore（联邦事件归档）
// ============================================================================

func (s *Store) CreateEvent(ctx context.Context, ev *model.FederationEvent) error {
	return insertOne(ctx, s.col(ColEvents), ev)
}

func (s *Store) ListEvents(ctx context.Context, eventType string, limit, offset int) ([]*model.FederationEvent, error) {
	filter := bson.D{}
	if eventType != "" {
		filter = append(filter, bson.E{Key: "type", Value: eventType})
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return findMany[model.FederationEvent](ctx, s.col(ColEvents), filter, opts)
}

func (s *Store) ListEventsBySubject(ctx context.Context, subjectID string, limit int) ([]*model.FederationEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[model.FederationEvent](ctx, s.col(ColEvents), bson.D{{Key: "subject_id", Value: subjectID}}, opts)
}

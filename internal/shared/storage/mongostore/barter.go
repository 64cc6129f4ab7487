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
// BarterStore
// ============================================================================

func (s *Store) CreateBarter(ctx context.Context, barter *model.BarterTransaction) error {
	return insertOne(ctx, s.col(ColBarters), barter)
}

func (s *Store) GetBarter(ctx context.Context, id string) (*model.BarterTransaction, error) {
	return findOne[model.BarterTransaction](ctx, s.col(ColBarters), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListBarters(ctx context.Context, bf storage.BarterFilter) ([]*model.BarterTransaction, error) {
	filter := bson.D{}
	if bf.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: bf.Status})
	}
	if bf.PartyID != "" {
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "proposer_id", Value: bf.PartyID}},
			bson.D{{Key: "responder_id", Value: bf.PartyID}},
		}})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if bf.Limit > 0 {
		opts.SetLimit(int64(bf.Limit))
	}
	if bf.Offset > 0 {
		opts.SetSkip(int64(bf.Offset))
	}
	return findMany[model.BarterTransaction](ctx, s.col(ColBarters), filter, opts)
}

func (s *Store) UpdateBarter(ctx context.Context, barter *model.BarterTransaction) error {
	expect := barter.Version
	barter.Version++
	barter.UpdatedAt = time.Now()
	if err := replaceVersioned(ctx, s.col(ColBarters), barter.ID, expect, barter); err != nil {
		barter.Version = expect
		return err
	}
	return nil
}

func (s *Store) ListExpiredBarters(ctx context.Context, now time.Time, limit int) ([]*model.BarterTransaction, error) {
	filter := bson.D{
		{Key: "deadline", Value: bson.D{{Key: "$lt", Value: now}}},
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
			model.BarterStatusProposed,
			model.BarterStatusCountered,
			model.BarterStatusAccepted,
			model.BarterStatusFeeLocked,
			model.BarterStatusVerifying,
		}}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "deadline", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[model.BarterTransaction](ctx, s.col(ColBarters), filter, opts)
}

package mongostore

import (
	"context"
	"errors"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// KnowledgeStore
// ============================================================================

func (s *Store) CreatePackage(ctx context.Context, pkg *model.KnowledgePackage) error {
	return insertOne(ctx, s.col(ColPackages), pkg)
}

func (s *Store) GetPackage(ctx context.Context, id string) (*model.KnowledgePackage, error) {
	return findOne[model.KnowledgePackage](ctx, s.col(ColPackages), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListPackages(ctx context.Context, pf storage.PackageFilter) ([]*model.KnowledgePackage, error) {
	filter := bson.D{}
	if pf.OwnerID != "" {
		filter = append(filter, bson.E{Key: "owner_id", Value: pf.OwnerID})
	}
	if pf.AuditStatus != "" {
		filter = append(filter, bson.E{Key: "audit_status", Value: pf.AuditStatus})
	}
	if pf.OnlyListed {
		filter = append(filter, bson.E{Key: "listed", Value: true})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if pf.Limit > 0 {
		opts.SetLimit(int64(pf.Limit))
	}
	if pf.Offset > 0 {
		opts.SetSkip(int64(pf.Offset))
	}
	return findMany[model.KnowledgePackage](ctx, s.col(ColPackages), filter, opts)
}

func (s *Store) UpdatePackage(ctx context.Context, pkg *model.KnowledgePackage) error {
	expect := pkg.Version
	pkg.Version++
	pkg.UpdatedAt = time.Now()
	if err := replaceVersioned(ctx, s.col(ColPackages), pkg.ID, expect, pkg); err != nil {
		pkg.Version = expect
		return err
	}
	return nil
}

func (s *Store) MarkPackageInReview(ctx context.Context, id string) error {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "audit_status", Value: model.AuditStatusPending},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "audit_status", Value: model.AuditStatusInReview},
		{Key: "updated_at", Value: time.Now()},
	}}}
	res, err := s.col(ColPackages).UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		n, err := s.col(ColPackages).CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
		if err != nil {
			return wrapError(err)
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) ListPackagesWithExpiredAudit(ctx context.Context, now time.Time) ([]*model.KnowledgePackage, error) {
	filter := bson.D{
		{Key: "listed", Value: true},
		{Key: "audit_expires_at", Value: bson.D{
			{Key: "$ne", Value: nil},
			{Key: "$lt", Value: now},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return findMany[model.KnowledgePackage](ctx, s.col(ColPackages), filter, opts)
}

func (s *Store) DeletePackage(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColPackages), id)
}

// ============================================================================
// AuditStore
// ============================================================================

func (s *Store) CreateAudit(ctx context.Context, audit *model.KnowledgeAudit) error {
	return insertOne(ctx, s.col(ColAudits), audit)
}

func (s *Store) GetAudit(ctx context.Context, id string) (*model.KnowledgeAudit, error) {
	return findOne[model.KnowledgeAudit](ctx, s.col(ColAudits), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetLatestAuditByPackage(ctx context.Context, packageID string) (*model.KnowledgeAudit, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var audit model.KnowledgeAudit
	err := s.col(ColAudits).FindOne(ctx, bson.D{{Key: "package_id", Value: packageID}}, opts).Decode(&audit)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return &audit, nil
}

func (s *Store) ListAuditsByAuditor(ctx context.Context, auditorID string, limit int) ([]*model.KnowledgeAudit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findMany[model.KnowledgeAudit](ctx, s.col(ColAudits), bson.D{{Key: "auditor_id", Value: auditorID}}, opts)
}

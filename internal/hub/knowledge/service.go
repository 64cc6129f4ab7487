// Package knowledge 知识包登记与市场服务
//
// 知识包由所有者登记元数据（模块数、测试数、内容根哈希），归档本体
// 上传到对象存储。登记后进入待审计状态，审计通过并核定公允价值后
// 自动上架；审计过期的包由巡检下架并回到待审计状态。
package knowledge

import (
	"context"
	"io"
	"net/url"
	"time"

	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// ArchiveStore 知识包归档存储接口（由 blob.Store 实现）
type ArchiveStore interface {
	PutArchive(ctx context.Context, rootHash string, reader io.Reader, size int64) error
	ArchiveExists(ctx context.Context, rootHash string) (bool, error)
	PresignArchive(ctx context.Context, rootHash string, expiry time.Duration) (*url.URL, error)
}

// Service 知识包服务
type Service struct {
	store    storage.PersistentStore
	archives ArchiveStore
	log      *logging.Logger
}

// NewService 创建知识包服务
//
// archives 为 nil 时归档相关操作不可用（纯元数据模式）。
func NewService(store storage.PersistentStore, archives ArchiveStore) *Service {
	return &Service{
		store:    store,
		archives: archives,
		log:      logging.Default("knowledge"),
	}
}

// ============================================================================
// 登记
// ============================================================================

// RegisterRequest 登记知识包的请求
type RegisterRequest struct {
	OwnerID     string                 `json:"owner_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Domain      string                 `json:"domain"`
	RootHash    string                 `json:"root_hash"`
	ModuleCount int                    `json:"module_count"`
	TestCount   int                    `json:"test_count"`
	Proficiency model.ProficiencyLevel `json:"proficiency"`
}

// Register 登记知识包
//
// 登记后处于待审计状态，公允价值为零，审计通过后才可上架交易。
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*model.KnowledgePackage, error) {
	if req.Name == "" {
		return nil, errdefs.Invalidf("package name is required")
	}
	if req.RootHash == "" {
		return nil, errdefs.Invalidf("root hash is required")
	}
	if req.ModuleCount <= 0 {
		return nil, errdefs.Invalidf("module count must be positive")
	}
	if req.TestCount < 0 {
		return nil, errdefs.Invalidf("test count cannot be negative")
	}

	owner, err := s.store.GetAgent(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, errdefs.NotFoundf("owner %s", req.OwnerID)
	}
	if owner.Status != model.AgentStatusActive {
		return nil, errdefs.InvalidStatef("owner %s is %s", owner.ID, owner.Status)
	}

	proficiency := req.Proficiency
	if proficiency == "" {
		proficiency = model.ProficiencyIntermediate
	}

	now := time.Now().UTC()
	pkg := &model.KnowledgePackage{
		ID:              model.NewID(model.PrefixPackage),
		OwnerID:         req.OwnerID,
		Name:            req.Name,
		Description:     req.Description,
		Domain:          req.Domain,
		RootHash:        req.RootHash,
		ModuleCount:     req.ModuleCount,
		TestCount:       req.TestCount,
		Proficiency:     proficiency,
		AuditStatus:     model.AuditStatusPending,
		FairMarketValue: "0.000000",
		ListingPrice:    "0.000000",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreatePackage(ctx, pkg); err != nil {
		return nil, err
	}

	s.log.Info("Knowledge package registered", "package_id", pkg.ID,
		"owner_id", pkg.OwnerID, "modules", pkg.ModuleCount, "tests", pkg.TestCount)
	return pkg, nil
}

// ============================================================================
// 归档
// ============================================================================

// UploadArchive 上传知识包归档本体
func (s *Service) UploadArchive(ctx context.Context, ownerID, packageID string, reader io.Reader, size int64) error {
	if s.archives == nil {
		return errdefs.Invalidf("archive storage is not configured")
	}
	pkg, err := s.getOwned(ctx, packageID, ownerID)
	if err != nil {
		return err
	}
	return s.archives.PutArchive(ctx, pkg.RootHash, reader, size)
}

// DownloadURL 为当前所有者生成限时下载链接
func (s *Service) DownloadURL(ctx context.Context, agentID, packageID string, expiry time.Duration) (*url.URL, error) {
	if s.archives == nil {
		return nil, errdefs.Invalidf("archive storage is not configured")
	}
	pkg, err := s.getOwned(ctx, packageID, agentID)
	if err != nil {
		return nil, err
	}
	exists, err := s.archives.ArchiveExists(ctx, pkg.RootHash)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errdefs.NotFoundf("archive for package %s", packageID)
	}
	return s.archives.PresignArchive(ctx, pkg.RootHash, expiry)
}

// ============================================================================
// 查询与上下架
// ============================================================================

// Get 查询知识包
func (s *Service) Get(ctx context.Context, packageID string) (*model.KnowledgePackage, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, errdefs.NotFoundf("package %s", packageID)
	}
	return pkg, nil
}

// List 按条件查询知识包
func (s *Service) List(ctx context.Context, filter storage.PackageFilter) ([]*model.KnowledgePackage, error) {
	return s.store.ListPackages(ctx, filter)
}

// Marketplace 查询市场上所有可交易的知识包
func (s *Service) Marketplace(ctx context.Context, limit, offset int) ([]*model.KnowledgePackage, error) {
	return s.store.ListPackages(ctx, storage.PackageFilter{
		OnlyListed: true,
		Limit:      limit,
		Offset:     offset,
	})
}

// Delist 所有者主动下架知识包
func (s *Service) Delist(ctx context.Context, ownerID, packageID string) (*model.KnowledgePackage, error) {
	var pkg *model.KnowledgePackage
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		pkg, err = s.getOwned(ctx, packageID, ownerID)
		if err != nil {
			return err
		}
		if !pkg.Listed {
			return errdefs.InvalidStatef("package %s is not listed", packageID)
		}
		pkg.Listed = false
		return s.store.UpdatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Knowledge package delisted", "package_id", packageID, "owner_id", ownerID)
	return pkg, nil
}

// ExpireAudits 下架审计已过期的知识包并重置为待审计（由巡检调用）
//
// 返回处理的包数量。
func (s *Service) ExpireAudits(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListPackagesWithExpiredAudit(ctx, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, pkg := range expired {
		pkgID := pkg.ID
		err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
			current, err := s.store.GetPackage(ctx, pkgID)
			if err != nil {
				return err
			}
			if current == nil || !current.AuditExpired(now) {
				return nil
			}
			current.Listed = false
			current.AuditStatus = model.AuditStatusPending
			current.AuditExpiresAt = nil
			return s.store.UpdatePackage(ctx, current)
		})
		if err != nil {
			s.log.Warn("Failed to expire package audit", "package_id", pkgID, "error", err.Error())
			continue
		}
		processed++
		s.log.Info("Package audit expired, delisted", "package_id", pkgID)
	}
	return processed, nil
}

// getOwned 加载知识包并校验调用方是当前所有者
func (s *Service) getOwned(ctx context.Context, packageID, ownerID string) (*model.KnowledgePackage, error) {
	pkg, err := s.Get(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.OwnerID != ownerID {
		return nil, errdefs.Unauthorizedf("agent %s does not own package %s", ownerID, packageID)
	}
	return pkg, nil
}

package knowledge

import (
	"context"
	"testing"
	"time"

	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	sqlitedriver "nervix-hub/internal/shared/storage/driver/sqlite"
	"nervix-hub/internal/shared/storage/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, storage.PersistentStore) {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return NewService(store, nil), store
}

func seedOwner(t *testing.T, store storage.PersistentStore, id string) *model.Agent {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	agent := &model.Agent{
		ID: id, Name: "owner-" + id,
		Roles: []model.AgentRole{model.RoleCoder}, Status: model.AgentStatusActive,
		CreditBalance:      model.InitialCreditBalance,
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: model.DefaultMaxConcurrentTasks,
		CreatedAt:          now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAgent(context.Background(), agent))
	return agent
}

func TestRegister(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()
	owner := seedOwner(t, st, "agt-000000000001")

	pkg, err := s.Register(ctx, &RegisterRequest{
		OwnerID:     owner.ID,
		Name:        "k8s-troubleshooting",
		Domain:      "kubernetes",
		RootHash:    "abc123",
		ModuleCount: 8,
		TestCount:   20,
		Proficiency: model.ProficiencyExpert,
	})
	require.NoError(t, err)

	assert.Equal(t, owner.ID, pkg.OwnerID)
	assert.Equal(t, model.AuditStatusPending, pkg.AuditStatus)
	assert.False(t, pkg.Listed)
	assert.Equal(t, "0.000000", pkg.FairMarketValue)

	stored, err := s.Get(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProficiencyExpert, stored.Proficiency)
	assert.Equal(t, 8, stored.ModuleCount)
}

func TestRegisterValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedOwner(t, store, "agt-000000000001")

	suspended := seedOwner(t, store, "agt-000000000002")
	suspended.Status = model.AgentStatusSuspended
	require.NoError(t, store.UpdateAgent(ctx, suspended))

	valid := func() *RegisterRequest {
		return &RegisterRequest{
			OwnerID: owner.ID, Name: "pkg", RootHash: "h1", ModuleCount: 1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RegisterRequest)
		wantErr func(error) bool
	}{
		{"缺少名称", func(r *RegisterRequest) { r.Name = "" }, errdefs.IsValidation},
		{"缺少根哈希", func(r *RegisterRequest) { r.RootHash = "" }, errdefs.IsValidation},
		{"模块数为零", func(r *RegisterRequest) { r.ModuleCount = 0 }, errdefs.IsValidation},
		{"测试数为负", func(r *RegisterRequest) { r.TestCount = -1 }, errdefs.IsValidation},
		{"所有者不存在", func(r *RegisterRequest) { r.OwnerID = "agt-ffffffffffff" }, errdefs.IsNotFound},
		{"所有者被暂停", func(r *RegisterRequest) { r.OwnerID = suspended.ID }, errdefs.IsInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			_, err := svc.Register(ctx, req)
			require.Error(t, err)
			assert.True(t, tt.wantErr(err))
		})
	}
}

func TestRegisterDefaultProficiency(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedOwner(t, store, "agt-000000000001")

	pkg, err := svc.Register(ctx, &RegisterRequest{
		OwnerID: owner.ID, Name: "pkg", RootHash: "h1", ModuleCount: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProficiencyIntermediate, pkg.Proficiency)
}

func TestMarketplaceAndDelist(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedOwner(t, store, "agt-000000000001")
	other := seedOwner(t, store, "agt-000000000002")

	pkg, err := svc.Register(ctx, &RegisterRequest{
		OwnerID: owner.ID, Name: "pkg", RootHash: "h1", ModuleCount: 4, TestCount: 10,
	})
	require.NoError(t, err)

	// 模拟审计通过上架
	expires := time.Now().UTC().Add(24 * time.Hour)
	pkg.AuditStatus = model.AuditStatusApproved
	pkg.Listed = true
	pkg.ListingPrice = "60.000000"
	pkg.AuditExpiresAt = &expires
	require.NoError(t, store.UpdatePackage(ctx, pkg))

	listed, err := svc.Marketplace(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, pkg.ID, listed[0].ID)

	// 非所有者不可下架
	_, err = svc.Delist(ctx, other.ID, pkg.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnauthorized(err))

	delisted, err := svc.Delist(ctx, owner.ID, pkg.ID)
	require.NoError(t, err)
	assert.False(t, delisted.Listed)

	listed, err = svc.Marketplace(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)

	// 重复下架
	_, err = svc.Delist(ctx, owner.ID, pkg.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))
}

func TestExpireAudits(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedOwner(t, store, "agt-000000000001")
	now := time.Now().UTC()

	expired, err := svc.Register(ctx, &RegisterRequest{
		OwnerID: owner.ID, Name: "stale", RootHash: "h1", ModuleCount: 2,
	})
	require.NoError(t, err)
	past := now.Add(-time.Hour)
	expired.AuditStatus = model.AuditStatusApproved
	expired.Listed = true
	expired.AuditExpiresAt = &past
	require.NoError(t, store.UpdatePackage(ctx, expired))

	fresh, err := svc.Register(ctx, &RegisterRequest{
		OwnerID: owner.ID, Name: "fresh", RootHash: "h2", ModuleCount: 2,
	})
	require.NoError(t, err)
	future := now.Add(time.Hour)
	fresh.AuditStatus = model.AuditStatusApproved
	fresh.Listed = true
	fresh.AuditExpiresAt = &future
	require.NoError(t, store.UpdatePackage(ctx, fresh))

	processed, err := svc.ExpireAudits(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	got, err := svc.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, got.Listed)
	assert.Equal(t, model.AuditStatusPending, got.AuditStatus)
	assert.Nil(t, got.AuditExpiresAt)

	got, err = svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Listed)
}

func TestArchiveUnconfigured(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedOwner(t, store, "agt-000000000001")

	pkg, err := svc.Register(ctx, &RegisterRequest{
		OwnerID: owner.ID, Name: "pkg", RootHash: "h1", ModuleCount: 1,
	})
	require.NoError(t, err)

	_, err = svc.DownloadURL(ctx, owner.ID, pkg.ID, time.Minute)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

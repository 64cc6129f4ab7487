package barter

import (
	"context"
	"errors"
	"testing"
	"time"

	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	sqlitedriver "nervix-hub/internal/shared/storage/driver/sqlite"
	"nervix-hub/internal/shared/storage/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, storage.PersistentStore) {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	recorder := events.NewRecorder(store, nil)
	eco := economy.NewEngine(store, recorder, credit.DefaultSchedule())
	return NewEngine(store, eco, recorder, nil, DefaultConfig()), store
}

func seedAgent(t *testing.T, store storage.PersistentStore, id string) *model.Agent {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	agent := &model.Agent{
		ID: id, Name: "agent-" + id,
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

// seedListedPackage 造一个审计通过且上架的知识包
func seedListedPackage(t *testing.T, store storage.PersistentStore, ownerID, fmv string) *model.KnowledgePackage {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(48 * time.Hour)
	pkg := &model.KnowledgePackage{
		ID:              model.NewID(model.PrefixPackage),
		OwnerID:         ownerID,
		Name:            "pkg-of-" + ownerID,
		RootHash:        "hash-" + model.NewID("x"),
		ModuleCount:     4,
		TestCount:       8,
		Proficiency:     model.ProficiencyIntermediate,
		AuditStatus:     model.AuditStatusApproved,
		QualityScore:    85,
		FairMarketValue: fmv,
		Listed:          true,
		ListingPrice:    fmv,
		AuditExpiresAt:  &expires,
		CreatedAt:       now, UpdatedAt: now,
	}
	require.NoError(t, store.CreatePackage(context.Background(), pkg))
	return pkg
}

func TestProposeFairTrade(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "110.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)

	assert.Equal(t, model.BarterStatusProposed, barter.Status)
	assert.Equal(t, model.FeeStatusPending, barter.FeeStatus)
	assert.Equal(t, responder.ID, barter.ResponderID)
	assert.Equal(t, "100.000000", barter.OfferedFMV)
	assert.Equal(t, "110.000000", barter.RequestedFMV)
	// |100-110| / 105 ≈ 9.52%
	assert.Equal(t, "9.52", barter.FMVDifferencePercent)
	// (100/20) * 1.5% = 0.075 TON，高于下限 0.02
	assert.Equal(t, "0.075000000", barter.PerSideFeeTON)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), barter.Deadline, time.Minute)
}

func TestProposeMinimumFee(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "5.000000")
	requested := seedListedPackage(t, store, responder.ID, "5.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	// (5/20) * 1.5% = 0.00375，取下限 0.02
	assert.Equal(t, "0.020000000", barter.PerSideFeeTON)
}

func TestProposeValidation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "100.000000")
	own2 := seedListedPackage(t, store, proposer.ID, "50.000000")

	unlisted := seedListedPackage(t, store, responder.ID, "80.000000")
	unlisted.Listed = false
	require.NoError(t, store.UpdatePackage(ctx, unlisted))

	tests := []struct {
		name      string
		responder string
		offered   string
		requested string
		wantErr   func(error) bool
	}{
		{"与自己交易", proposer.ID, offered.ID, requested.ID, errdefs.IsValidation},
		{"同一个包", responder.ID, offered.ID, offered.ID, errdefs.IsValidation},
		{"出让包不属于提议方", responder.ID, requested.ID, offered.ID, errdefs.IsUnauthorized},
		{"要价包不属于响应方", responder.ID, offered.ID, own2.ID, errdefs.IsUnauthorized},
		{"要价包未上架", responder.ID, offered.ID, unlisted.ID, errdefs.IsInvalidState},
		{"要价包不存在", responder.ID, offered.ID, "pkg-ffffffffffff", errdefs.IsNotFound},
		{"响应方不存在", "agt-ffffffffffff", offered.ID, requested.ID, errdefs.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Propose(ctx, proposer.ID, tt.responder, tt.offered, tt.requested)
			require.Error(t, err)
			assert.True(t, tt.wantErr(err))
		})
	}
}

func TestOpenProposalRequiresCounter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	alternative := seedListedPackage(t, store, responder.ID, "95.000000")

	// 开放提议：不指定要价包，估值差暂无
	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, "")
	require.NoError(t, err)
	assert.Empty(t, barter.RequestedPackageID)
	assert.Empty(t, barter.RequestedFMV)
	assert.Empty(t, barter.FMVDifferencePercent)

	// 未经还价指定要价包不可接受
	_, err = engine.Accept(ctx, responder.ID, barter.ID, false)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))

	// 还价补齐要价包后可接受
	_, err = engine.Counter(ctx, responder.ID, barter.ID, alternative.ID)
	require.NoError(t, err)
	accepted, err := engine.Accept(ctx, responder.ID, barter.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusAccepted, accepted.Status)
	assert.Equal(t, alternative.ID, accepted.RequestedPackageID)
}

func TestAcceptFairnessGuarantee(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	// 100 vs 50：差值/均值 = 50/75 ≈ 67% > 30%
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "50.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	assert.Equal(t, "66.67", barter.FMVDifferencePercent)

	// 未确认公平性不可接受
	_, err = engine.Accept(ctx, responder.ID, barter.ID, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrFairnessViolation))

	got, err := engine.Get(ctx, barter.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusProposed, got.Status)

	// 显式确认后可接受
	accepted, err := engine.Accept(ctx, responder.ID, barter.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusAccepted, accepted.Status)
	assert.True(t, accepted.FairnessAcked)
}

func TestAcceptAuthorization(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	outsider := seedAgent(t, store, "agt-000000000003")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "100.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)

	for _, caller := range []string{outsider.ID, proposer.ID} {
		_, err = engine.Accept(ctx, caller, barter.ID, true)
		require.Error(t, err)
		assert.True(t, errdefs.IsUnauthorized(err))
	}
}

func TestCounter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "40.000000")
	alternative := seedListedPackage(t, store, responder.ID, "95.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	// |100-40| / 70 ≈ 85.71%，超出容忍阈值
	assert.Equal(t, "85.71", barter.FMVDifferencePercent)

	countered, err := engine.Counter(ctx, responder.ID, barter.ID, alternative.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusCountered, countered.Status)
	assert.Equal(t, alternative.ID, countered.RequestedPackageID)
	assert.Equal(t, "95.000000", countered.RequestedFMV)
	assert.Equal(t, "5.13", countered.FMVDifferencePercent)

	accepted, err := engine.Accept(ctx, responder.ID, barter.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusAccepted, accepted.Status)
}

func TestFullLifecycle(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	_, err = engine.Accept(ctx, responder.ID, barter.ID, false)
	require.NoError(t, err)

	// 提议方确认手续费
	b, err := engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "ton-tx-aaa")
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusAccepted, b.Status)
	assert.Equal(t, model.FeeStatusPartiallyPaid, b.FeeStatus)

	// 同凭证重复提交幂等
	b, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "ton-tx-aaa")
	require.NoError(t, err)
	assert.Equal(t, model.FeeStatusPartiallyPaid, b.FeeStatus)

	// 换凭证重复提交被拒
	_, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "ton-tx-zzz")
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

	// 响应方确认 → 费用锁定
	b, err = engine.ConfirmFeePaid(ctx, responder.ID, barter.ID, "ton-tx-bbb")
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusFeeLocked, b.Status)
	assert.Equal(t, model.FeeStatusLocked, b.FeeStatus)

	// 每方一条手续费流水（TON 记在 Fee 列，信用点金额为零）
	entries, err := store.ListLedgerEntries(ctx, storage.LedgerFilter{RefID: barter.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, model.TxnBarterFee, entry.Type)
		assert.Equal(t, "0.000000", entry.Amount)
		assert.Equal(t, b.PerSideFeeTON, entry.Fee)
	}

	// 单方核验通过 → verifying
	b, err = engine.Verify(ctx, proposer.ID, barter.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusVerifying, b.Status)
	assert.True(t, b.ProposerVerified)
	assert.False(t, b.ResponderVerified)

	// 双方核验通过 → completed，成交计数 +1，所有权不变
	b, err = engine.Verify(ctx, responder.ID, barter.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusCompleted, b.Status)
	assert.Equal(t, model.FeeStatusReleased, b.FeeStatus)
	require.NotNil(t, b.CompletedAt)

	gotOffered, err := store.GetPackage(ctx, offered.ID)
	require.NoError(t, err)
	assert.Equal(t, proposer.ID, gotOffered.OwnerID)
	assert.Equal(t, 1, gotOffered.TotalTrades)

	gotRequested, err := store.GetPackage(ctx, requested.ID)
	require.NoError(t, err)
	assert.Equal(t, responder.ID, gotRequested.OwnerID)
	assert.Equal(t, 1, gotRequested.TotalTrades)

	// 终态后不可再操作
	_, err = engine.Verify(ctx, proposer.ID, barter.ID, true)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))
}

func TestVerifyFailureKeepsVerifying(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	_, err = engine.Accept(ctx, responder.ID, barter.ID, false)
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "tx-a")
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, responder.ID, barter.ID, "tx-b")
	require.NoError(t, err)

	// 一方核验未通过，另一方通过：不完成
	_, err = engine.Verify(ctx, proposer.ID, barter.ID, false)
	require.NoError(t, err)
	b, err := engine.Verify(ctx, responder.ID, barter.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusVerifying, b.Status)
	assert.False(t, b.ProposerVerified)
	assert.True(t, b.ResponderVerified)

	// 成交计数不应变动
	gotOffered, err := store.GetPackage(ctx, offered.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotOffered.TotalTrades)

	// 重新核验通过后完成
	b, err = engine.Verify(ctx, proposer.ID, barter.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusCompleted, b.Status)
}

func TestConfirmFeeWrongState(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)

	// 未接受前不可付费
	_, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "ton-tx-aaa")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))

	// 未付费前不可核验
	_, err = engine.Verify(ctx, proposer.ID, barter.ID, true)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))
}

func TestCancel(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)

	cancelled, err := engine.Cancel(ctx, responder.ID, barter.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusCancelled, cancelled.Status)

	// 费用锁定后不可取消
	barter2, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	_, err = engine.Accept(ctx, responder.ID, barter2.ID, false)
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter2.ID, "tx-a")
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, responder.ID, barter2.ID, "tx-b")
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, proposer.ID, barter2.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))
}

func TestCancelRefundsPartialFee(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	_, err = engine.Accept(ctx, responder.ID, barter.ID, false)
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "tx-a")
	require.NoError(t, err)

	cancelled, err := engine.Cancel(ctx, proposer.ID, barter.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FeeStatusRefunded, cancelled.FeeStatus)
}

func TestDispute(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)
	_, err = engine.Accept(ctx, responder.ID, barter.ID, false)
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, proposer.ID, barter.ID, "tx-a")
	require.NoError(t, err)
	_, err = engine.ConfirmFeePaid(ctx, responder.ID, barter.ID, "tx-b")
	require.NoError(t, err)
	_, err = engine.Verify(ctx, proposer.ID, barter.ID, true)
	require.NoError(t, err)

	disputed, err := engine.Dispute(ctx, responder.ID, barter.ID, "archive does not match root hash")
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusDisputed, disputed.Status)
}

func TestExpire(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	proposer := seedAgent(t, store, "agt-000000000001")
	responder := seedAgent(t, store, "agt-000000000002")
	offered := seedListedPackage(t, store, proposer.ID, "100.000000")
	requested := seedListedPackage(t, store, responder.ID, "90.000000")

	barter, err := engine.Propose(ctx, proposer.ID, responder.ID, offered.ID, requested.ID)
	require.NoError(t, err)

	// 未到截止时间不可过期
	_, err = engine.Expire(ctx, barter.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))

	// 回拨截止时间
	stored, err := store.GetBarter(ctx, barter.ID)
	require.NoError(t, err)
	stored.Deadline = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.UpdateBarter(ctx, stored))

	expired, err := engine.Expire(ctx, barter.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BarterStatusExpired, expired.Status)

	// 终态不可再过期
	_, err = engine.Expire(ctx, barter.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))
}

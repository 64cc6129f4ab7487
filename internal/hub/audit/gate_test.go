package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	sqlitedriver "nervix-hub/internal/shared/storage/driver/sqlite"
	"nervix-hub/internal/shared/storage/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedScorer 按检查项返回固定分数，缺省 90
type fixedScorer struct {
	scores map[string]int
}

func (f *fixedScorer) Score(_ *model.KnowledgePackage, check string) int {
	if s, ok := f.scores[check]; ok {
		return s
	}
	return 90
}

func newTestGate(t *testing.T, scorer Scorer) (*Gate, *reputation.Engine, storage.PersistentStore) {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	recorder := events.NewRecorder(store, nil)
	rep := reputation.NewEngine(store, recorder, reputation.DefaultConfig())
	return NewGate(store, rep, scorer, recorder, nil), rep, store
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

func seedPackage(t *testing.T, store storage.PersistentStore, ownerID string, modules, tests int, level model.ProficiencyLevel) *model.KnowledgePackage {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	pkg := &model.KnowledgePackage{
		ID:              model.NewID(model.PrefixPackage),
		OwnerID:         ownerID,
		Name:            "pkg",
		RootHash:        "roothash-" + ownerID,
		ModuleCount:     modules,
		TestCount:       tests,
		Proficiency:     level,
		AuditStatus:     model.AuditStatusPending,
		FairMarketValue: "0.000000",
		ListingPrice:    "0.000000",
		CreatedAt:       now, UpdatedAt: now,
	}
	require.NoError(t, store.CreatePackage(context.Background(), pkg))
	return pkg
}

func TestAuditApproves(t *testing.T) {
	// 全项 90 分 → 质量 90 → approved
	gate, _, store := newTestGate(t, &fixedScorer{})
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	auditor := seedAgent(t, store, "agt-000000000002")
	pkg := seedPackage(t, store, owner.ID, 8, 20, model.ProficiencyExpert)

	audit, err := gate.Audit(ctx, auditor.ID, pkg.ID)
	require.NoError(t, err)

	assert.Equal(t, 90, audit.QualityScore)
	assert.Equal(t, model.VerdictApproved, audit.Verdict)
	assert.Len(t, audit.Checks, 6)
	// FMV = (8*5 + 20*2) * 0.90 * 2.0 = 144
	assert.Equal(t, "144.000000", audit.FairMarketValue)
	assert.Empty(t, audit.Findings)

	updated, err := store.GetPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AuditStatusApproved, updated.AuditStatus)
	assert.True(t, updated.Listed)
	assert.Equal(t, "144.000000", updated.ListingPrice)
	assert.Equal(t, 90, updated.QualityScore)
	require.NotNil(t, updated.AuditExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, model.AuditValidityDays), *updated.AuditExpiresAt, time.Minute)

	// 所有者声誉质量分被回填：0.7*0.5 + 0.3*0.9 = 0.62
	rep, err := store.GetReputation(ctx, owner.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.62, rep.QualityScore, 1e-9)
}

func TestAuditVerdicts(t *testing.T) {
	tests := []struct {
		name        string
		score       int
		wantVerdict model.AuditVerdict
		wantStatus  model.AuditStatus
		wantListed  bool
	}{
		{"通过并上架", 75, model.VerdictApproved, model.AuditStatusApproved, true},
		{"有条件通过不上架", 60, model.VerdictConditional, model.AuditStatusConditional, false},
		{"未通过", 40, model.VerdictRejected, model.AuditStatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fixedScorer{scores: map[string]int{
				CheckCompilability:   tt.score,
				CheckOriginality:     tt.score,
				CheckCategoryMatch:   tt.score,
				CheckSecurityScan:    tt.score,
				CheckCompleteness:    tt.score,
				CheckTeachingQuality: tt.score,
			}}
			gate, _, store := newTestGate(t, scorer)
			ctx := context.Background()
			owner := seedAgent(t, store, "agt-000000000001")
			auditor := seedAgent(t, store, "agt-000000000002")
			pkg := seedPackage(t, store, owner.ID, 4, 8, model.ProficiencyIntermediate)

			audit, err := gate.Audit(ctx, auditor.ID, pkg.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.score, audit.QualityScore)
			assert.Equal(t, tt.wantVerdict, audit.Verdict)

			updated, err := store.GetPackage(ctx, pkg.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, updated.AuditStatus)
			assert.Equal(t, tt.wantListed, updated.Listed)
			if tt.wantVerdict == model.VerdictRejected {
				assert.Nil(t, updated.AuditExpiresAt)
			} else {
				assert.NotNil(t, updated.AuditExpiresAt)
			}
		})
	}
}

func TestAuditFindingsOnFailedChecks(t *testing.T) {
	scorer := &fixedScorer{scores: map[string]int{CheckSecurityScan: 40}}
	gate, _, store := newTestGate(t, scorer)
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	auditor := seedAgent(t, store, "agt-000000000002")
	pkg := seedPackage(t, store, owner.ID, 4, 8, model.ProficiencyIntermediate)

	audit, err := gate.Audit(ctx, auditor.ID, pkg.ID)
	require.NoError(t, err)

	// (90*80 + 40*20) / 100 = 80，仍 approved，但有发现项
	assert.Equal(t, 80, audit.QualityScore)
	require.Len(t, audit.Findings, 1)
	assert.Contains(t, audit.Findings[0], CheckSecurityScan)

	for _, check := range audit.Checks {
		if check.Name == CheckSecurityScan {
			assert.False(t, check.Passed)
		} else {
			assert.True(t, check.Passed)
		}
	}
}

func TestAuditSelfAuditRejected(t *testing.T) {
	gate, _, store := newTestGate(t, &fixedScorer{})
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	pkg := seedPackage(t, store, owner.ID, 2, 4, model.ProficiencyBeginner)

	_, err := gate.Audit(ctx, owner.ID, pkg.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnauthorized(err))
}

func TestAuditIneligibleAuditor(t *testing.T) {
	gate, rep, store := newTestGate(t, &fixedScorer{})
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	auditor := seedAgent(t, store, "agt-000000000002")
	pkg := seedPackage(t, store, owner.ID, 2, 4, model.ProficiencyBeginner)

	// 连续失败把审计人声誉打到阈值以下
	for i := 0; i < 8; i++ {
		require.NoError(t, rep.RecordTaskFailure(ctx, auditor.ID))
	}

	_, err := gate.Audit(ctx, auditor.ID, pkg.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsUnauthorized(err))

	// 未通过资格检查不应触碰包状态
	updated, err := store.GetPackage(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AuditStatusPending, updated.AuditStatus)
}

func TestAuditBarrier(t *testing.T) {
	gate, _, store := newTestGate(t, &fixedScorer{})
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	auditor := seedAgent(t, store, "agt-000000000002")
	second := seedAgent(t, store, "agt-000000000003")
	pkg := seedPackage(t, store, owner.ID, 2, 4, model.ProficiencyIntermediate)

	_, err := gate.Audit(ctx, auditor.ID, pkg.ID)
	require.NoError(t, err)

	// 已审计的包不可重复审计
	_, err = gate.Audit(ctx, second.ID, pkg.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrAlreadyAudited))
}

func TestContentScorerDeterministic(t *testing.T) {
	scorer := NewContentScorer()
	pkg := &model.KnowledgePackage{RootHash: "deadbeef", ModuleCount: 4, TestCount: 8}

	for _, cw := range checkWeights {
		a := scorer.Score(pkg, cw.name)
		b := scorer.Score(pkg, cw.name)
		assert.Equal(t, a, b, cw.name)
		assert.GreaterOrEqual(t, a, 0)
		assert.LessOrEqual(t, a, 100)
	}
}

func TestLatestAndByAuditor(t *testing.T) {
	gate, _, store := newTestGate(t, &fixedScorer{})
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	auditor := seedAgent(t, store, "agt-000000000002")
	pkg := seedPackage(t, store, owner.ID, 2, 4, model.ProficiencyIntermediate)

	created, err := gate.Audit(ctx, auditor.ID, pkg.ID)
	require.NoError(t, err)

	latest, err := gate.Latest(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, latest.ID)

	history, err := gate.ByAuditor(ctx, auditor.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)

	_, err = gate.Latest(ctx, "pkg-ffffffffffff")
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestAuditCheckCatalog(t *testing.T) {
	gate, _, store := newTestGate(t, &fixedScorer{})
	ctx := context.Background()
	owner := seedAgent(t, store, "agt-000000000001")
	auditor := seedAgent(t, store, "agt-000000000002")
	pkg := seedPackage(t, store, owner.ID, 2, 4, model.ProficiencyIntermediate)

	audit, err := gate.Audit(ctx, auditor.ID, pkg.ID)
	require.NoError(t, err)

	want := map[string]int{
		CheckCompilability:   20,
		CheckOriginality:     15,
		CheckCategoryMatch:   15,
		CheckSecurityScan:    20,
		CheckCompleteness:    15,
		CheckTeachingQuality: 15,
	}
	require.Len(t, audit.Checks, len(want))
	total := 0
	for _, check := range audit.Checks {
		assert.Equal(t, want[check.Name], check.Weight, check.Name)
		total += check.Weight
	}
	assert.Equal(t, 100, total)
}

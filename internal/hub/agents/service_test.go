package agents

import (
	"context"
	"testing"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/cache"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	sqlitedriver "nervix-hub/internal/shared/storage/driver/sqlite"
	"nervix-hub/internal/shared/storage/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// presenceRecorder 记录在线状态写入的内存实现
type presenceRecorder struct {
	cache.NoOpCache
	updated map[string]*cache.AgentPresence
	deleted []string
}

func newPresenceRecorder() *presenceRecorder {
	return &presenceRecorder{updated: make(map[string]*cache.AgentPresence)}
}

func (p *presenceRecorder) UpdateAgentPresence(_ context.Context, agentID string, presence *cache.AgentPresence) error {
	p.updated[agentID] = presence
	return nil
}

func (p *presenceRecorder) DeleteAgentPresence(_ context.Context, agentID string) error {
	p.deleted = append(p.deleted, agentID)
	return nil
}

func newTestService(t *testing.T) (*Service, *presenceRecorder, storage.PersistentStore) {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	dialect := sqlitedriver.NewDialect()
	require.NoError(t, dialect.AutoMigrate(db))
	store := repository.NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })

	recorder := events.NewRecorder(store, nil)
	rep := reputation.NewEngine(store, recorder, reputation.DefaultConfig())
	presence := newPresenceRecorder()
	return NewService(store, rep, presence, nil, recorder, nil), presence, store
}

func seedAgent(t *testing.T, store storage.PersistentStore, id string, status model.AgentStatus) *model.Agent {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	agent := &model.Agent{
		ID: id, Name: "agent-" + id,
		Roles: []model.AgentRole{model.RoleCoder}, Status: status,
		CreditBalance:      model.InitialCreditBalance,
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: model.DefaultMaxConcurrentTasks,
		CreatedAt:          now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAgent(context.Background(), agent))
	return agent
}

func TestHeartbeat(t *testing.T) {
	svc, presence, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusActive)

	err := svc.Heartbeat(ctx, agent.ID, HeartbeatReport{ActiveTasks: 2, CPUPercent: 35.5, MemoryPercent: 50})
	require.NoError(t, err)

	// 持久层时间戳已刷新
	got, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeatAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastHeartbeatAt, time.Minute)

	// 在线缓存已更新
	p, ok := presence.updated[agent.ID]
	require.True(t, ok)
	assert.Equal(t, 2, p.ActiveTasks)
	assert.InDelta(t, 35.5, p.CPUPercent, 1e-9)

	// 心跳流水落库
	count, err := store.CountHeartbeatsSince(ctx, agent.ID, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHeartbeatReactivatesOffline(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusOffline)

	require.NoError(t, svc.Heartbeat(ctx, agent.ID, HeartbeatReport{}))

	got, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusActive, got.Status)
}

func TestHeartbeatRejectedWhenSuspended(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusSuspended)

	err := svc.Heartbeat(ctx, agent.ID, HeartbeatReport{})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))

	err = svc.Heartbeat(ctx, "agt-ffffffffffff", HeartbeatReport{})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestRecordUptime(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusActive)

	// 窗口内 60 跳，正好是期望的一半 → 在线率 0.5
	for i := 0; i < expectedHeartbeats/2; i++ {
		require.NoError(t, store.CreateHeartbeatLog(ctx, &model.HeartbeatLog{
			AgentID:   agent.ID,
			CreatedAt: time.Now().UTC().Add(-time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, svc.RecordUptime(ctx, agent.ID))

	rep, err := store.GetReputation(ctx, agent.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rep.UptimeScore, 1e-9)
}

func TestUpdateProfile(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusActive)

	display := "Worker One"
	limit := 5
	updated, err := svc.UpdateProfile(ctx, agent.ID, ProfileUpdate{
		DisplayName:        &display,
		MaxConcurrentTasks: &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, "Worker One", updated.DisplayName)
	assert.Equal(t, 5, updated.MaxConcurrentTasks)

	bad := 0
	_, err = svc.UpdateProfile(ctx, agent.ID, ProfileUpdate{MaxConcurrentTasks: &bad})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

}

func TestReplaceCapabilities(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusActive)

	caps, err := svc.ReplaceCapabilities(ctx, agent.ID, []CapabilityDecl{
		{SkillID: "skl-1", SkillName: "kubernetes", Tags: []string{"k8s"}, Proficiency: model.ProficiencyExpert},
		{SkillID: "skl-2", SkillName: "terraform", Proficiency: model.ProficiencyIntermediate},
	})
	require.NoError(t, err)
	require.Len(t, caps, 2)

	stored, err := svc.Capabilities(ctx, agent.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// 全量替换：旧技能被清掉
	_, err = svc.ReplaceCapabilities(ctx, agent.ID, []CapabilityDecl{
		{SkillID: "skl-3", SkillName: "ansible", Proficiency: model.ProficiencyAdvanced},
	})
	require.NoError(t, err)
	stored, err = svc.Capabilities(ctx, agent.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "ansible", stored[0].SkillName)

	// 非法熟练度
	_, err = svc.ReplaceCapabilities(ctx, agent.ID, []CapabilityDecl{
		{SkillName: "golang", Proficiency: "grandmaster"},
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

}

func TestSuspendAndReactivate(t *testing.T) {
	svc, presence, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusActive)

	require.NoError(t, svc.Suspend(ctx, agent.ID, "manual review"))

	got, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusSuspended, got.Status)
	assert.Equal(t, "manual review", got.SuspendReason)
	assert.Contains(t, presence.deleted, agent.ID)

	// 幂等
	require.NoError(t, svc.Suspend(ctx, agent.ID, "again"))

	require.NoError(t, svc.Reactivate(ctx, agent.ID))
	got, err = store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusActive, got.Status)
	assert.Empty(t, got.SuspendReason)

	// 未停用时恢复报错
	err = svc.Reactivate(ctx, agent.ID)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidState(err))
}

func TestMarkOffline(t *testing.T) {
	svc, presence, store := newTestService(t)
	ctx := context.Background()
	agent := seedAgent(t, store, "agt-000000000001", model.AgentStatusActive)

	require.NoError(t, svc.MarkOffline(ctx, agent.ID))

	got, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AgentStatusOffline, got.Status)
	assert.Contains(t, presence.deleted, agent.ID)

	// 非 active 状态下为空操作
	require.NoError(t, svc.MarkOffline(ctx, agent.ID))
}

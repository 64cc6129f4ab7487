package matching

import (
	"context"
	"testing"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/queue"
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

	engine := NewEngine(store, queue.NewNoOpQueue(), nil,
		events.NewRecorder(store, nil), nil, DefaultConfig())
	return engine, store
}

func seedAgent(t *testing.T, store storage.PersistentStore, id, name string, roles []model.AgentRole, caps ...*model.Capability) *model.Agent {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	agent := &model.Agent{
		ID: id, Name: name, Roles: roles,
		Status:             model.AgentStatusActive,
		CreditBalance:      model.InitialCreditBalance,
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: model.DefaultMaxConcurrentTasks,
		LastHeartbeatAt:    &now,
		CreatedAt:          now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAgent(ctx, agent))

	for i := range caps {
		caps[i].ID = model.NewID(model.PrefixCapability)
		caps[i].AgentID = id
		caps[i].CreatedAt = now
	}
	if len(caps) > 0 {
		require.NoError(t, store.ReplaceCapabilities(ctx, id, caps))
	}
	return agent
}

func seedTask(t *testing.T, store storage.PersistentStore, id, requesterID string, skills []string, roles ...model.AgentRole) *model.Task {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	task := &model.Task{
		ID: id, Title: "task " + id,
		RequiredSkills: skills, RequiredRoles: roles,
		RequesterID: requesterID,
		CreatedAt:   now, UpdatedAt: now,
	}
	task.ApplyDefaults()
	require.NoError(t, store.CreateTask(context.Background(), task))
	return task
}

func TestMatchTask(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedAgent(t, store, "agt-000000000001", "requester", []model.AgentRole{model.RoleOrchestrator})
	seedAgent(t, store, "agt-000000000002", "go-expert", []model.AgentRole{model.RoleCoder},
		&model.Capability{SkillID: "skill-go", SkillName: "Go Development",
			Tags: []string{"go"}, Proficiency: model.ProficiencyExpert})
	seedAgent(t, store, "agt-000000000003", "go-novice", []model.AgentRole{model.RoleCoder},
		&model.Capability{SkillID: "skill-go", SkillName: "Go Development",
			Tags: []string{"go"}, Proficiency: model.ProficiencyBeginner})

	task := seedTask(t, store, "tsk-000000000001", "agt-000000000001", []string{"go"}, model.RoleCoder)

	result, err := engine.MatchTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "agt-000000000002", result.AgentID)

	got, _ := store.GetTask(ctx, task.ID)
	assert.Equal(t, model.TaskStatusAssigned, got.Status)
	require.NotNil(t, got.AssignedAgentID)
	assert.Equal(t, "agt-000000000002", *got.AssignedAgentID)
	assert.NotNil(t, got.AssignedAt)

	// 槽位已占用
	agent, _ := store.GetAgent(ctx, "agt-000000000002")
	assert.Equal(t, 1, agent.ActiveTasks)

	// 分配事件落库
	evs, err := store.ListEventsBySubject(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventTaskAssigned, evs[0].Type)

	// 已分配的任务不可再撮合
	_, err = engine.MatchTask(ctx, task.ID)
	assert.ErrorIs(t, err, errdefs.ErrInvalidState)
}

func TestMatchTaskExcludesRequester(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// 发布方自己是唯一符合条件的 Agent
	seedAgent(t, store, "agt-000000000001", "self", []model.AgentRole{model.RoleCoder},
		&model.Capability{SkillID: "skill-go", SkillName: "Go", Tags: []string{"go"},
			Proficiency: model.ProficiencyExpert})
	task := seedTask(t, store, "tsk-000000000001", "agt-000000000001", []string{"go"})

	_, err := engine.MatchTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNoMatch)

	got, _ := store.GetTask(ctx, task.ID)
	assert.Equal(t, model.TaskStatusQueued, got.Status)
}

func TestMatchTaskNoSkillOverlap(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedAgent(t, store, "agt-000000000001", "requester", []model.AgentRole{model.RoleOrchestrator})
	seedAgent(t, store, "agt-000000000002", "painter", []model.AgentRole{model.RoleCoder},
		&model.Capability{SkillID: "skill-paint", SkillName: "Painting",
			Proficiency: model.ProficiencyExpert})
	task := seedTask(t, store, "tsk-000000000001", "agt-000000000001", []string{"go"})

	_, err := engine.MatchTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchTaskRoleFilter(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedAgent(t, store, "agt-000000000001", "requester", []model.AgentRole{model.RoleOrchestrator})
	seedAgent(t, store, "agt-000000000002", "qa-agent", []model.AgentRole{model.RoleQA})
	task := seedTask(t, store, "tsk-000000000001", "agt-000000000001", nil, model.RoleCoder)

	_, err := engine.MatchTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNoMatch)

	// 角色匹配后成功
	seedAgent(t, store, "agt-000000000003", "coder-agent", []model.AgentRole{model.RoleCoder})
	result, err := engine.MatchTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "agt-000000000003", result.AgentID)
}

func TestMatchTaskMultiRoleAnyOverlap(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedAgent(t, store, "agt-000000000001", "requester", []model.AgentRole{model.RoleOrchestrator})
	// docs 身份与要求的 {coder, qa} 无交集
	seedAgent(t, store, "agt-000000000002", "writer", []model.AgentRole{model.RoleDocs})
	task := seedTask(t, store, "tsk-000000000001", "agt-000000000001", nil,
		model.RoleCoder, model.RoleQA)

	_, err := engine.MatchTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNoMatch)

	// 多重身份只要有一个角色在要求集合内即可命中
	seedAgent(t, store, "agt-000000000003", "hybrid",
		[]model.AgentRole{model.RoleDocs, model.RoleQA})
	result, err := engine.MatchTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "agt-000000000003", result.AgentID)
}

func TestMatchTaskCapacityExhausted(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedAgent(t, store, "agt-000000000001", "requester", []model.AgentRole{model.RoleOrchestrator})
	worker := seedAgent(t, store, "agt-000000000002", "worker", []model.AgentRole{model.RoleCoder})

	// 占满唯一候选的全部槽位
	for i := 0; i < worker.MaxConcurrentTasks; i++ {
		require.NoError(t, store.ReserveTaskSlot(ctx, worker.ID))
	}

	task := seedTask(t, store, "tsk-000000000001", "agt-000000000001", nil)
	_, err := engine.MatchTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchQueued(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedAgent(t, store, "agt-000000000001", "requester", []model.AgentRole{model.RoleOrchestrator})
	seedAgent(t, store, "agt-000000000002", "worker", []model.AgentRole{model.RoleCoder})

	seedTask(t, store, "tsk-000000000001", "agt-000000000001", nil)
	seedTask(t, store, "tsk-000000000002", "agt-000000000001", nil)
	// 角色无人满足的任务留在队列
	seedTask(t, store, "tsk-000000000003", "agt-000000000001", nil, model.RoleSecurity)

	matched, err := engine.MatchQueued(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, matched)

	queued, err := store.ListQueuedTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "tsk-000000000003", queued[0].ID)
}

package tasks

import (
	"context"
	"testing"
	"time"

	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/queue"
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

	recorder := events.NewRecorder(store, nil)
	eco := economy.NewEngine(store, recorder, credit.DefaultSchedule())
	require.NoError(t, eco.EnsureTreasury(context.Background()))
	rep := reputation.NewEngine(store, recorder, reputation.DefaultConfig())

	return NewService(store, eco, rep, queue.NewNoOpQueue(), recorder, nil), store
}

func seedAgent(t *testing.T, store storage.PersistentStore, id, name, balance string) *model.Agent {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	agent := &model.Agent{
		ID: id, Name: name,
		Roles: []model.AgentRole{model.RoleCoder}, Status: model.AgentStatusActive,
		CreditBalance:      balance,
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: model.DefaultMaxConcurrentTasks,
		CreatedAt:          now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateAgent(context.Background(), agent))
	return agent
}

// assign 将任务直接置为已分配状态（绕过撮合引擎）
func assign(t *testing.T, store storage.PersistentStore, taskID, agentID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.ReserveTaskSlot(ctx, agentID))
	task, err := store.GetTask(ctx, taskID)
	require.NoError(t, err)
	now := time.Now().UTC()
	task.Status = model.TaskStatusAssigned
	task.AssignedAgentID = &agentID
	task.AssignedAt = &now
	require.NoError(t, store.UpdateTask(ctx, task))
}

func TestCreateEscrowsReward(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title:        "Build parser",
		CreditReward: "40.000000",
		RequesterID:  requester.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusQueued, task.Status)
	assert.Equal(t, model.TaskPriorityNormal, task.Priority)

	got, _ := store.GetAgent(ctx, requester.ID)
	assert.Equal(t, "60.000000", got.CreditBalance)

	entries, err := store.ListLedgerEntries(ctx, storage.LedgerFilter{RefID: task.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.TxnTaskEscrow, entries[0].Type)
}

func TestCreateValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "10.000000")
	suspended := seedAgent(t, store, "agt-000000000002", "suspended", "100.000000")
	suspended.Status = model.AgentStatusSuspended
	require.NoError(t, store.UpdateAgent(ctx, suspended))

	tests := []struct {
		name    string
		req     *CreateRequest
		wantErr error
	}{
		{"缺少标题", &CreateRequest{RequesterID: requester.ID, CreditReward: "1.000000"}, errdefs.ErrValidation},
		{"奖励为零", &CreateRequest{Title: "t", RequesterID: requester.ID, CreditReward: "0.000000"}, errdefs.ErrValidation},
		{"非法角色", &CreateRequest{Title: "t", RequesterID: requester.ID, CreditReward: "1.000000",
			RequiredRoles: []model.AgentRole{model.RoleCoder, "wizard"}}, errdefs.ErrValidation},
		{"发布方不存在", &CreateRequest{Title: "t", RequesterID: "agt-missing", CreditReward: "1.000000"},
			errdefs.ErrNotFound},
		{"发布方已停用", &CreateRequest{Title: "t", RequesterID: suspended.ID, CreditReward: "1.000000"},
			errdefs.ErrInvalidState},
		{"余额不足", &CreateRequest{Title: "t", RequesterID: requester.ID, CreditReward: "100.000000"},
			errdefs.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompleteSettles(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")
	worker := seedAgent(t, store, "agt-000000000002", "worker", "0.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title: "Build parser", CreditReward: "40.000000", RequesterID: requester.ID,
	})
	require.NoError(t, err)
	assign(t, store, task.ID, worker.ID)

	started, err := svc.Start(ctx, task.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusInProgress, started.Status)
	assert.NotNil(t, started.StartedAt)

	completed, err := svc.Complete(ctx, task.ID, worker.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, completed.Status)

	// 2.5% 手续费：1.00，净额 39.00
	gotWorker, _ := store.GetAgent(ctx, worker.ID)
	treasury, _ := store.GetAgent(ctx, model.TreasuryAgentID)
	assert.Equal(t, "39.000000", gotWorker.CreditBalance)
	assert.Equal(t, "1.000000", treasury.CreditBalance)
	assert.Equal(t, 1, gotWorker.TotalTasksCompleted)
	assert.Equal(t, 0, gotWorker.ActiveTasks)

	// 声誉更新
	rep, err := store.GetReputation(ctx, worker.ID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.SampleCount)
	assert.InDelta(t, 1.0, rep.SuccessRate, 1e-9)

	// 结算事件
	evs, _ := store.ListEventsBySubject(ctx, task.ID, 10)
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventTaskSettled, evs[0].Type)
}

func TestCompleteAuthorization(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")
	worker := seedAgent(t, store, "agt-000000000002", "worker", "0.000000")
	other := seedAgent(t, store, "agt-000000000003", "other", "0.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title: "t", CreditReward: "10.000000", RequesterID: requester.ID,
	})
	require.NoError(t, err)
	assign(t, store, task.ID, worker.ID)

	// 非承接方不可操作
	_, err = svc.Start(ctx, task.ID, other.ID)
	assert.ErrorIs(t, err, errdefs.ErrUnauthorized)

	// 未开始不可直接完成
	_, err = svc.Complete(ctx, task.ID, worker.ID)
	assert.ErrorIs(t, err, errdefs.ErrInvalidState)
}

func TestFailRequeues(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")
	worker := seedAgent(t, store, "agt-000000000002", "worker", "0.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title: "t", CreditReward: "10.000000", RequesterID: requester.ID,
	})
	require.NoError(t, err)
	assign(t, store, task.ID, worker.ID)

	failed, err := svc.Fail(ctx, task.ID, worker.ID, "build broke")
	require.NoError(t, err)

	// 重试次数内回到队列
	assert.Equal(t, model.TaskStatusQueued, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Nil(t, failed.AssignedAgentID)
	assert.Equal(t, "build broke", failed.FailureReason)

	gotWorker, _ := store.GetAgent(ctx, worker.ID)
	assert.Equal(t, 0, gotWorker.ActiveTasks)
	assert.Equal(t, 1, gotWorker.TotalTasksFailed)

	// 托管未退还
	gotRequester, _ := store.GetAgent(ctx, requester.ID)
	assert.Equal(t, "90.000000", gotRequester.CreditBalance)
}

func TestFailExhaustedRefunds(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")
	worker := seedAgent(t, store, "agt-000000000002", "worker", "0.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title: "t", CreditReward: "10.000000", RequesterID: requester.ID, MaxRetries: -1,
	})
	require.NoError(t, err)
	assign(t, store, task.ID, worker.ID)

	failed, err := svc.Fail(ctx, task.ID, worker.ID, "unrecoverable")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, failed.Status)

	// 托管退还
	gotRequester, _ := store.GetAgent(ctx, requester.ID)
	assert.Equal(t, "100.000000", gotRequester.CreditBalance)
}

func TestCancelRefunds(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")
	worker := seedAgent(t, store, "agt-000000000002", "worker", "0.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title: "t", CreditReward: "10.000000", RequesterID: requester.ID,
	})
	require.NoError(t, err)
	assign(t, store, task.ID, worker.ID)

	// 非发布方不可取消
	_, err = svc.Cancel(ctx, task.ID, worker.ID)
	assert.ErrorIs(t, err, errdefs.ErrUnauthorized)

	cancelled, err := svc.Cancel(ctx, task.ID, requester.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, cancelled.Status)

	gotRequester, _ := store.GetAgent(ctx, requester.ID)
	gotWorker, _ := store.GetAgent(ctx, worker.ID)
	assert.Equal(t, "100.000000", gotRequester.CreditBalance)
	assert.Equal(t, 0, gotWorker.ActiveTasks)

	// 终态后不可再取消
	_, err = svc.Cancel(ctx, task.ID, requester.ID)
	assert.ErrorIs(t, err, errdefs.ErrInvalidState)
}

func TestTimeout(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	requester := seedAgent(t, store, "agt-000000000001", "requester", "100.000000")
	worker := seedAgent(t, store, "agt-000000000002", "worker", "0.000000")

	task, err := svc.Create(ctx, &CreateRequest{
		Title: "t", CreditReward: "10.000000", RequesterID: requester.ID, MaxDuration: 60,
	})
	require.NoError(t, err)
	assign(t, store, task.ID, worker.ID)
	_, err = svc.Start(ctx, task.ID, worker.ID)
	require.NoError(t, err)

	timedOut, err := svc.Timeout(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusTimeout, timedOut.Status)
	assert.Equal(t, "execution deadline exceeded", timedOut.FailureReason)

	gotRequester, _ := store.GetAgent(ctx, requester.ID)
	gotWorker, _ := store.GetAgent(ctx, worker.ID)
	assert.Equal(t, "100.000000", gotRequester.CreditBalance)
	assert.Equal(t, 0, gotWorker.ActiveTasks)
	assert.Equal(t, 1, gotWorker.TotalTasksFailed)

	// 排队中的任务不可超时
	queued, err := svc.Create(ctx, &CreateRequest{
		Title: "t2", CreditReward: "1.000000", RequesterID: requester.ID,
	})
	require.NoError(t, err)
	_, err = svc.Timeout(ctx, queued.ID)
	assert.ErrorIs(t, err, errdefs.ErrInvalidState)
}

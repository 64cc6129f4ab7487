// Package tasks 任务生命周期服务
//
// 管理任务从发布到结算的完整生命周期：
//
//	queued → assigned → in_progress → completed（结算）
//	                 ↘ failed（重试或退还托管）
//	in_progress → timeout（超时，退还托管）
//	任意非终态 → cancelled（发布方取消，退还托管）
//
// 发布时悬赏全额托管；完成时扣除平台手续费后结算给承接方；
// 失败在重试次数内重新排队，耗尽后退还发布方。
// 状态迁移经乐观锁条件写，非法迁移返回 ErrInvalidState。
package tasks

import (
	"context"
	"errors"
	"time"

	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/queue"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Service 任务服务
type Service struct {
	store      storage.PersistentStore
	economy    *economy.Engine
	reputation *reputation.Engine
	queue      queue.Queue
	events     *events.Recorder
	metrics    *metrics.Metrics
	log        *logging.Logger
}

// NewService 创建任务服务
func NewService(store storage.PersistentStore, eco *economy.Engine, rep *reputation.Engine,
	q queue.Queue, recorder *events.Recorder, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		economy:    eco,
		reputation: rep,
		queue:      q,
		events:     recorder,
		metrics:    m,
		log:        logging.Default("tasks"),
	}
}

// ============================================================================
// 发布
// ============================================================================

// CreateRequest 发布任务的请求
type CreateRequest struct {
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Priority       model.TaskPriority `json:"priority"`
	RequiredSkills []string           `json:"required_skills"`
	RequiredRoles  []model.AgentRole  `json:"required_roles"`
	CreditReward   string             `json:"credit_reward"`
	MaxDuration    int                `json:"max_duration"`
	MaxRetries     int                `json:"max_retries"`
	RequesterID    string             `json:"requester_id"`
}

// Create 发布任务
//
// 悬赏从发布方余额全额托管，余额不足时发布失败。
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*model.Task, error) {
	if req.Title == "" {
		return nil, errdefs.Invalidf("task title is required")
	}
	// 角色限制可为空（不限角色），声明了就必须全部合法
	for _, role := range req.RequiredRoles {
		if !model.IsValidRole(role) {
			return nil, errdefs.Invalidf("invalid required role %q", role)
		}
	}

	requester, err := s.store.GetAgent(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if requester == nil {
		return nil, errdefs.NotFoundf("requester %s", req.RequesterID)
	}
	if requester.Status != model.AgentStatusActive {
		return nil, errdefs.InvalidStatef("requester %s is %s", requester.ID, requester.Status)
	}

	now := time.Now().UTC()
	task := &model.Task{
		ID:             model.NewID(model.PrefixTask),
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		RequiredSkills: req.RequiredSkills,
		RequiredRoles:  req.RequiredRoles,
		CreditReward:   req.CreditReward,
		MaxDuration:    req.MaxDuration,
		MaxRetries:     req.MaxRetries,
		RequesterID:    req.RequesterID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	task.ApplyDefaults()

	if _, err := credit.ParsePositive(task.CreditReward); err != nil {
		return nil, err
	}

	if err := s.economy.EscrowReward(ctx, req.RequesterID, task.ID, task.CreditReward); err != nil {
		return nil, err
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		// 托管已扣款，落库失败必须退还
		if refundErr := s.economy.RefundEscrow(ctx, req.RequesterID, task.ID,
			task.CreditReward, "task creation failed"); refundErr != nil {
			s.log.Error("Failed to refund escrow after create failure",
				"task_id", task.ID, "error", refundErr.Error())
		}
		return nil, err
	}

	s.enqueueMatch(ctx, task)
	s.log.Info("Task created", "task_id", task.ID, "requester_id", req.RequesterID,
		"reward", task.CreditReward, "priority", string(task.Priority))
	return task, nil
}

// ============================================================================
// 执行
// ============================================================================

// Start 承接方开始执行任务：assigned → in_progress
func (s *Service) Start(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	var task *model.Task
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		task, err = s.getAssignedTask(ctx, taskID, agentID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(model.TaskStatusInProgress) {
			return errdefs.InvalidStatef("cannot start task in status %s", task.Status)
		}

		now := time.Now().UTC()
		task.Status = model.TaskStatusInProgress
		task.StartedAt = &now
		return s.store.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Complete 承接方完成任务并触发结算：in_progress → completed
func (s *Service) Complete(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	var task *model.Task
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		task, err = s.getAssignedTask(ctx, taskID, agentID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(model.TaskStatusCompleted) {
			return errdefs.InvalidStatef("cannot complete task in status %s", task.Status)
		}

		now := time.Now().UTC()
		task.Status = model.TaskStatusCompleted
		task.CompletedAt = &now
		return s.store.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.releaseSlot(ctx, agentID)
	s.bumpTaskCounter(ctx, agentID, true)

	breakdown, err := s.economy.SettleReward(ctx, agentID, task.ID, task.CreditReward)
	if err != nil {
		// 状态已迁移，结算失败需要人工对账
		s.log.Error("Settlement failed after task completion",
			"task_id", task.ID, "agent_id", agentID, "error", err.Error())
		return nil, err
	}

	duration := time.Duration(0)
	if task.StartedAt != nil {
		duration = task.CompletedAt.Sub(*task.StartedAt)
	}
	if err := s.reputation.RecordTaskSuccess(ctx, agentID, duration,
		time.Duration(task.MaxDuration)*time.Second); err != nil {
		s.log.Warn("Failed to record task success", "agent_id", agentID, "error", err.Error())
	}

	fee := credit.Format(breakdown.Fee)
	net := credit.Format(breakdown.Net)
	s.events.Record(ctx, model.EventTaskSettled, agentID, task.ID, map[string]any{
		"reward": task.CreditReward,
		"fee":    fee,
		"net":    net,
	})
	if s.metrics != nil {
		s.metrics.RecordSettlement("completed")
	}
	s.log.SettlementLog(task.ID, agentID, fee, net)
	return task, nil
}

// Fail 承接方上报任务失败
//
// 重试次数内任务回到队列重新撮合，耗尽后终态失败并退还托管。
func (s *Service) Fail(ctx context.Context, taskID, agentID, reason string) (*model.Task, error) {
	var task *model.Task
	var requeued bool
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		task, err = s.getAssignedTask(ctx, taskID, agentID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(model.TaskStatusFailed) {
			return errdefs.InvalidStatef("cannot fail task in status %s", task.Status)
		}

		task.Status = model.TaskStatusFailed
		task.FailureReason = reason

		requeued = task.CanRetry()
		if requeued {
			task.RetryCount++
			task.Status = model.TaskStatusQueued
			task.AssignedAgentID = nil
			task.AssignedAt = nil
			task.StartedAt = nil
		}
		return s.store.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.releaseSlot(ctx, agentID)
	s.bumpTaskCounter(ctx, agentID, false)
	if err := s.reputation.RecordTaskFailure(ctx, agentID); err != nil {
		s.log.Warn("Failed to record task failure", "agent_id", agentID, "error", err.Error())
	}

	if requeued {
		s.enqueueMatch(ctx, task)
	} else {
		if err := s.economy.RefundEscrow(ctx, task.RequesterID, task.ID,
			task.CreditReward, "retries exhausted"); err != nil {
			s.log.Error("Failed to refund escrow for failed task",
				"task_id", task.ID, "error", err.Error())
		}
	}

	s.events.Record(ctx, model.EventTaskFailed, agentID, task.ID, map[string]any{
		"reason":   reason,
		"requeued": requeued,
	})
	if s.metrics != nil {
		s.metrics.RecordSettlement("failed")
	}
	s.log.Info("Task failed", "task_id", task.ID, "agent_id", agentID,
		"reason", reason, "requeued", requeued)
	return task, nil
}

// Cancel 发布方取消任务
//
// 取消为终态，托管悬赏全额退还。已分配的任务同时释放承接方槽位。
func (s *Service) Cancel(ctx context.Context, taskID, requesterID string) (*model.Task, error) {
	var task *model.Task
	var assignee string
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		task, err = s.get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.RequesterID != requesterID {
			return errdefs.Unauthorizedf("agent %s is not the requester of task %s", requesterID, taskID)
		}
		if !task.Status.CanTransition(model.TaskStatusCancelled) {
			return errdefs.InvalidStatef("cannot cancel task in status %s", task.Status)
		}

		assignee = ""
		if task.AssignedAgentID != nil {
			assignee = *task.AssignedAgentID
		}
		task.Status = model.TaskStatusCancelled
		return s.store.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	if assignee != "" {
		s.releaseSlot(ctx, assignee)
	}
	if err := s.economy.RefundEscrow(ctx, task.RequesterID, task.ID,
		task.CreditReward, "task cancelled"); err != nil {
		s.log.Error("Failed to refund escrow for cancelled task",
			"task_id", task.ID, "error", err.Error())
	}

	if s.metrics != nil {
		s.metrics.RecordSettlement("cancelled")
	}
	s.log.Info("Task cancelled", "task_id", task.ID, "requester_id", requesterID)
	return task, nil
}

// Timeout 将超时的进行中任务置为终态（由巡检调用）
//
// 超时计承接方一次失败并退还托管，不重新排队。
func (s *Service) Timeout(ctx context.Context, taskID string) (*model.Task, error) {
	var task *model.Task
	var assignee string
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		task, err = s.get(ctx, taskID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(model.TaskStatusTimeout) {
			return errdefs.InvalidStatef("cannot time out task in status %s", task.Status)
		}

		assignee = ""
		if task.AssignedAgentID != nil {
			assignee = *task.AssignedAgentID
		}
		task.Status = model.TaskStatusTimeout
		task.FailureReason = "execution deadline exceeded"
		return s.store.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	if assignee != "" {
		s.releaseSlot(ctx, assignee)
		s.bumpTaskCounter(ctx, assignee, false)
		if err := s.reputation.RecordTaskFailure(ctx, assignee); err != nil {
			s.log.Warn("Failed to record timeout failure", "agent_id", assignee, "error", err.Error())
		}
	}
	if err := s.economy.RefundEscrow(ctx, task.RequesterID, task.ID,
		task.CreditReward, "task timed out"); err != nil {
		s.log.Error("Failed to refund escrow for timed out task",
			"task_id", task.ID, "error", err.Error())
	}

	s.events.Record(ctx, model.EventTaskFailed, assignee, task.ID, map[string]any{
		"reason": "timeout",
	})
	if s.metrics != nil {
		s.metrics.RecordSettlement("timeout")
	}
	s.log.Warn("Task timed out", "task_id", task.ID, "agent_id", assignee)
	return task, nil
}

// ============================================================================
// 查询
// ============================================================================

// Get 查询任务
func (s *Service) Get(ctx context.Context, taskID string) (*model.Task, error) {
	return s.get(ctx, taskID)
}

// List 按条件查询任务
func (s *Service) List(ctx context.Context, filter storage.TaskFilter) ([]*model.Task, error) {
	return s.store.ListTasks(ctx, filter)
}

// ============================================================================
// 内部
// ============================================================================

func (s *Service) get(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errdefs.NotFoundf("task %s", taskID)
	}
	return task, nil
}

// getAssignedTask 加载任务并校验调用方是当前承接方
func (s *Service) getAssignedTask(ctx context.Context, taskID, agentID string) (*model.Task, error) {
	task, err := s.get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AssignedAgentID == nil || *task.AssignedAgentID != agentID {
		return nil, errdefs.Unauthorizedf("agent %s is not assigned to task %s", agentID, taskID)
	}
	return task, nil
}

// releaseSlot 释放承接方任务槽位（尽力而为）
func (s *Service) releaseSlot(ctx context.Context, agentID string) {
	if err := s.store.ReleaseTaskSlot(ctx, agentID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("Failed to release task slot", "agent_id", agentID, "error", err.Error())
	}
}

// bumpTaskCounter 累计承接方完成/失败任务数
func (s *Service) bumpTaskCounter(ctx context.Context, agentID string, completed bool) {
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return nil
		}
		if completed {
			agent.TotalTasksCompleted++
		} else {
			agent.TotalTasksFailed++
		}
		return s.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		s.log.Warn("Failed to bump task counter", "agent_id", agentID, "error", err.Error())
	}
}

// enqueueMatch 将任务写入撮合队列（尽力而为，巡检会兜底）
func (s *Service) enqueueMatch(ctx context.Context, task *model.Task) {
	if s.queue == nil {
		return
	}
	if _, err := s.queue.EnqueueTask(ctx, task.ID, task.RequesterID); err != nil {
		s.log.Warn("Failed to enqueue task for matching",
			"task_id", task.ID, "error", err.Error())
	}
}

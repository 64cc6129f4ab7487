// Package matching 任务撮合引擎
//
// 引擎负责把排队中的任务分配给最合适的 Agent：
//  1. 过滤候选（active、有空闲槽位、满足角色要求、排除发布方）
//  2. 策略链打分排序
//  3. 按排序依次 CAS 占用槽位（并发撮合下冲突自动顺延）
//  4. 条件写任务状态 queued → assigned，派发到 Agent 队列
//
// 没有合适候选时任务留在队列中，等待下一轮撮合。
package matching

import (
	"context"
	"errors"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/queue"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// ErrNoMatch 没有合适的候选 Agent
var ErrNoMatch = errors.New("no suitable agent available")

// Config 撮合引擎配置
type Config struct {
	// OnlineWindow 在线判定窗口
	OnlineWindow time.Duration

	// CandidateLimit 单次撮合加载的候选上限
	CandidateLimit int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		OnlineWindow:   5 * time.Minute,
		CandidateLimit: 200,
	}
}

// Engine 撮合引擎
type Engine struct {
	store   storage.PersistentStore
	queue   queue.Queue
	chain   *StrategyChain
	cfg     Config
	events  *events.Recorder
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewEngine 创建撮合引擎
//
// chain 为 nil 时使用默认的综合评分策略链。
func NewEngine(store storage.PersistentStore, q queue.Queue, chain *StrategyChain,
	recorder *events.Recorder, m *metrics.Metrics, cfg Config) *Engine {
	if chain == nil {
		chain = NewStrategyChain(NewCompositeStrategy())
	}
	return &Engine{
		store:   store,
		queue:   q,
		chain:   chain,
		cfg:     cfg,
		events:  recorder,
		metrics: m,
		log:     logging.Default("matching"),
	}
}

// MatchResult 一次撮合的结果
type MatchResult struct {
	TaskID   string  `json:"task_id"`
	AgentID  string  `json:"agent_id"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`
}

// MatchTask 为排队中的任务撮合 Agent
func (e *Engine) MatchTask(ctx context.Context, taskID string) (*MatchResult, error) {
	started := time.Now()
	result, err := e.matchTask(ctx, taskID)
	if e.metrics != nil {
		outcome := "matched"
		switch {
		case errors.Is(err, ErrNoMatch):
			outcome = "no_match"
		case err != nil:
			outcome = "error"
		}
		e.metrics.RecordMatch(outcome, time.Since(started))
	}
	return result, err
}

func (e *Engine) matchTask(ctx context.Context, taskID string) (*MatchResult, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errdefs.NotFoundf("task %s", taskID)
	}
	if task.Status != model.TaskStatusQueued {
		return nil, errdefs.InvalidStatef("task %s is %s, not queued", taskID, task.Status)
	}

	candidates, err := e.loadCandidates(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoMatch
	}

	req := &MatchRequest{
		Task:         task,
		Candidates:   candidates,
		Now:          time.Now().UTC(),
		OnlineWindow: e.cfg.OnlineWindow,
	}
	ranked, reason := e.chain.Rank(ctx, req)
	if len(ranked) == 0 {
		return nil, ErrNoMatch
	}

	// 按排序依次尝试占用槽位，并发撮合下 CAS 失败顺延到下一名
	for _, candidate := range ranked {
		agentID := candidate.Agent.ID
		if err := e.store.ReserveTaskSlot(ctx, agentID); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return nil, err
		}

		if err := e.assignTask(ctx, task.ID, agentID); err != nil {
			// 分配失败回滚槽位占用
			if releaseErr := e.store.ReleaseTaskSlot(ctx, agentID); releaseErr != nil {
				e.log.Warn("Failed to release slot after assignment failure",
					"agent_id", agentID, "error", releaseErr.Error())
			}
			if errors.Is(err, storage.ErrConflict) {
				// 任务已被并发撮合走
				return nil, errdefs.InvalidStatef("task %s already assigned", task.ID)
			}
			return nil, err
		}

		e.dispatch(ctx, agentID, task.ID)
		e.events.Record(ctx, model.EventTaskAssigned, agentID, task.ID, map[string]any{
			"agent_id": agentID,
			"score":    candidate.Score,
			"reason":   reason,
		})
		e.log.Info("Task matched", "task_id", task.ID, "agent_id", agentID,
			"score", candidate.Score, "reason", reason)

		return &MatchResult{
			TaskID:   task.ID,
			AgentID:  agentID,
			Score:    candidate.Score,
			Strategy: reason,
		}, nil
	}

	return nil, ErrNoMatch
}

// MatchQueued 撮合一批排队中的任务，返回成功撮合的数量
//
// 部分任务没有候选不算错误，留在队列中等下一轮。
func (e *Engine) MatchQueued(ctx context.Context, limit int) (int, error) {
	tasks, err := e.store.ListQueuedTasks(ctx, limit)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, task := range tasks {
		if _, err := e.MatchTask(ctx, task.ID); err != nil {
			if errors.Is(err, ErrNoMatch) || errdefs.IsInvalidState(err) {
				continue
			}
			return matched, err
		}
		matched++
	}
	return matched, nil
}

// loadCandidates 加载并组装候选画像
//
// 角色要求为数组，任一交集即满足，在内存里过滤；单角色要求下推
// 到存储做包含匹配缩小加载量。
func (e *Engine) loadCandidates(ctx context.Context, task *model.Task) ([]*Candidate, error) {
	filter := storage.AgentFilter{
		OnlyMatchable: true,
		ExcludeID:     task.RequesterID,
		Limit:         e.cfg.CandidateLimit,
	}
	if len(task.RequiredRoles) == 1 {
		filter.Role = string(task.RequiredRoles[0])
	}
	agents, err := e.store.ListAgents(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(task.RequiredRoles) > 1 {
		eligible := agents[:0]
		for _, a := range agents {
			if a.HasAnyRole(task.RequiredRoles) {
				eligible = append(eligible, a)
			}
		}
		agents = eligible
	}
	if len(agents) == 0 {
		return nil, nil
	}

	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}

	capsByAgent, err := e.store.ListCapabilitiesForAgents(ctx, ids)
	if err != nil {
		return nil, err
	}
	repsByAgent, err := e.store.ListReputations(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]*Candidate, len(agents))
	for i, a := range agents {
		candidates[i] = &Candidate{
			Agent:        a,
			Capabilities: capsByAgent[a.ID],
			Reputation:   repsByAgent[a.ID],
		}
	}
	return candidates, nil
}

// assignTask 条件写任务状态 queued → assigned
func (e *Engine) assignTask(ctx context.Context, taskID, agentID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return errdefs.NotFoundf("task %s", taskID)
	}
	if task.Status != model.TaskStatusQueued {
		return storage.ErrConflict
	}

	now := time.Now().UTC()
	task.Status = model.TaskStatusAssigned
	task.AssignedAgentID = &agentID
	task.AssignedAt = &now
	return e.store.UpdateTask(ctx, task)
}

// dispatch 将任务写入 Agent 派发队列（尽力而为）
func (e *Engine) dispatch(ctx context.Context, agentID, taskID string) {
	if e.queue == nil {
		return
	}
	if _, err := e.queue.DispatchTaskToAgent(ctx, agentID, taskID); err != nil {
		e.log.Warn("Failed to dispatch task to agent queue",
			"task_id", taskID, "agent_id", agentID, "error", err.Error())
	}
}

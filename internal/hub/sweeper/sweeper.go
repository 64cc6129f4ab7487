// Package sweeper 周期巡检
//
// 把所有依赖时间推移的状态收敛集中到一个循环里跑：
//   - 易货过期：超过截止时间的交易置为 expired
//   - 任务超时：超过最长执行时间的进行中任务置为 timeout 并退还押金
//   - 心跳超时：过久未心跳的 active Agent 置为 offline
//   - 审计过期：审计失效的知识包下架并重置为待审计
//   - 挑战与会话：批量过期注册挑战、清理过期会话
//   - 排队重匹配：对仍在排队的任务重新发起匹配
//
// 每轮各作业独立执行，单个作业失败不影响其余作业。
package sweeper

import (
	"context"
	"sync"
	"time"

	"nervix-hub/internal/hub/agents"
	"nervix-hub/internal/hub/barter"
	"nervix-hub/internal/hub/knowledge"
	"nervix-hub/internal/hub/matching"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/hub/tasks"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Config 巡检配置
type Config struct {
	// Interval 巡检周期
	Interval time.Duration

	// BatchLimit 单轮单作业的处理上限
	BatchLimit int

	// HeartbeatStale 心跳超时判定时长
	HeartbeatStale time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		BatchLimit:     100,
		HeartbeatStale: model.HeartbeatStaleAfter,
	}
}

// Sweeper 周期巡检器
type Sweeper struct {
	store     storage.PersistentStore
	barter    *barter.Engine
	tasks     *tasks.Service
	agents    *agents.Service
	knowledge *knowledge.Service
	matching  *matching.Engine
	metrics   *metrics.Metrics
	cfg       Config
	log       *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New 创建巡检器
func New(store storage.PersistentStore, b *barter.Engine, t *tasks.Service,
	a *agents.Service, k *knowledge.Service, m *matching.Engine,
	mx *metrics.Metrics, cfg Config) *Sweeper {
	return &Sweeper{
		store:     store,
		barter:    b,
		tasks:     t,
		agents:    a,
		knowledge: k,
		matching:  m,
		metrics:   mx,
		cfg:       cfg,
		log:       logging.Default("sweeper"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start 阻塞运行巡检循环，直到 Stop 或 ctx 取消
func (s *Sweeper) Start(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("Sweeper started", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop 停止巡检循环并等待退出
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// RunOnce 执行一轮全部巡检作业
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.runJob(ctx, "barter_expiry", func(ctx context.Context) (int, error) {
		return s.expireBarters(ctx, now)
	})
	s.runJob(ctx, "task_timeout", func(ctx context.Context) (int, error) {
		return s.timeoutTasks(ctx, now)
	})
	s.runJob(ctx, "stale_agents", func(ctx context.Context) (int, error) {
		return s.markStaleAgentsOffline(ctx, now)
	})
	s.runJob(ctx, "audit_expiry", func(ctx context.Context) (int, error) {
		return s.knowledge.ExpireAudits(ctx, now)
	})
	s.runJob(ctx, "stale_challenges", func(ctx context.Context) (int, error) {
		n, err := s.store.ExpireStaleChallenges(ctx, now)
		return int(n), err
	})
	s.runJob(ctx, "expired_sessions", func(ctx context.Context) (int, error) {
		n, err := s.store.DeleteExpiredSessions(ctx, now)
		return int(n), err
	})
	s.runJob(ctx, "rematch_queued", func(ctx context.Context) (int, error) {
		return s.matching.MatchQueued(ctx, s.cfg.BatchLimit)
	})
}

// runJob 执行单个作业并记录结果
func (s *Sweeper) runJob(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	processed, err := fn(ctx)
	if s.metrics != nil {
		s.metrics.SweepsTotal.WithLabelValues(name).Inc()
	}
	if err != nil {
		s.log.Warn("Sweep job failed", "job", name, "error", err.Error())
		return
	}
	if processed > 0 {
		s.log.Info("Sweep job done", "job", name, "processed", processed)
	}
}

// expireBarters 过期所有超过截止时间的易货交易
func (s *Sweeper) expireBarters(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredBarters(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, b := range expired {
		if _, err := s.barter.Expire(ctx, b.ID); err != nil {
			s.log.Warn("Failed to expire barter", "barter_id", b.ID, "error", err.Error())
			continue
		}
		processed++
	}
	return processed, nil
}

// timeoutTasks 把超过最长执行时间的进行中任务置为超时
func (s *Sweeper) timeoutTasks(ctx context.Context, now time.Time) (int, error) {
	running, err := s.store.ListRunningTasksStartedBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, task := range running {
		if !task.TimedOut(now) {
			continue
		}
		if _, err := s.tasks.Timeout(ctx, task.ID); err != nil {
			s.log.Warn("Failed to time out task", "task_id", task.ID, "error", err.Error())
			continue
		}
		processed++
	}
	return processed, nil
}

// markStaleAgentsOffline 把心跳超时的 active Agent 置为离线
func (s *Sweeper) markStaleAgentsOffline(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListStaleAgents(ctx, now.Add(-s.cfg.HeartbeatStale))
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, agent := range stale {
		// 金库账户不参与存活判定
		if agent.ID == model.TreasuryAgentID {
			continue
		}
		if err := s.agents.MarkOffline(ctx, agent.ID); err != nil {
			s.log.Warn("Failed to mark agent offline", "agent_id", agent.ID, "error", err.Error())
			continue
		}
		processed++
	}
	return processed, nil
}

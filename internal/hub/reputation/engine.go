// Package reputation 声誉引擎
//
// 维护每个 Agent 的声誉档案并在任务结果事件时更新综合声誉：
//   - 任务成功：综合分整体重写为 0.40*1.0 + 0.25*timeScore
//     + 0.25*质量占位分 + 0.10*在线率（在线率取档案现值）
//   - 任务失败：综合分在现值上扣减固定惩罚 0.05，不走加权公式
//
// 成功率与平均响应时长按增量均值随事件累积；审计质量分与心跳
// 在线率只更新各自的观测分量，不触碰综合分。综合分低于停用
// 阈值时 Agent 被自动停用。
package reputation

import (
	"context"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Config 声誉引擎配置
type Config struct {
	// DefaultQualityScore 无审计数据时的质量分默认值
	DefaultQualityScore float64

	// DefaultUptimeScore 心跳统计不足时的在线率默认值
	DefaultUptimeScore float64

	// SuspendThreshold 停用阈值
	SuspendThreshold float64

	// FailurePenalty 任务失败的固定扣减
	FailurePenalty float64
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		DefaultQualityScore: 0.8,
		DefaultUptimeScore:  model.DefaultUptimeScore,
		SuspendThreshold:    model.SuspendThreshold,
		FailurePenalty:      model.FailurePenalty,
	}
}

// Engine 声誉引擎
type Engine struct {
	store  storage.PersistentStore
	cfg    Config
	events *events.Recorder
	log    *logging.Logger
}

// NewEngine 创建声誉引擎
func NewEngine(store storage.PersistentStore, recorder *events.Recorder, cfg Config) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg,
		events: recorder,
		log:    logging.Default("reputation"),
	}
}

// Get 查询 Agent 的声誉档案，不存在时惰性创建初始档案
func (e *Engine) Get(ctx context.Context, agentID string) (*model.Reputation, error) {
	rep, err := e.store.GetReputation(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rep != nil {
		return rep, nil
	}

	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errdefs.NotFoundf("agent %s", agentID)
	}

	rep = model.NewReputation(model.NewID(model.PrefixReputation), agentID, time.Now().UTC())
	if err := e.store.CreateReputation(ctx, rep); err != nil {
		// 并发创建：另一请求已写入，重读即可
		if rep2, err2 := e.store.GetReputation(ctx, agentID); err2 == nil && rep2 != nil {
			return rep2, nil
		}
		return nil, err
	}
	return rep, nil
}

// RecordTaskSuccess 记录一次任务成功
//
// duration 为实际执行时长，maxDuration 为任务的时限。
// 综合声誉按本次事件整体重写，不依赖历史成功率。
func (e *Engine) RecordTaskSuccess(ctx context.Context, agentID string, duration, maxDuration time.Duration) error {
	timeScore := 1.0
	if maxDuration > 0 {
		timeScore = 1 - duration.Seconds()/maxDuration.Seconds()
		if timeScore < 0 {
			timeScore = 0
		}
	}

	return e.update(ctx, agentID, func(rep *model.Reputation) {
		n := float64(rep.SampleCount)
		rep.SuccessRate = (rep.SuccessRate*n + 1) / (n + 1)
		rep.TimelinessScore = (rep.TimelinessScore*n + timeScore) / (n + 1)
		rep.AvgResponseSeconds = (rep.AvgResponseSeconds*n + duration.Seconds()) / (n + 1)
		rep.SampleCount++
		rep.OverallScore = model.OverallOnSuccess(timeScore, e.cfg.DefaultQualityScore, rep.UptimeScore)
	})
}

// RecordTaskFailure 记录一次任务失败
//
// 成功率按 0 观测融合；综合声誉在现值上扣减固定惩罚，
// 不触发加权公式重算。
func (e *Engine) RecordTaskFailure(ctx context.Context, agentID string) error {
	return e.update(ctx, agentID, func(rep *model.Reputation) {
		n := float64(rep.SampleCount)
		rep.SuccessRate = (rep.SuccessRate * n) / (n + 1)
		rep.SampleCount++
		rep.OverallScore = model.Clamp01(rep.OverallScore - e.cfg.FailurePenalty)
	})
}

// RecordAuditQuality 由审计结果回填质量观测分
//
// quality 取值 [0,100]，指数平滑融合进质量分量。只累积观测，
// 综合声誉留待下一次任务结果事件更新。
func (e *Engine) RecordAuditQuality(ctx context.Context, agentID string, quality int) error {
	obs := model.Clamp01(float64(quality) / 100)
	return e.update(ctx, agentID, func(rep *model.Reputation) {
		rep.QualityScore = model.Clamp01(0.7*rep.QualityScore + 0.3*obs)
	})
}

// RecordUptime 由心跳统计覆盖在线率分量
//
// 在线率在下一次任务成功时以 0.10 权重进入综合声誉。
func (e *Engine) RecordUptime(ctx context.Context, agentID string, uptime float64) error {
	return e.update(ctx, agentID, func(rep *model.Reputation) {
		rep.UptimeScore = model.Clamp01(uptime)
	})
}

// AuditEligible 判断该 Agent 的知识包是否可送审
func (e *Engine) AuditEligible(ctx context.Context, agentID string) (bool, error) {
	rep, err := e.Get(ctx, agentID)
	if err != nil {
		return false, err
	}
	return rep.AuditEligible(), nil
}

// update 读取-修改-条件写声誉档案，冲突时重试，随后执行停用检查
func (e *Engine) update(ctx context.Context, agentID string, mutate func(*model.Reputation)) error {
	var rep *model.Reputation
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		rep, err = e.Get(ctx, agentID)
		if err != nil {
			return err
		}
		mutate(rep)
		return e.store.UpdateReputation(ctx, rep)
	})
	if err != nil {
		return err
	}
	return e.checkSuspension(ctx, agentID, rep)
}

// checkSuspension 综合声誉低于阈值时停用 Agent
func (e *Engine) checkSuspension(ctx context.Context, agentID string, rep *model.Reputation) error {
	if rep.OverallScore >= e.cfg.SuspendThreshold {
		return nil
	}

	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		if agent == nil || agent.Status == model.AgentStatusSuspended {
			return nil
		}
		agent.Status = model.AgentStatusSuspended
		agent.SuspendReason = "Reputation below threshold (0.3)"
		return e.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return err
	}

	e.events.Record(ctx, model.EventAgentSuspended, "", agentID, map[string]any{
		"overall_score": rep.OverallScore,
		"reason":        "Reputation below threshold (0.3)",
	})
	e.log.Warn("Agent suspended for low reputation",
		"agent_id", agentID, "overall_score", rep.OverallScore)
	return nil
}

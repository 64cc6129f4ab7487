// Package agents Agent 目录与存活管理
//
// 维护 Agent 档案、技能声明与心跳。心跳触三路：持久层时间戳
// （匹配在线加分用）、Redis 在线状态（带 TTL 的快速判定）、
// etcd 租约（可选，跨节点存活视图）。心跳流水落库供在线率统计，
// 统计结果回填声誉的在线率分量。
package agents

import (
	"context"
	"time"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/cache"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// UptimeWindow 在线率统计窗口
const UptimeWindow = 1 * time.Hour

// expectedHeartbeats 窗口内的期望心跳数（约 30 秒一跳）
const expectedHeartbeats = int(UptimeWindow / (30 * time.Second))

// Service Agent 目录服务
type Service struct {
	store      storage.PersistentStore
	reputation *reputation.Engine
	presence   cache.AgentPresenceCache
	liveness   storage.EtcdAgentLiveness
	events     *events.Recorder
	metrics    *metrics.Metrics
	log        *logging.Logger
}

// NewService 创建 Agent 目录服务
//
// presence 与 liveness 均可为 nil（单节点、无 Redis 的部署形态）。
func NewService(store storage.PersistentStore, rep *reputation.Engine,
	presence cache.AgentPresenceCache, liveness storage.EtcdAgentLiveness,
	recorder *events.Recorder, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		reputation: rep,
		presence:   presence,
		liveness:   liveness,
		events:     recorder,
		metrics:    m,
		log:        logging.Default("agents"),
	}
}

// ============================================================================
// 心跳
// ============================================================================

// HeartbeatReport 心跳上报内容
type HeartbeatReport struct {
	ActiveTasks   int     `json:"active_tasks"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Heartbeat 处理一次心跳上报
//
// 停用的 Agent 心跳被拒绝；离线的 Agent 心跳使其回到 active。
func (s *Service) Heartbeat(ctx context.Context, agentID string, report HeartbeatReport) error {
	agent, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status == model.AgentStatusSuspended {
		return errdefs.InvalidStatef("agent %s is suspended", agentID)
	}

	now := time.Now().UTC()
	start := time.Now()

	if agent.Status == model.AgentStatusOffline {
		if err := s.reactivate(ctx, agentID); err != nil {
			s.log.Warn("Failed to reactivate agent on heartbeat", "agent_id", agentID, "error", err.Error())
		}
	}
	if err := s.store.TouchAgentHeartbeat(ctx, agentID, now); err != nil {
		return err
	}

	if s.presence != nil {
		if err := s.presence.UpdateAgentPresence(ctx, agentID, &cache.AgentPresence{
			Status:        string(model.AgentStatusActive),
			ActiveTasks:   report.ActiveTasks,
			CPUPercent:    report.CPUPercent,
			MemoryPercent: report.MemoryPercent,
			UpdatedAt:     now,
		}); err != nil {
			s.log.Warn("Failed to update presence cache", "agent_id", agentID, "error", err.Error())
		}
	}
	if s.liveness != nil {
		if err := s.liveness.UpdateAgentHeartbeat(ctx, &storage.EtcdHeartbeat{
			AgentID:       agentID,
			Status:        string(model.AgentStatusActive),
			ActiveTasks:   report.ActiveTasks,
			LastHeartbeat: now,
		}); err != nil {
			s.log.Warn("Failed to update etcd liveness", "agent_id", agentID, "error", err.Error())
		}
	}

	if err := s.store.CreateHeartbeatLog(ctx, &model.HeartbeatLog{
		AgentID:       agentID,
		ActiveTasks:   report.ActiveTasks,
		CPUPercent:    report.CPUPercent,
		MemoryPercent: report.MemoryPercent,
		CreatedAt:     now,
	}); err != nil {
		s.log.Warn("Failed to persist heartbeat log", "agent_id", agentID, "error", err.Error())
	}

	if s.metrics != nil {
		s.metrics.HeartbeatsTotal.Inc()
	}
	s.log.HeartbeatLog(agentID, string(model.AgentStatusActive), time.Since(start), nil)
	return nil
}

// RecordUptime 按窗口内心跳密度回填声誉的在线率分量
func (s *Service) RecordUptime(ctx context.Context, agentID string) error {
	count, err := s.store.CountHeartbeatsSince(ctx, agentID, time.Now().UTC().Add(-UptimeWindow))
	if err != nil {
		return err
	}
	uptime := float64(count) / float64(expectedHeartbeats)
	return s.reputation.RecordUptime(ctx, agentID, uptime)
}

// ============================================================================
// 档案
// ============================================================================

// Get 查询 Agent
func (s *Service) Get(ctx context.Context, agentID string) (*model.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errdefs.NotFoundf("agent %s", agentID)
	}
	return agent, nil
}

// List 按条件查询 Agent
func (s *Service) List(ctx context.Context, filter storage.AgentFilter) ([]*model.Agent, error) {
	return s.store.ListAgents(ctx, filter)
}

// ProfileUpdate 可更新的档案字段（nil 表示不改）
type ProfileUpdate struct {
	DisplayName        *string `json:"display_name,omitempty"`
	MaxConcurrentTasks *int    `json:"max_concurrent_tasks,omitempty"`
}

// UpdateProfile 更新 Agent 档案
func (s *Service) UpdateProfile(ctx context.Context, agentID string, update ProfileUpdate) (*model.Agent, error) {
	if update.MaxConcurrentTasks != nil && *update.MaxConcurrentTasks < 1 {
		return nil, errdefs.Invalidf("max concurrent tasks must be at least 1")
	}

	var agent *model.Agent
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		agent, err = s.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if update.DisplayName != nil {
			agent.DisplayName = *update.DisplayName
		}
		if update.MaxConcurrentTasks != nil {
			agent.MaxConcurrentTasks = *update.MaxConcurrentTasks
		}
		return s.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ============================================================================
// 技能
// ============================================================================

// CapabilityDecl 一项技能声明
type CapabilityDecl struct {
	SkillID     string                 `json:"skill_id"`
	SkillName   string                 `json:"skill_name"`
	Tags        []string               `json:"tags,omitempty"`
	Proficiency model.ProficiencyLevel `json:"proficiency"`
}

// ReplaceCapabilities 全量替换 Agent 的技能声明
func (s *Service) ReplaceCapabilities(ctx context.Context, agentID string, decls []CapabilityDecl) ([]*model.Capability, error) {
	if _, err := s.Get(ctx, agentID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	caps := make([]*model.Capability, 0, len(decls))
	for _, d := range decls {
		if d.SkillName == "" {
			return nil, errdefs.Invalidf("skill name is required")
		}
		switch d.Proficiency {
		case model.ProficiencyBeginner, model.ProficiencyIntermediate, model.ProficiencyAdvanced, model.ProficiencyExpert:
		default:
			return nil, errdefs.Invalidf("unknown proficiency %q for skill %s", d.Proficiency, d.SkillName)
		}
		caps = append(caps, &model.Capability{
			ID:          model.NewID(model.PrefixCapability),
			AgentID:     agentID,
			SkillID:     d.SkillID,
			SkillName:   d.SkillName,
			Tags:        d.Tags,
			Proficiency: d.Proficiency,
			CreatedAt:   now,
		})
	}

	if err := s.store.ReplaceCapabilities(ctx, agentID, caps); err != nil {
		return nil, err
	}
	return caps, nil
}

// Capabilities 查询 Agent 的技能声明
func (s *Service) Capabilities(ctx context.Context, agentID string) ([]*model.Capability, error) {
	return s.store.ListCapabilities(ctx, agentID)
}

// ============================================================================
// 状态管理
// ============================================================================

// Suspend 停用 Agent
func (s *Service) Suspend(ctx context.Context, agentID, reason string) error {
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status == model.AgentStatusSuspended {
			return nil
		}
		agent.Status = model.AgentStatusSuspended
		agent.SuspendReason = reason
		return s.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return err
	}

	if s.presence != nil {
		if err := s.presence.DeleteAgentPresence(ctx, agentID); err != nil {
			s.log.Warn("Failed to drop presence cache", "agent_id", agentID, "error", err.Error())
		}
	}
	if s.events != nil {
		s.events.Record(ctx, model.EventAgentSuspended, "", agentID, map[string]any{"reason": reason})
	}
	if s.metrics != nil {
		s.metrics.SuspensionsTotal.Inc()
	}
	s.log.Warn("Agent suspended", "agent_id", agentID, "reason", reason)
	return nil
}

// Reactivate 恢复被停用的 Agent
func (s *Service) Reactivate(ctx context.Context, agentID string) error {
	return storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != model.AgentStatusSuspended {
			return errdefs.InvalidStatef("agent %s is not suspended (status %s)", agentID, agent.Status)
		}
		agent.Status = model.AgentStatusActive
		agent.SuspendReason = ""
		return s.store.UpdateAgent(ctx, agent)
	})
}

// MarkOffline 把心跳超时的 Agent 置为离线（由巡检调用）
func (s *Service) MarkOffline(ctx context.Context, agentID string) error {
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != model.AgentStatusActive {
			return nil
		}
		agent.Status = model.AgentStatusOffline
		return s.store.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return err
	}

	if s.presence != nil {
		if err := s.presence.DeleteAgentPresence(ctx, agentID); err != nil {
			s.log.Warn("Failed to drop presence cache", "agent_id", agentID, "error", err.Error())
		}
	}
	if s.events != nil {
		s.events.Record(ctx, model.EventAgentOffline, "", agentID, nil)
	}
	s.log.Info("Agent marked offline", "agent_id", agentID)
	return nil
}

// reactivate 离线回跳：offline → active
func (s *Service) reactivate(ctx context.Context, agentID string) error {
	return storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		agent, err := s.Get(ctx, agentID)
		if err != nil {
			return err
		}
		if agent.Status != model.AgentStatusOffline {
			return nil
		}
		agent.Status = model.AgentStatusActive
		return s.store.UpdateAgent(ctx, agent)
	})
}

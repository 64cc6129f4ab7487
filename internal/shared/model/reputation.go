// Package model 声誉相关的数据模型
package model

import (
	"time"
)

// 声誉常量
const (
	// InitialReputationScore 新 Agent 的初始综合声誉
	InitialReputationScore = 0.5

	// SuspendThreshold 综合声誉低于该值时 Agent 被停用
	SuspendThreshold = 0.3

	// AuditEligibilityThreshold 综合声誉低于该值时知识包不可送审
	AuditEligibilityThreshold = 0.4

	// FailurePenalty 任务失败的固定声誉扣减
	FailurePenalty = 0.05

	// DefaultUptimeScore 心跳统计不足时的在线率默认值
	DefaultUptimeScore = 0.9
)

// 综合声誉权重（任务成功时整体重写综合分）
const (
	ReputationWeightSuccess = 0.40
	ReputationWeightTime    = 0.25
	ReputationWeightQuality = 0.25
	ReputationWeightUptime  = 0.10
)

// Reputation Agent 的声誉档案
//
// OverallScore 只在任务结果事件时变动：成功时按
// 0.40*1.0 + 0.25*timeScore + 0.25*qualityScore + 0.10*UptimeScore
// 整体重写；失败时在现值上扣减固定惩罚。其余字段为随事件
// 累积的观测统计，各分量约束在 [0,1]。
type Reputation struct {
	// ID 唯一标识
	ID string `json:"id" bson:"_id" db:"id"`

	// AgentID 所属 Agent（唯一）
	AgentID string `json:"agent_id" bson:"agent_id" db:"agent_id"`

	// OverallScore 综合声誉 [0,1]
	OverallScore float64 `json:"overall_score" bson:"overall_score" db:"overall_score"`

	// SuccessRate 任务成功率 [0,1]
	SuccessRate float64 `json:"success_rate" bson:"success_rate" db:"success_rate"`

	// QualityScore 产出质量 [0,1]（由审计结果回填）
	QualityScore float64 `json:"quality_score" bson:"quality_score" db:"quality_score"`

	// TimelinessScore 时效性 [0,1]
	TimelinessScore float64 `json:"timeliness_score" bson:"timeliness_score" db:"timeliness_score"`

	// UptimeScore 在线率 [0,1]
	UptimeScore float64 `json:"uptime_score" bson:"uptime_score" db:"uptime_score"`

	// AvgResponseSeconds 平均响应时长（秒）
	AvgResponseSeconds float64 `json:"avg_response_seconds" bson:"avg_response_seconds" db:"avg_response_seconds"`

	// SampleCount 参与统计的任务数
	SampleCount int `json:"sample_count" bson:"sample_count" db:"sample_count"`

	// Version 乐观锁版本号
	Version int64 `json:"version" bson:"version" db:"version"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// NewReputation 创建初始声誉档案
func NewReputation(id, agentID string, now time.Time) *Reputation {
	return &Reputation{
		ID:              id,
		AgentID:         agentID,
		OverallScore:    InitialReputationScore,
		SuccessRate:     InitialReputationScore,
		QualityScore:    InitialReputationScore,
		TimelinessScore: InitialReputationScore,
		UptimeScore:     DefaultUptimeScore,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// OverallOnSuccess 任务成功后的综合声誉
//
// 成功分量恒为满分；质量为当期评分来源（无外部评分时取占位值）；
// 在线率取档案现值，本次不重算。
func OverallOnSuccess(timeScore, qualityScore, uptimeScore float64) float64 {
	return Clamp01(ReputationWeightSuccess*1.0 +
		ReputationWeightTime*Clamp01(timeScore) +
		ReputationWeightQuality*Clamp01(qualityScore) +
		ReputationWeightUptime*Clamp01(uptimeScore))
}

// BelowSuspendThreshold 判断是否触发停用
func (r *Reputation) BelowSuspendThreshold() bool {
	return r.OverallScore < SuspendThreshold
}

// AuditEligible 判断该 Agent 的知识包是否可送审
func (r *Reputation) AuditEligible() bool {
	return r.OverallScore >= AuditEligibilityThreshold
}

// Clamp01 将值截断到 [0,1]
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

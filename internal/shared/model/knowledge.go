// Package model 知识包与审计相关的数据模型
//
// knowledge.go 包含：
//   - KnowledgePackage：可交易的知识包
//   - AuditStatus：审计状态枚举
//   - KnowledgeAudit：一次审计的完整记录
//   - AuditCheck：单项审计检查结果
package model

import (
	"time"
)

// 审计常量
const (
	// AuditValidityDays 审计结果有效期（天），过期后需重新审计
	AuditValidityDays = 90

	// AuditCheckPassScore 单项检查的及格线
	AuditCheckPassScore = 60
)

// ============================================================================
// AuditStatus - 审计状态
// ============================================================================

// AuditStatus 知识包的审计状态
type AuditStatus string

const (
	// AuditStatusPending 待审计
	AuditStatusPending AuditStatus = "pending"

	// AuditStatusInReview 审计中（检查-设置屏障，防止重复审计）
	AuditStatusInReview AuditStatus = "in_review"

	// AuditStatusApproved 通过（quality >= 70）
	AuditStatusApproved AuditStatus = "approved"

	// AuditStatusConditional 有条件通过（50 <= quality < 70），不可上架
	AuditStatusConditional AuditStatus = "conditional"

	// AuditStatusRejected 未通过（quality < 50）
	AuditStatusRejected AuditStatus = "rejected"
)

// ============================================================================
// KnowledgePackage
// ============================================================================

// KnowledgePackage 可交易的知识包
//
// 知识包只有通过审计（approved）后才可上架（Listed），
// 上架价即审计核定的公允价值 FMV。
type KnowledgePackage struct {
	// === 基础字段 ===

	// ID 唯一标识，格式 pkg-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// OwnerID 当前所有者 Agent ID（易货完成后迁移）
	OwnerID string `json:"owner_id" bson:"owner_id" db:"owner_id"`

	// Name 知识包名称
	Name string `json:"name" bson:"name" db:"name"`

	// Description 描述
	Description string `json:"description,omitempty" bson:"description,omitempty" db:"description"`

	// Domain 领域（如 kubernetes、payments）
	Domain string `json:"domain,omitempty" bson:"domain,omitempty" db:"domain"`

	// === 内容指纹 ===

	// RootHash 内容根哈希，同时作为归档对象的存储键
	RootHash string `json:"root_hash" bson:"root_hash" db:"root_hash"`

	// ModuleCount 模块数量
	ModuleCount int `json:"module_count" bson:"module_count" db:"module_count"`

	// TestCount 测试数量
	TestCount int `json:"test_count" bson:"test_count" db:"test_count"`

	// Proficiency 知识包等级
	Proficiency ProficiencyLevel `json:"proficiency" bson:"proficiency" db:"proficiency"`

	// === 审计与上架 ===

	// AuditStatus 审计状态
	AuditStatus AuditStatus `json:"audit_status" bson:"audit_status" db:"audit_status"`

	// QualityScore 审计核定的质量分 [0,100]
	QualityScore int `json:"quality_score" bson:"quality_score" db:"quality_score"`

	// FairMarketValue 公允价值，6 位小数的信用点字符串
	FairMarketValue string `json:"fair_market_value" bson:"fair_market_value" db:"fair_market_value"`

	// Listed 是否上架可交易
	Listed bool `json:"listed" bson:"listed" db:"listed"`

	// ListingPrice 上架价格（等于 FMV）
	ListingPrice string `json:"listing_price" bson:"listing_price" db:"listing_price"`

	// AuditExpiresAt 审计有效期截止时间
	AuditExpiresAt *time.Time `json:"audit_expires_at,omitempty" bson:"audit_expires_at,omitempty" db:"audit_expires_at"`

	// TotalTrades 累计成交次数
	TotalTrades int `json:"total_trades" bson:"total_trades" db:"total_trades"`

	// === 并发控制 ===

	// Version 乐观锁版本号
	Version int64 `json:"version" bson:"version" db:"version"`

	// === 时间戳 ===

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// Tradable 判断是否满足易货前提：已上架且审计通过且未过期
func (p *KnowledgePackage) Tradable(now time.Time) bool {
	if !p.Listed || p.AuditStatus != AuditStatusApproved {
		return false
	}
	return p.AuditExpiresAt == nil || now.Before(*p.AuditExpiresAt)
}

// AuditExpired 判断审计是否已过期
func (p *KnowledgePackage) AuditExpired(now time.Time) bool {
	return p.AuditExpiresAt != nil && !now.Before(*p.AuditExpiresAt)
}

// LevelMultiplier 返回等级对应的 FMV 乘数
func (p *KnowledgePackage) LevelMultiplier() float64 {
	switch p.Proficiency {
	case ProficiencyExpert:
		return 2.0
	case ProficiencyAdvanced:
		return 1.5
	case ProficiencyIntermediate:
		return 1.0
	case ProficiencyBeginner:
		return 0.5
	default:
		return 1.0
	}
}

// ============================================================================
// KnowledgeAudit - 审计记录
// ============================================================================

// AuditCheck 单项审计检查结果
type AuditCheck struct {
	// Name 检查项名称
	Name string `json:"name"`

	// Score 得分 [0,100]
	Score int `json:"score"`

	// Weight 权重（所有检查项权重之和为 100）
	Weight int `json:"weight"`

	// Passed 是否及格（score >= 60）
	Passed bool `json:"passed"`

	// Notes 检查说明
	Notes string `json:"notes,omitempty"`
}

// AuditVerdict 审计结论
type AuditVerdict string

const (
	VerdictApproved    AuditVerdict = "approved"
	VerdictConditional AuditVerdict = "conditional"
	VerdictRejected    AuditVerdict = "rejected"
)

// VerdictForQuality 按质量分得出结论
func VerdictForQuality(quality int) AuditVerdict {
	switch {
	case quality >= 70:
		return VerdictApproved
	case quality >= 50:
		return VerdictConditional
	default:
		return VerdictRejected
	}
}

// AuditStatusForVerdict 结论对应的知识包审计状态
func AuditStatusForVerdict(v AuditVerdict) AuditStatus {
	switch v {
	case VerdictApproved:
		return AuditStatusApproved
	case VerdictConditional:
		return AuditStatusConditional
	default:
		return AuditStatusRejected
	}
}

// KnowledgeAudit 一次审计的完整记录
type KnowledgeAudit struct {
	// ID 唯一标识，格式 aud-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// PackageID 被审计的知识包
	PackageID string `json:"package_id" bson:"package_id" db:"package_id"`

	// AuditorID 发起审计的 Agent
	AuditorID string `json:"auditor_id" bson:"auditor_id" db:"auditor_id"`

	// Checks 各项检查结果
	Checks []AuditCheck `json:"checks" bson:"checks" db:"checks"`

	// QualityScore 加权质量分 [0,100]
	QualityScore int `json:"quality_score" bson:"quality_score" db:"quality_score"`

	// Verdict 审计结论
	Verdict AuditVerdict `json:"verdict" bson:"verdict" db:"verdict"`

	// FairMarketValue 核定的公允价值
	FairMarketValue string `json:"fair_market_value" bson:"fair_market_value" db:"fair_market_value"`

	// Findings 发现的问题
	Findings []string `json:"findings,omitempty" bson:"findings,omitempty" db:"findings"`

	// Recommendations 改进建议
	Recommendations []string `json:"recommendations,omitempty" bson:"recommendations,omitempty" db:"recommendations"`

	// ExpiresAt 审计有效期截止时间
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at" db:"expires_at"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

// Package model 易货交易相关的数据模型
//
// barter.go 包含：
//   - BarterTransaction：两个知识包的以物易物交易
//   - BarterStatus / FeeStatus：交易与手续费状态机
//
// 易货双方各自在链外支付一笔 TON 计价的手续费，交易在双方费用
// 均确认后锁定，在双方各自核验通过后完成。完成只累加双方知识包
// 的成交次数，知识内容在链外交付，所有权归属不变。
package model

import (
	"time"
)

// 易货常量
const (
	// BarterDeadlineHours 交易有效时长（小时），超时自动过期
	BarterDeadlineHours = 24

	// FairnessTolerance 双方估值差的容忍阈值（相对于较大 FMV）
	FairnessTolerance = 0.30
)

// ============================================================================
// BarterStatus - 交易状态
// ============================================================================

// BarterStatus 易货交易状态
//
// 合法迁移：
//   - proposed → countered | accepted | cancelled | expired
//   - countered → accepted | cancelled | expired
//   - accepted → fee_locked | cancelled | expired
//   - fee_locked → verifying | completed | disputed | expired
//   - verifying → completed | disputed | expired
//
// completed / cancelled / expired / disputed 为终态。
type BarterStatus string

const (
	// BarterStatusProposed 已提议：等待对方响应
	BarterStatusProposed BarterStatus = "proposed"

	// BarterStatusCountered 已还价：响应方换了要价的知识包
	BarterStatusCountered BarterStatus = "countered"

	// BarterStatusAccepted 已接受：等待双方支付手续费
	BarterStatusAccepted BarterStatus = "accepted"

	// BarterStatusFeeLocked 费用已锁定：双方手续费均已确认
	BarterStatusFeeLocked BarterStatus = "fee_locked"

	// BarterStatusVerifying 核验中：一方已提交核验结果
	BarterStatusVerifying BarterStatus = "verifying"

	// BarterStatusCompleted 已完成：双方核验均通过
	BarterStatusCompleted BarterStatus = "completed"

	// BarterStatusCancelled 已取消
	BarterStatusCancelled BarterStatus = "cancelled"

	// BarterStatusExpired 已过期
	BarterStatusExpired BarterStatus = "expired"

	// BarterStatusDisputed 有争议：需人工仲裁
	BarterStatusDisputed BarterStatus = "disputed"
)

// barterTransitions 状态迁移表
var barterTransitions = map[BarterStatus][]BarterStatus{
	BarterStatusProposed:  {BarterStatusCountered, BarterStatusAccepted, BarterStatusCancelled, BarterStatusExpired},
	BarterStatusCountered: {BarterStatusAccepted, BarterStatusCancelled, BarterStatusExpired},
	BarterStatusAccepted:  {BarterStatusFeeLocked, BarterStatusCancelled, BarterStatusExpired},
	BarterStatusFeeLocked: {BarterStatusVerifying, BarterStatusCompleted, BarterStatusDisputed, BarterStatusExpired},
	BarterStatusVerifying: {BarterStatusCompleted, BarterStatusDisputed, BarterStatusExpired},
}

// CanTransition 判断状态迁移是否合法
func (s BarterStatus) CanTransition(to BarterStatus) bool {
	for _, t := range barterTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal 判断是否为终态
func (s BarterStatus) Terminal() bool {
	switch s {
	case BarterStatusCompleted, BarterStatusCancelled, BarterStatusExpired, BarterStatusDisputed:
		return true
	}
	return false
}

// ============================================================================
// FeeStatus - 手续费状态
// ============================================================================

// FeeStatus 易货手续费状态
type FeeStatus string

const (
	// FeeStatusPending 待支付
	FeeStatusPending FeeStatus = "pending"

	// FeeStatusPartiallyPaid 一方已支付
	FeeStatusPartiallyPaid FeeStatus = "partially_paid"

	// FeeStatusLocked 双方均已支付，费用锁定
	FeeStatusLocked FeeStatus = "locked"

	// FeeStatusReleased 交易完成，费用释放给平台
	FeeStatusReleased FeeStatus = "released"

	// FeeStatusRefunded 交易取消/过期，费用退还
	FeeStatusRefunded FeeStatus = "refunded"
)

// ============================================================================
// BarterTransaction
// ============================================================================

// BarterTransaction 两个知识包的易货交易
type BarterTransaction struct {
	// === 基础字段 ===

	// ID 唯一标识，格式 brt-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// Status 交易状态
	Status BarterStatus `json:"status" bson:"status" db:"status"`

	// FeeStatus 手续费状态
	FeeStatus FeeStatus `json:"fee_status" bson:"fee_status" db:"fee_status"`

	// === 参与方 ===

	// ProposerID 提议方 Agent
	ProposerID string `json:"proposer_id" bson:"proposer_id" db:"proposer_id"`

	// ResponderID 响应方 Agent（被要价知识包的所有者）
	ResponderID string `json:"responder_id" bson:"responder_id" db:"responder_id"`

	// OfferedPackageID 提议方出让的知识包
	OfferedPackageID string `json:"offered_package_id" bson:"offered_package_id" db:"offered_package_id"`

	// RequestedPackageID 提议方想要的知识包；
	// 为空表示开放提议，等待响应方还价指定
	RequestedPackageID string `json:"requested_package_id,omitempty" bson:"requested_package_id,omitempty" db:"requested_package_id"`

	// === 估值与公平性 ===

	// OfferedFMV 出让包的公允价值（提议时快照）
	OfferedFMV string `json:"offered_fmv" bson:"offered_fmv" db:"offered_fmv"`

	// RequestedFMV 要价包的公允价值（提议时快照），未指定要价包时为空
	RequestedFMV string `json:"requested_fmv,omitempty" bson:"requested_fmv,omitempty" db:"requested_fmv"`

	// FMVDifferencePercent 双方估值差占均值的百分比（两位小数字符串，
	// 如 "33.33"）；任一侧估值缺失或为零时为空
	FMVDifferencePercent string `json:"fmv_difference_percent,omitempty" bson:"fmv_difference_percent,omitempty" db:"fmv_difference_percent"`

	// FairnessAcked 响应方是否已确认接受估值差
	FairnessAcked bool `json:"fairness_acked" bson:"fairness_acked" db:"fairness_acked"`

	// === 手续费（TON 计价，9 位小数字符串）===

	// PerSideFeeTON 每方应付的手续费
	PerSideFeeTON string `json:"per_side_fee_ton" bson:"per_side_fee_ton" db:"per_side_fee_ton"`

	// ProposerFeeTxHash 提议方的支付凭证哈希
	ProposerFeeTxHash string `json:"proposer_fee_tx_hash,omitempty" bson:"proposer_fee_tx_hash,omitempty" db:"proposer_fee_tx_hash"`

	// ResponderFeeTxHash 响应方的支付凭证哈希
	ResponderFeeTxHash string `json:"responder_fee_tx_hash,omitempty" bson:"responder_fee_tx_hash,omitempty" db:"responder_fee_tx_hash"`

	// === 收货核验 ===

	// ProposerVerified 提议方核验是否通过
	ProposerVerified bool `json:"proposer_verified" bson:"proposer_verified" db:"proposer_verified"`

	// ResponderVerified 响应方核验是否通过
	ResponderVerified bool `json:"responder_verified" bson:"responder_verified" db:"responder_verified"`

	// === 时限 ===

	// Deadline 交易截止时间
	Deadline time.Time `json:"deadline" bson:"deadline" db:"deadline"`

	// === 并发控制 ===

	// Version 乐观锁版本号
	Version int64 `json:"version" bson:"version" db:"version"`

	// === 时间戳 ===

	// CompletedAt 完成时间
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" db:"completed_at"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`

	// UpdatedAt 更新时间
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// IsParty 判断 agentID 是否为交易参与方
func (b *BarterTransaction) IsParty(agentID string) bool {
	return agentID == b.ProposerID || agentID == b.ResponderID
}

// BothFeesPaid 判断双方手续费凭证是否齐备
func (b *BarterTransaction) BothFeesPaid() bool {
	return b.ProposerFeeTxHash != "" && b.ResponderFeeTxHash != ""
}

// BothVerified 判断双方核验是否均已通过
func (b *BarterTransaction) BothVerified() bool {
	return b.ProposerVerified && b.ResponderVerified
}

// Expired 判断是否超过截止时间
func (b *BarterTransaction) Expired(now time.Time) bool {
	return now.After(b.Deadline)
}

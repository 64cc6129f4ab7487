// Package model 账本相关的数据模型
package model

import (
	"time"
)

// ============================================================================
// TransactionType - 账本条目类型
// ============================================================================

// TransactionType 账本条目类型
type TransactionType string

const (
	// TxnTaskReward 任务结算：净奖励记入承接方
	TxnTaskReward TransactionType = "task_reward"

	// TxnTaskEscrow 任务托管：发布方冻结悬赏
	TxnTaskEscrow TransactionType = "task_escrow"

	// TxnEscrowRefund 托管退还：任务终态失败/取消时退回发布方
	TxnEscrowRefund TransactionType = "escrow_refund"

	// TxnPlatformFee 平台手续费：记入金库
	TxnPlatformFee TransactionType = "platform_fee"

	// TxnTransferOut 点对点转账（支出方）
	TxnTransferOut TransactionType = "transfer_out"

	// TxnTransferIn 点对点转账（收入方）
	TxnTransferIn TransactionType = "transfer_in"

	// TxnBarterFee 易货手续费（TON 计价的账外记录）
	TxnBarterFee TransactionType = "barter_fee"

	// TxnEnrollmentGrant 注册赠送的初始余额
	TxnEnrollmentGrant TransactionType = "enrollment_grant"
)

// ============================================================================
// LedgerEntry
// ============================================================================

// LedgerEntry 不可变的账本条目
//
// 每次余额变动都必须产生对应条目，余额与账本在同一逻辑提交中
// 写入。BalanceAfter* 记录变动后的余额快照，用于对账。
type LedgerEntry struct {
	// ID 唯一标识，格式 txn-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// Type 条目类型
	Type TransactionType `json:"type" bson:"type" db:"type"`

	// FromAgentID 支出方（平台发放时为空）
	FromAgentID *string `json:"from_agent_id,omitempty" bson:"from_agent_id,omitempty" db:"from_agent_id"`

	// ToAgentID 收入方
	ToAgentID *string `json:"to_agent_id,omitempty" bson:"to_agent_id,omitempty" db:"to_agent_id"`

	// Amount 变动金额，6 位小数的十进制字符串
	Amount string `json:"amount" bson:"amount" db:"amount"`

	// Fee 本条目关联的手续费
	Fee string `json:"fee,omitempty" bson:"fee,omitempty" db:"fee"`

	// BalanceAfterFrom 支出方变动后的余额快照
	BalanceAfterFrom *string `json:"balance_after_from,omitempty" bson:"balance_after_from,omitempty" db:"balance_after_from"`

	// BalanceAfterTo 收入方变动后的余额快照
	BalanceAfterTo *string `json:"balance_after_to,omitempty" bson:"balance_after_to,omitempty" db:"balance_after_to"`

	// RefID 关联业务实体 ID（任务、易货等）
	RefID string `json:"ref_id,omitempty" bson:"ref_id,omitempty" db:"ref_id"`

	// Memo 备注
	Memo string `json:"memo,omitempty" bson:"memo,omitempty" db:"memo"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

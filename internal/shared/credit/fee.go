// Package credit 平台手续费计算
package credit

import (
	"nervix-hub/internal/shared/errdefs"
)

// Schedule 手续费率表
//
// 百分比字段为百分数（2.5 表示 2.5%）。折扣在钳制之前作用于原始
// 费用，钳制保证 MinFee <= fee <= MaxFee。
type Schedule struct {
	// TaskSettlementPercent 任务结算费率
	TaskSettlementPercent Amount

	// BarterPercent 易货费率
	BarterPercent Amount

	// TransferPercent 点对点转账费率
	TransferPercent Amount

	// MinFee 单笔手续费下限
	MinFee Amount

	// MaxFee 单笔手续费上限
	MaxFee Amount

	// DiscountPercent 折扣比例（作用于原始费用，20 表示减免 20%）
	DiscountPercent Amount
}

// DefaultSchedule 平台默认费率
func DefaultSchedule() Schedule {
	return Schedule{
		TaskSettlementPercent: MustParse("2.5"),
		BarterPercent:         MustParse("1.5"),
		TransferPercent:       MustParse("1.0"),
		MinFee:                MustParse("0.010000"),
		MaxFee:                MustParse("500.000000"),
		DiscountPercent:       MustParse("20"),
	}
}

// Breakdown 一次手续费计算的完整分解
//
// 恒等式：Net + Fee == 原始金额。本金低于 MinFee 时 Net 为负，
// 调用方必须把这种情形当作领域边界处理（拒绝或另行兜底）。
type Breakdown struct {
	// Raw 折扣前的原始费用
	Raw Amount

	// Discount 折扣金额
	Discount Amount

	// Fee 最终手续费（折扣后再钳制）
	Fee Amount

	// Net 扣费后的净额
	Net Amount
}

// Calculate 计算手续费
//
// amount 必须为正；percent 为百分数费率；discounted 为 true 时
// 先按 DiscountPercent 减免原始费用，再按 [MinFee, MaxFee] 钳制。
// 钳制只作用于费用本身：本金低于 MinFee 时照收下限费，Net 为负。
func (s Schedule) Calculate(amount, percent Amount, discounted bool) (Breakdown, error) {
	if !amount.IsPositive() {
		return Breakdown{}, errdefs.Invalidf("fee base amount must be positive, got %s", Format(amount))
	}

	raw := Percent(amount, percent)

	discount := Zero()
	if discounted {
		discount = Percent(raw, s.DiscountPercent)
	}

	fee := Clamp(raw.Sub(discount), s.MinFee, s.MaxFee)

	return Breakdown{
		Raw:      raw,
		Discount: discount,
		Fee:      fee,
		Net:      amount.Sub(fee),
	}, nil
}

// TaskSettlement 任务结算手续费
func (s Schedule) TaskSettlement(reward Amount, discounted bool) (Breakdown, error) {
	return s.Calculate(reward, s.TaskSettlementPercent, discounted)
}

// Transfer 转账手续费
func (s Schedule) Transfer(amount Amount, discounted bool) (Breakdown, error) {
	return s.Calculate(amount, s.TransferPercent, discounted)
}

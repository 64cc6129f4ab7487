// Package barter 知识包易货引擎
//
// 两个已审计上架的知识包以物易物：提议 → （可选还价）→ 接受 →
// 双方链外支付 TON 手续费 → 费用锁定 → 双方提交核验结果 →
// 双方均通过后完成。完成只累加双方知识包的成交计数，知识内容在
// 链外交付，所有权归属不变。估值差百分比在提议/还价时落库，
// 超过容忍阈值的交易必须由响应方显式确认公平性后才能接受。
//
// 所有状态迁移按 model.BarterStatus 的迁移表校验，写回走版本守护
// 的 UpdateBarter，并发修改通过 WithRetry 重读重试。
package barter

import (
	"context"
	"fmt"
	"time"

	"nervix-hub/internal/hub/economy"
	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Config 易货引擎配置
type Config struct {
	// TONRate 信用点兑 TON 汇率（1 TON = TONRate 信用点）
	TONRate credit.Amount

	// MinFeeTON 每方手续费下限（TON）
	MinFeeTON credit.Amount

	// FeePercent 手续费率（百分数，作用于出让包 FMV 的 TON 价值）
	FeePercent credit.Amount

	// FairnessTolerance 双方估值相对差的容忍上限
	FairnessTolerance credit.Amount

	// Deadline 交易有效时长
	Deadline time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TONRate:           credit.MustParse("20"),
		MinFeeTON:         credit.MustParse("0.02"),
		FeePercent:        credit.DefaultSchedule().BarterPercent,
		FairnessTolerance: credit.MustParse("0.30"),
		Deadline:          model.BarterDeadlineHours * time.Hour,
	}
}

// Engine 易货引擎
type Engine struct {
	store   storage.PersistentStore
	economy *economy.Engine
	events  *events.Recorder
	metrics *metrics.Metrics
	cfg     Config
	log     *logging.Logger
}

// NewEngine 创建易货引擎
func NewEngine(store storage.PersistentStore, eco *economy.Engine, recorder *events.Recorder, m *metrics.Metrics, cfg Config) *Engine {
	return &Engine{
		store:   store,
		economy: eco,
		events:  recorder,
		metrics: m,
		cfg:     cfg,
		log:     logging.Default("barter"),
	}
}

// ============================================================================
// 提议与还价
// ============================================================================

// Propose 向指定响应方发起易货提议
//
// 出让包必须为提议方所有且可交易。requestedPackageID 可为空：
// 空表示开放提议，由响应方还价时指定要价包；非空时要价包必须
// 可交易且为响应方所有。双方 FMV 在此刻快照并落库估值差百分比。
func (e *Engine) Propose(ctx context.Context, proposerID, responderID, offeredPackageID, requestedPackageID string) (*model.BarterTransaction, error) {
	if proposerID == responderID {
		return nil, errdefs.Invalidf("cannot barter with self")
	}
	if offeredPackageID == requestedPackageID && requestedPackageID != "" {
		return nil, errdefs.Invalidf("cannot barter a package for itself")
	}

	now := time.Now().UTC()
	offered, err := e.tradablePackage(ctx, offeredPackageID, now)
	if err != nil {
		return nil, err
	}
	if offered.OwnerID != proposerID {
		return nil, errdefs.Unauthorizedf("agent %s does not own offered package %s", proposerID, offeredPackageID)
	}

	responder, err := e.store.GetAgent(ctx, responderID)
	if err != nil {
		return nil, err
	}
	if responder == nil {
		return nil, errdefs.NotFoundf("responder %s", responderID)
	}

	offeredFMV := credit.MustParse(offered.FairMarketValue)
	requestedFMVStr := ""
	fmvDiff := ""
	if requestedPackageID != "" {
		requested, err := e.tradablePackage(ctx, requestedPackageID, now)
		if err != nil {
			return nil, err
		}
		if requested.OwnerID != responderID {
			return nil, errdefs.Unauthorizedf("responder %s does not own requested package %s", responderID, requestedPackageID)
		}
		requestedFMV := credit.MustParse(requested.FairMarketValue)
		requestedFMVStr = credit.Format(requestedFMV)
		fmvDiff = fmvDifferencePercent(offeredFMV, requestedFMV)
	}

	barter := &model.BarterTransaction{
		ID:                   model.NewID(model.PrefixBarter),
		Status:               model.BarterStatusProposed,
		FeeStatus:            model.FeeStatusPending,
		ProposerID:           proposerID,
		ResponderID:          responderID,
		OfferedPackageID:     offeredPackageID,
		RequestedPackageID:   requestedPackageID,
		OfferedFMV:           credit.Format(offeredFMV),
		RequestedFMV:         requestedFMVStr,
		FMVDifferencePercent: fmvDiff,
		PerSideFeeTON:        e.perSideFee(offeredFMV),
		Deadline:             now.Add(e.cfg.Deadline),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := e.store.CreateBarter(ctx, barter); err != nil {
		return nil, err
	}

	e.log.Info("Barter proposed", "barter_id", barter.ID,
		"proposer_id", proposerID, "responder_id", barter.ResponderID,
		"offered_fmv", barter.OfferedFMV, "requested_fmv", barter.RequestedFMV,
		"fmv_difference_percent", barter.FMVDifferencePercent, "per_side_fee_ton", barter.PerSideFeeTON)
	return barter, nil
}

// Counter 响应方还价：换一个自己的包作为要价包
func (e *Engine) Counter(ctx context.Context, responderID, barterID, alternativePackageID string) (*model.BarterTransaction, error) {
	return e.mutate(ctx, barterID, func(b *model.BarterTransaction, now time.Time) error {
		if b.ResponderID != responderID {
			return errdefs.Unauthorizedf("agent %s is not the responder of barter %s", responderID, barterID)
		}
		if !b.Status.CanTransition(model.BarterStatusCountered) {
			return errdefs.InvalidStatef("cannot counter barter %s in status %s", barterID, b.Status)
		}

		alt, err := e.tradablePackage(ctx, alternativePackageID, now)
		if err != nil {
			return err
		}
		if alt.OwnerID != responderID {
			return errdefs.Unauthorizedf("agent %s does not own package %s", responderID, alternativePackageID)
		}

		b.RequestedPackageID = alternativePackageID
		b.RequestedFMV = alt.FairMarketValue
		b.FMVDifferencePercent = fmvDifferencePercent(
			credit.MustParse(b.OfferedFMV), credit.MustParse(b.RequestedFMV))
		b.FairnessAcked = false
		b.Status = model.BarterStatusCountered
		return nil
	})
}

// ============================================================================
// 接受与手续费
// ============================================================================

// Accept 响应方接受提议
//
// 公平性保证：估值差超过阈值的交易必须 fairnessAcked 为 true，
// 否则返回 ErrFairnessViolation，交易不可静默通过。
func (e *Engine) Accept(ctx context.Context, responderID, barterID string, fairnessAcked bool) (*model.BarterTransaction, error) {
	return e.mutate(ctx, barterID, func(b *model.BarterTransaction, _ time.Time) error {
		if b.ResponderID != responderID {
			return errdefs.Unauthorizedf("agent %s is not the responder of barter %s", responderID, barterID)
		}
		if !b.Status.CanTransition(model.BarterStatusAccepted) {
			return errdefs.InvalidStatef("cannot accept barter %s in status %s", barterID, b.Status)
		}
		if b.RequestedPackageID == "" {
			return errdefs.InvalidStatef("barter %s has no requested package; counter with one first", barterID)
		}
		if e.exceedsTolerance(b.FMVDifferencePercent) && !fairnessAcked {
			return fmt.Errorf("barter %s FMV gap exceeds tolerance: %w", barterID, errdefs.ErrFairnessViolation)
		}
		b.FairnessAcked = fairnessAcked
		b.Status = model.BarterStatusAccepted
		return nil
	})
}

// ConfirmFeePaid 参与方确认已支付本方手续费（链外 TON 转账凭证）
//
// 幂等：同一方重复提交相同凭证不报错。双方凭证齐备后交易进入
// fee_locked，每方的手续费各记一条账本流水。
func (e *Engine) ConfirmFeePaid(ctx context.Context, partyID, barterID, txHash string) (*model.BarterTransaction, error) {
	if txHash == "" {
		return nil, errdefs.Invalidf("fee transaction hash is required")
	}

	recorded := false
	barter, err := e.mutate(ctx, barterID, func(b *model.BarterTransaction, _ time.Time) error {
		recorded = false
		if !b.IsParty(partyID) {
			return errdefs.Unauthorizedf("agent %s is not a party of barter %s", partyID, barterID)
		}
		if b.Status != model.BarterStatusAccepted {
			return errdefs.InvalidStatef("cannot confirm fee for barter %s in status %s", barterID, b.Status)
		}

		switch partyID {
		case b.ProposerID:
			if b.ProposerFeeTxHash == txHash {
				return nil
			}
			if b.ProposerFeeTxHash != "" {
				return errdefs.Invalidf("proposer fee already confirmed with a different tx hash")
			}
			b.ProposerFeeTxHash = txHash
		case b.ResponderID:
			if b.ResponderFeeTxHash == txHash {
				return nil
			}
			if b.ResponderFeeTxHash != "" {
				return errdefs.Invalidf("responder fee already confirmed with a different tx hash")
			}
			b.ResponderFeeTxHash = txHash
		}
		recorded = true

		if b.BothFeesPaid() {
			b.FeeStatus = model.FeeStatusLocked
			b.Status = model.BarterStatusFeeLocked
		} else {
			b.FeeStatus = model.FeeStatusPartiallyPaid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if recorded && e.economy != nil {
		memo := fmt.Sprintf("Barter fee (tx %s)", txHash)
		if err := e.economy.RecordBarterFee(ctx, partyID, barterID, barter.PerSideFeeTON, memo); err != nil {
			e.log.Warn("Failed to record barter fee", "barter_id", barterID, "error", err.Error())
		}
	}
	return barter, nil
}

// ============================================================================
// 核验与完成
// ============================================================================

// Verify 参与方提交本方核验结果
//
// verified 为本方核验是否通过。单方提交后进入 verifying，双方均
// 通过后交易完成：双方知识包成交计数各 +1（所有权不变），费用
// 释放给平台。提交未通过不会终止交易，可在争议或重新核验后推进。
func (e *Engine) Verify(ctx context.Context, partyID, barterID string, verified bool) (*model.BarterTransaction, error) {
	barter, err := e.mutate(ctx, barterID, func(b *model.BarterTransaction, now time.Time) error {
		if !b.IsParty(partyID) {
			return errdefs.Unauthorizedf("agent %s is not a party of barter %s", partyID, barterID)
		}
		if b.Status != model.BarterStatusFeeLocked && b.Status != model.BarterStatusVerifying {
			return errdefs.InvalidStatef("cannot verify barter %s in status %s", barterID, b.Status)
		}

		if partyID == b.ProposerID {
			b.ProposerVerified = verified
		} else {
			b.ResponderVerified = verified
		}

		if b.BothVerified() {
			b.Status = model.BarterStatusCompleted
			b.FeeStatus = model.FeeStatusReleased
			completed := now
			b.CompletedAt = &completed
		} else {
			b.Status = model.BarterStatusVerifying
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if barter.Status == model.BarterStatusCompleted {
		if err := e.recordTrades(ctx, barter); err != nil {
			return nil, err
		}
		if e.events != nil {
			e.events.Record(ctx, model.EventBarterCompleted, partyID, barter.ID, map[string]any{
				"proposer_id":  barter.ProposerID,
				"responder_id": barter.ResponderID,
				"offered":      barter.OfferedPackageID,
				"requested":    barter.RequestedPackageID,
			})
		}
		if e.metrics != nil {
			e.metrics.RecordBarterTerminal(string(model.BarterStatusCompleted))
		}
		e.log.Info("Barter completed", "barter_id", barter.ID,
			"proposer_id", barter.ProposerID, "responder_id", barter.ResponderID)
	}
	return barter, nil
}

// ============================================================================
// 侧向退出
// ============================================================================

// Cancel 参与方取消交易（仅限费用锁定之前）
func (e *Engine) Cancel(ctx context.Context, partyID, barterID string) (*model.BarterTransaction, error) {
	barter, err := e.mutate(ctx, barterID, func(b *model.BarterTransaction, _ time.Time) error {
		if !b.IsParty(partyID) {
			return errdefs.Unauthorizedf("agent %s is not a party of barter %s", partyID, barterID)
		}
		if !b.Status.CanTransition(model.BarterStatusCancelled) {
			return errdefs.InvalidStatef("cannot cancel barter %s in status %s", barterID, b.Status)
		}
		b.Status = model.BarterStatusCancelled
		if b.FeeStatus == model.FeeStatusPartiallyPaid {
			b.FeeStatus = model.FeeStatusRefunded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordBarterTerminal(string(model.BarterStatusCancelled))
	}
	e.log.Info("Barter cancelled", "barter_id", barterID, "by", partyID)
	return barter, nil
}

// Dispute 参与方发起争议（进入人工仲裁，费用冻结）
func (e *Engine) Dispute(ctx context.Context, partyID, barterID, reason string) (*model.BarterTransaction, error) {
	barter, err := e.mutate(ctx, barterID, func(b *model.BarterTransaction, _ time.Time) error {
		if !b.IsParty(partyID) {
			return errdefs.Unauthorizedf("agent %s is not a party of barter %s", partyID, barterID)
		}
		if !b.Status.CanTransition(model.BarterStatusDisputed) {
			return errdefs.InvalidStatef("cannot dispute barter %s in status %s", barterID, b.Status)
		}
		b.Status = model.BarterStatusDisputed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordBarterTerminal(string(model.BarterStatusDisputed))
	}
	e.log.Warn("Barter disputed", "barter_id", barterID, "by", partyID, "reason", reason)
	return barter, nil
}

// Expire 将超过截止时间的交易置为过期（由巡检调用）
func (e *Engine) Expire(ctx context.Context, barterID string) (*model.BarterTransaction, error) {
	barter, err := e.mutate(ctx, barterID, func(b *model.BarterTransaction, now time.Time) error {
		if b.Status.Terminal() {
			return errdefs.InvalidStatef("barter %s already terminal (%s)", barterID, b.Status)
		}
		if !b.Expired(now) {
			return errdefs.InvalidStatef("barter %s deadline not reached", barterID)
		}
		b.Status = model.BarterStatusExpired
		if b.FeeStatus == model.FeeStatusPartiallyPaid || b.FeeStatus == model.FeeStatusLocked {
			b.FeeStatus = model.FeeStatusRefunded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.events != nil {
		e.events.Record(ctx, model.EventBarterExpired, "", barterID, map[string]any{
			"proposer_id":  barter.ProposerID,
			"responder_id": barter.ResponderID,
		})
	}
	if e.metrics != nil {
		e.metrics.RecordBarterTerminal(string(model.BarterStatusExpired))
	}
	e.log.Info("Barter expired", "barter_id", barterID)
	return barter, nil
}

// ============================================================================
// 查询
// ============================================================================

// Get 查询易货交易
func (e *Engine) Get(ctx context.Context, barterID string) (*model.BarterTransaction, error) {
	barter, err := e.store.GetBarter(ctx, barterID)
	if err != nil {
		return nil, err
	}
	if barter == nil {
		return nil, errdefs.NotFoundf("barter %s", barterID)
	}
	return barter, nil
}

// List 按条件查询易货交易
func (e *Engine) List(ctx context.Context, filter storage.BarterFilter) ([]*model.BarterTransaction, error) {
	return e.store.ListBarters(ctx, filter)
}

// ============================================================================
// 内部
// ============================================================================

// mutate 读-改-写一条易货交易，版本冲突时重读重试
func (e *Engine) mutate(ctx context.Context, barterID string, fn func(*model.BarterTransaction, time.Time) error) (*model.BarterTransaction, error) {
	var barter *model.BarterTransaction
	err := storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		var err error
		barter, err = e.Get(ctx, barterID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := fn(barter, now); err != nil {
			return err
		}
		barter.UpdatedAt = now
		return e.store.UpdateBarter(ctx, barter)
	})
	if err != nil {
		return nil, err
	}
	return barter, nil
}

// tradablePackage 加载知识包并要求满足易货前提
func (e *Engine) tradablePackage(ctx context.Context, packageID string, now time.Time) (*model.KnowledgePackage, error) {
	pkg, err := e.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, errdefs.NotFoundf("package %s", packageID)
	}
	if !pkg.Tradable(now) {
		return nil, errdefs.InvalidStatef("package %s is not tradable (status %s, listed %t)", packageID, pkg.AuditStatus, pkg.Listed)
	}
	return pkg, nil
}

// recordTrades 双方知识包成交计数各 +1，所有权不变
func (e *Engine) recordTrades(ctx context.Context, barter *model.BarterTransaction) error {
	if err := e.bumpTrades(ctx, barter.OfferedPackageID); err != nil {
		return err
	}
	return e.bumpTrades(ctx, barter.RequestedPackageID)
}

func (e *Engine) bumpTrades(ctx context.Context, packageID string) error {
	return storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		pkg, err := e.store.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return errdefs.NotFoundf("package %s", packageID)
		}
		pkg.TotalTrades++
		return e.store.UpdatePackage(ctx, pkg)
	})
}

// fmvDifferencePercent 计算估值差百分比
//
// 差值 = |offered - requested| / avg(offered, requested) × 100，
// 两位小数字符串；均值为零时不可计算，返回空串。
func fmvDifferencePercent(offered, requested credit.Amount) string {
	avg := offered.Add(requested).Div(credit.FromInt(2))
	if avg.IsZero() {
		return ""
	}
	diff := offered.Sub(requested).Abs()
	return diff.Div(avg).Mul(credit.FromInt(100)).StringFixed(2)
}

// exceedsTolerance 判断落库的估值差百分比是否超过容忍阈值
func (e *Engine) exceedsTolerance(diffPercent string) bool {
	if diffPercent == "" {
		return false
	}
	diff, err := credit.Parse(diffPercent)
	if err != nil {
		return false
	}
	return diff.GreaterThan(e.cfg.FairnessTolerance.Mul(credit.FromInt(100)))
}

// perSideFee 计算每方手续费（TON 计价，9 位小数）
//
// fee = max(MinFeeTON, (offeredFMV / TONRate) × FeePercent%)
func (e *Engine) perSideFee(offeredFMV credit.Amount) string {
	tonValue := offeredFMV.Div(e.cfg.TONRate)
	fee := credit.Max(e.cfg.MinFeeTON, credit.Percent(tonValue, e.cfg.FeePercent))
	return credit.FormatTON(fee)
}

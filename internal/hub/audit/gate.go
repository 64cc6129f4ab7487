// Package audit 知识包审计闸门
//
// 审计是知识包进入市场的唯一通道：由声誉合格的第三方 Agent 发起，
// 对包执行六项加权检查，得出质量分与结论，并核定公允价值 FMV。
// 结论为 approved 的包自动上架，审计结果 90 天后过期。
//
// 并发控制：MarkPackageInReview 单语句 CAS 把 pending 置为 in_review，
// 并发审计只有一方能通过屏障，其余得到 ErrAlreadyAudited。
package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"nervix-hub/internal/hub/events"
	"nervix-hub/internal/hub/metrics"
	"nervix-hub/internal/hub/reputation"
	"nervix-hub/internal/shared/credit"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Gate 审计闸门
type Gate struct {
	store      storage.PersistentStore
	reputation *reputation.Engine
	scorer     Scorer
	events     *events.Recorder
	metrics    *metrics.Metrics
	log        *logging.Logger
}

// NewGate 创建审计闸门
//
// scorer 为 nil 时使用默认的内容指纹打分器。
func NewGate(store storage.PersistentStore, rep *reputation.Engine, scorer Scorer, recorder *events.Recorder, m *metrics.Metrics) *Gate {
	if scorer == nil {
		scorer = NewContentScorer()
	}
	return &Gate{
		store:      store,
		reputation: rep,
		scorer:     scorer,
		events:     recorder,
		metrics:    m,
		log:        logging.Default("audit"),
	}
}

// Audit 对知识包执行一次完整审计
//
// 前提：审计人声誉达标、非包所有者、包处于 pending 状态。
// 返回完整审计记录；包的审计状态、质量分、FMV、上架标记同步更新。
func (g *Gate) Audit(ctx context.Context, auditorID, packageID string) (*model.KnowledgeAudit, error) {
	pkg, err := g.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, errdefs.NotFoundf("package %s", packageID)
	}
	if pkg.OwnerID == auditorID {
		return nil, errdefs.Unauthorizedf("agent %s cannot audit own package %s", auditorID, packageID)
	}

	eligible, err := g.reputation.AuditEligible(ctx, auditorID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, errdefs.Unauthorizedf("agent %s reputation below audit eligibility threshold", auditorID)
	}

	// 检查-设置屏障：并发审计只有一方通过
	if err := g.store.MarkPackageInReview(ctx, packageID); err != nil {
		if errors.Is(err, storage.ErrConflict) || errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("package %s: %w", packageID, errdefs.ErrAlreadyAudited)
		}
		return nil, err
	}

	audit := g.runChecks(pkg, auditorID)

	if err := g.store.CreateAudit(ctx, audit); err != nil {
		return nil, err
	}
	if err := g.applyVerdict(ctx, packageID, audit); err != nil {
		return nil, err
	}

	// 审计质量回填到所有者声誉
	if err := g.reputation.RecordAuditQuality(ctx, pkg.OwnerID, audit.QualityScore); err != nil {
		g.log.Warn("Failed to record audit quality", "agent_id", pkg.OwnerID, "error", err.Error())
	}

	if g.events != nil {
		g.events.Record(ctx, model.EventAuditCompleted, auditorID, packageID, map[string]any{
			"audit_id": audit.ID,
			"verdict":  audit.Verdict,
			"quality":  audit.QualityScore,
			"fmv":      audit.FairMarketValue,
		})
	}
	if g.metrics != nil {
		g.metrics.RecordAudit(string(audit.Verdict))
	}

	g.log.Info("Audit completed", "audit_id", audit.ID, "package_id", packageID,
		"auditor_id", auditorID, "verdict", string(audit.Verdict),
		"quality", audit.QualityScore, "fmv", audit.FairMarketValue)
	return audit, nil
}

// Latest 查询知识包最近一次审计记录
func (g *Gate) Latest(ctx context.Context, packageID string) (*model.KnowledgeAudit, error) {
	audit, err := g.store.GetLatestAuditByPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if audit == nil {
		return nil, errdefs.NotFoundf("no audit for package %s", packageID)
	}
	return audit, nil
}

// ByAuditor 查询某审计人的审计历史
func (g *Gate) ByAuditor(ctx context.Context, auditorID string, limit int) ([]*model.KnowledgeAudit, error) {
	return g.store.ListAuditsByAuditor(ctx, auditorID, limit)
}

// runChecks 执行六项检查并汇总质量分、结论与 FMV
func (g *Gate) runChecks(pkg *model.KnowledgePackage, auditorID string) *model.KnowledgeAudit {
	now := time.Now().UTC()
	checks := make([]model.AuditCheck, 0, len(checkWeights))
	var findings, recommendations []string

	weighted := 0
	for _, cw := range checkWeights {
		score := g.scorer.Score(pkg, cw.name)
		passed := score >= model.AuditCheckPassScore
		checks = append(checks, model.AuditCheck{
			Name:   cw.name,
			Score:  score,
			Weight: cw.weight,
			Passed: passed,
		})
		weighted += score * cw.weight
		if !passed {
			findings = append(findings, fmt.Sprintf("%s scored %d, below pass line %d", cw.name, score, model.AuditCheckPassScore))
		} else if score < 80 {
			recommendations = append(recommendations, fmt.Sprintf("improve %s (scored %d)", cw.name, score))
		}
	}
	quality := int(math.Round(float64(weighted) / 100))
	verdict := model.VerdictForQuality(quality)

	return &model.KnowledgeAudit{
		ID:              model.NewID(model.PrefixAudit),
		PackageID:       pkg.ID,
		AuditorID:       auditorID,
		Checks:          checks,
		QualityScore:    quality,
		Verdict:         verdict,
		FairMarketValue: fairMarketValue(pkg, quality),
		Findings:        findings,
		Recommendations: recommendations,
		ExpiresAt:       now.AddDate(0, 0, model.AuditValidityDays),
		CreatedAt:       now,
	}
}

// applyVerdict 把审计结论写回知识包
func (g *Gate) applyVerdict(ctx context.Context, packageID string, audit *model.KnowledgeAudit) error {
	return storage.WithRetry(ctx, storage.DefaultRetryAttempts, func(ctx context.Context) error {
		pkg, err := g.store.GetPackage(ctx, packageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return errdefs.NotFoundf("package %s", packageID)
		}
		pkg.AuditStatus = model.AuditStatusForVerdict(audit.Verdict)
		pkg.QualityScore = audit.QualityScore
		pkg.FairMarketValue = audit.FairMarketValue
		pkg.Listed = audit.Verdict == model.VerdictApproved
		if pkg.Listed {
			pkg.ListingPrice = audit.FairMarketValue
		}
		if audit.Verdict == model.VerdictRejected {
			pkg.AuditExpiresAt = nil
		} else {
			expires := audit.ExpiresAt
			pkg.AuditExpiresAt = &expires
		}
		return g.store.UpdatePackage(ctx, pkg)
	})
}

// fairMarketValue 核定公允价值
//
// FMV = (模块数 × 5 + 测试数 × 2) × (质量分 / 100) × 等级乘数
func fairMarketValue(pkg *model.KnowledgePackage, quality int) string {
	base := decimal.NewFromInt(int64(pkg.ModuleCount*5 + pkg.TestCount*2))
	fmv := base.
		Mul(decimal.NewFromInt(int64(quality))).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromFloat(pkg.LevelMultiplier()))
	return credit.Format(fmv)
}

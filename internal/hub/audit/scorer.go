package audit

import (
	"crypto/sha256"
	"encoding/binary"

	"nervix-hub/internal/shared/model"
)

// 检查项名称
const (
	CheckCompilability   = "compilability"
	CheckOriginality     = "originality"
	CheckCategoryMatch   = "category_match"
	CheckSecurityScan    = "security_scan"
	CheckCompleteness    = "completeness"
	CheckTeachingQuality = "teaching_quality"
)

// checkWeights 各检查项权重，合计 100
var checkWeights = []struct {
	name   string
	weight int
}{
	{CheckCompilability, 20},
	{CheckOriginality, 15},
	{CheckCategoryMatch, 15},
	{CheckSecurityScan, 20},
	{CheckCompleteness, 15},
	{CheckTeachingQuality, 15},
}

// Scorer 为知识包的单项检查打分 [0,100]
//
// 同一知识包同一检查项必须返回相同分数，保证审计可复现。
type Scorer interface {
	Score(pkg *model.KnowledgePackage, check string) int
}

// ContentScorer 基于内容指纹的确定性打分器
//
// 分数由根哈希与检查项名称派生，完备性项额外受
// 测试数/模块数比例影响。真实检查（静态分析、沙箱运行）
// 可通过自定义 Scorer 接入。
type ContentScorer struct{}

// NewContentScorer 创建默认打分器
func NewContentScorer() *ContentScorer {
	return &ContentScorer{}
}

// Score 实现 Scorer
func (s *ContentScorer) Score(pkg *model.KnowledgePackage, check string) int {
	h := sha256.Sum256([]byte(pkg.RootHash + ":" + check))
	base := 50 + int(binary.BigEndian.Uint32(h[:4])%46) // [50, 95]

	if check == CheckCompleteness && pkg.ModuleCount > 0 {
		// 每模块两个以上测试视为覆盖充分
		ratio := float64(pkg.TestCount) / float64(pkg.ModuleCount*2)
		if ratio > 1 {
			ratio = 1
		}
		base = int(float64(base)*0.5 + 50*ratio)
	}

	if base > 100 {
		base = 100
	}
	if base < 0 {
		base = 0
	}
	return base
}

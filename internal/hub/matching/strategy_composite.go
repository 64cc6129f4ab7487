package matching

import (
	"context"
	"fmt"
	"sort"

	"nervix-hub/internal/shared/model"
)

// 综合评分权重
const (
	weightProficiency = 0.4
	weightCoverage    = 0.3
	weightLoad        = 0.2
	weightOnline      = 0.1

	// neutralScore 任务未声明技能要求时熟练度与覆盖率的中性分
	neutralScore = 0.5
)

// CompositeStrategy 综合评分策略
//
// 评分公式：
//
//	score = 0.4*熟练度 + 0.3*技能覆盖率 + 0.2*空闲度 + 0.1*在线
//
// 熟练度按要求技能逐项取候选最高匹配技能的权重（expert 4 / advanced 3 /
// intermediate 2 / beginner 1），除以满分 4*N 归一化；覆盖率为命中
// 要求技能的比例。任务声明了技能要求但候选一项都不命中时，该候选被
// 剔除。任务未声明技能要求时两个分量取中性分 0.5。
//
// 空闲度 = 1 - active/max；在线按最近心跳是否落在窗口内取 0/1。
// 同分按 Agent ID 升序保证确定性。
type CompositeStrategy struct{}

// NewCompositeStrategy 创建综合评分策略
func NewCompositeStrategy() *CompositeStrategy {
	return &CompositeStrategy{}
}

// Name 返回策略名称
func (s *CompositeStrategy) Name() string {
	return "composite"
}

// Rank 按综合得分降序排序候选
func (s *CompositeStrategy) Rank(_ context.Context, req *MatchRequest) ([]*Candidate, string) {
	required := req.Task.RequiredSkills

	var ranked []*Candidate
	for _, c := range req.Candidates {
		prof, coverage, matched := skillScores(c.Capabilities, required)
		if len(required) > 0 && matched == 0 {
			// 硬性要求：至少命中一项技能
			continue
		}

		load := 0.0
		if c.Agent.MaxConcurrentTasks > 0 {
			load = 1 - float64(c.Agent.ActiveTasks)/float64(c.Agent.MaxConcurrentTasks)
		}

		online := 0.0
		if c.Agent.IsOnline(req.Now, req.OnlineWindow) {
			online = 1.0
		}

		c.Score = weightProficiency*prof +
			weightCoverage*coverage +
			weightLoad*load +
			weightOnline*online
		ranked = append(ranked, c)
	}

	if len(ranked) == 0 {
		return nil, ""
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Agent.ID < ranked[j].Agent.ID
	})

	reason := fmt.Sprintf("composite: best=%s score=%.3f candidates=%d",
		ranked[0].Agent.ID, ranked[0].Score, len(ranked))
	return ranked, reason
}

// skillScores 计算熟练度与覆盖率分量
//
// 返回归一化的熟练度、覆盖率和命中的技能项数。
func skillScores(caps []*model.Capability, required []string) (prof, coverage float64, matched int) {
	if len(required) == 0 {
		return neutralScore, neutralScore, 0
	}

	total := 0
	for _, skill := range required {
		best := 0
		for _, capability := range caps {
			if !capability.Matches(skill) {
				continue
			}
			if w := capability.Proficiency.Weight(); w > best {
				best = w
			}
		}
		if best > 0 {
			matched++
			total += best
		}
	}

	prof = float64(total) / float64(4*len(required))
	coverage = float64(matched) / float64(len(required))
	return prof, coverage, matched
}

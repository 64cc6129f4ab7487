// Package matching 任务撮合策略接口和策略链
package matching

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"
)

// Strategy 撮合策略接口
//
// 所有撮合策略必须实现此接口。策略负责对候选 Agent 打分排序，
// 引擎按排序结果依次尝试占用任务槽位（CAS 失败时顺延到下一名）。
// 策略可以组合成策略链，按优先级依次尝试。
type Strategy interface {
	// Name 返回策略名称（用于日志和配置）
	Name() string

	// Rank 对候选 Agent 排序
	//
	// 参数：
	//   - ctx: 上下文
	//   - req: 撮合请求，包含 Task 信息和候选 Agent
	//
	// 返回：
	//   - 按优先顺序排列的候选列表，没有合适的候选时返回 nil
	//   - 排序原因（用于日志）
	Rank(ctx context.Context, req *MatchRequest) ([]*Candidate, string)
}

// Candidate 撮合候选
//
// 聚合了打分需要的全部画像：Agent 本体、技能声明与声誉档案。
// Score 由策略回填。
type Candidate struct {
	Agent        *model.Agent
	Capabilities []*model.Capability
	Reputation   *model.Reputation
	Score        float64
}

// MatchRequest 撮合请求
//
// 封装撮合所需的所有信息，传递给策略进行排序
type MatchRequest struct {
	Task         *model.Task  // 待撮合的任务
	Candidates   []*Candidate // 候选列表（已过滤可匹配状态、角色与发布方自身）
	Now          time.Time    // 评分基准时刻
	OnlineWindow time.Duration // 在线判定窗口
}

// StrategyChain 策略链
//
// 按优先级组织多个策略，依次尝试直到得到非空排序。
type StrategyChain struct {
	strategies []Strategy
}

// NewStrategyChain 创建策略链
func NewStrategyChain(strategies ...Strategy) *StrategyChain {
	return &StrategyChain{strategies: strategies}
}

// Rank 按策略链顺序排序候选
func (c *StrategyChain) Rank(ctx context.Context, req *MatchRequest) ([]*Candidate, string) {
	for _, strategy := range c.strategies {
		if ranked, reason := strategy.Rank(ctx, req); len(ranked) > 0 {
			return ranked, reason
		}
	}
	return nil, "no_strategy_matched"
}

// Add 添加策略到链尾
func (c *StrategyChain) Add(s Strategy) {
	c.strategies = append(c.strategies, s)
}

// Prepend 添加策略到链首
func (c *StrategyChain) Prepend(s Strategy) {
	c.strategies = append([]Strategy{s}, c.strategies...)
}

// Strategies 返回当前策略列表（只读）
func (c *StrategyChain) Strategies() []Strategy {
	result := make([]Strategy, len(c.strategies))
	copy(result, c.strategies)
	return result
}

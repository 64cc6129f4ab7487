package model

// ============================================================================
// 排行榜
// ============================================================================

// 综合得分权重
const (
	LeaderboardWeightReputation = 0.35
	LeaderboardWeightTasks      = 0.25
	LeaderboardWeightKnowledge  = 0.20
	LeaderboardWeightEarnings   = 0.20

	// 归一化基准：达到基准即记满分
	LeaderboardTaskBaseline      = 50.0
	LeaderboardKnowledgeBaseline = 10.0
	LeaderboardEarningsBaseline  = 500.0
)

// LeaderboardTier 排行榜段位
type LeaderboardTier string

const (
	TierDiamond  LeaderboardTier = "diamond"
	TierPlatinum LeaderboardTier = "platinum"
	TierGold     LeaderboardTier = "gold"
	TierSilver   LeaderboardTier = "silver"
	TierBronze   LeaderboardTier = "bronze"
)

// TierForScore 返回综合得分对应的段位
func TierForScore(score float64) LeaderboardTier {
	switch {
	case score >= 0.85:
		return TierDiamond
	case score >= 0.70:
		return TierPlatinum
	case score >= 0.50:
		return TierGold
	case score >= 0.30:
		return TierSilver
	default:
		return TierBronze
	}
}

// LeaderboardSort 排行榜排序维度
type LeaderboardSort string

const (
	SortByComposite  LeaderboardSort = "composite"
	SortByReputation LeaderboardSort = "reputation"
	SortByTasks      LeaderboardSort = "tasks"
	SortByKnowledge  LeaderboardSort = "knowledge"
	SortByEarnings   LeaderboardSort = "earnings"
)

// LeaderboardEntry 排行榜条目（排名从 1 开始）
type LeaderboardEntry struct {
	Rank            int             `json:"rank"`
	AgentID         string          `json:"agent_id"`
	Name            string          `json:"name"`
	Roles           []AgentRole     `json:"roles"`
	Tier            LeaderboardTier `json:"tier"`
	CompositeScore  float64         `json:"composite_score"`
	ReputationScore float64         `json:"reputation_score"`
	TasksCompleted  int             `json:"tasks_completed"`
	KnowledgeShared int             `json:"knowledge_shared"`
	CreditsEarned   string          `json:"credits_earned"`
}

// CompositeScore 按权重折算综合得分，各分量超过基准按满分计
func CompositeScore(reputation float64, tasksCompleted, knowledgeShared int, creditsEarned float64) float64 {
	taskScore := float64(tasksCompleted) / LeaderboardTaskBaseline
	if taskScore > 1 {
		taskScore = 1
	}
	knowledgeScore := float64(knowledgeShared) / LeaderboardKnowledgeBaseline
	if knowledgeScore > 1 {
		knowledgeScore = 1
	}
	earningsScore := creditsEarned / LeaderboardEarningsBaseline
	if earningsScore > 1 {
		earningsScore = 1
	}
	return LeaderboardWeightReputation*Clamp01(reputation) +
		LeaderboardWeightTasks*taskScore +
		LeaderboardWeightKnowledge*knowledgeScore +
		LeaderboardWeightEarnings*earningsScore
}

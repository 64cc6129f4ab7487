// Package leaderboard 排行榜
//
// 纯聚合读取，不改动任何实体。综合得分由声誉、完成任务数、
// 共享知识量、累计收益四个分量加权而成，分量按基准归一化，
// 超过基准按满分计。快照写入缓存，短 TTL 内重复查询不回源。
package leaderboard

import (
	"context"
	"sort"
	"strconv"

	"nervix-hub/internal/shared/cache"
	"nervix-hub/internal/shared/errdefs"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// DefaultLimit 默认返回条数
const DefaultLimit = 50

// Service 排行榜服务
type Service struct {
	store storage.PersistentStore
	cache cache.LeaderboardCache
	log   *logging.Logger
}

// NewService 创建排行榜服务
//
// c 为 nil 时每次查询都重建快照。
func NewService(store storage.PersistentStore, c cache.LeaderboardCache) *Service {
	return &Service{
		store: store,
		cache: c,
		log:   logging.Default("leaderboard"),
	}
}

// Rankings 返回指定维度的排行榜
//
// 缓存命中直接返回快照；未命中时全量重建并回填缓存。
func (s *Service) Rankings(ctx context.Context, sortBy model.LeaderboardSort, limit int) ([]*model.LeaderboardEntry, error) {
	switch sortBy {
	case model.SortByComposite, model.SortByReputation, model.SortByTasks,
		model.SortByKnowledge, model.SortByEarnings:
	case "":
		sortBy = model.SortByComposite
	default:
		return nil, errdefs.Invalidf("unknown leaderboard sort %q", sortBy)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	entries, err := s.snapshot(ctx, sortBy)
	if err != nil {
		return nil, err
	}
	return truncate(entries, limit), nil
}

// Profile 单个 Agent 的排行画像
type Profile struct {
	AgentID        string                `json:"agent_id"`
	Rank           int                   `json:"rank"`
	TotalRanked    int                   `json:"total_ranked"`
	Percentile     float64               `json:"percentile"`
	Tier           model.LeaderboardTier `json:"tier"`
	CompositeScore float64               `json:"composite_score"`
}

// AgentProfile 返回指定 Agent 在综合榜上的名次与百分位
func (s *Service) AgentProfile(ctx context.Context, agentID string) (*Profile, error) {
	entries, err := s.snapshot(ctx, model.SortByComposite)
	if err != nil {
		return nil, err
	}
	total := len(entries)
	for _, entry := range entries {
		if entry.AgentID != agentID {
			continue
		}
		return &Profile{
			AgentID:        agentID,
			Rank:           entry.Rank,
			TotalRanked:    total,
			Percentile:     float64(total-entry.Rank) / float64(total) * 100,
			Tier:           entry.Tier,
			CompositeScore: entry.CompositeScore,
		}, nil
	}
	return nil, errdefs.NotFoundf("agent %s is not ranked", agentID)
}

// Distribution 统计各层级的 Agent 数量
func (s *Service) Distribution(ctx context.Context) (map[model.LeaderboardTier]int, error) {
	entries, err := s.snapshot(ctx, model.SortByComposite)
	if err != nil {
		return nil, err
	}
	counts := make(map[model.LeaderboardTier]int, len(entries))
	for _, entry := range entries {
		counts[entry.Tier]++
	}
	return counts, nil
}

// snapshot 返回指定维度的完整快照，缓存未命中时重建并回填
func (s *Service) snapshot(ctx context.Context, sortBy model.LeaderboardSort) ([]*model.LeaderboardEntry, error) {
	if s.cache != nil {
		if entries, err := s.cache.GetLeaderboard(ctx, sortBy); err == nil && entries != nil {
			return entries, nil
		}
	}

	entries, err := s.build(ctx, sortBy)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetLeaderboard(ctx, sortBy, entries); err != nil {
			s.log.Warn("Failed to cache leaderboard", "sort_by", string(sortBy), "error", err.Error())
		}
	}
	return entries, nil
}

// Invalidate 作废所有排行榜快照
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateLeaderboard(ctx)
}

// build 全量重建排行榜：读所有 Agent、声誉与已上架知识包计数
func (s *Service) build(ctx context.Context, sortBy model.LeaderboardSort) ([]*model.LeaderboardEntry, error) {
	agents, err := s.store.ListAgents(ctx, storage.AgentFilter{Status: string(model.AgentStatusActive)})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.ID == model.TreasuryAgentID {
			continue
		}
		ids = append(ids, a.ID)
	}
	reputations, err := s.store.ListReputations(ctx, ids)
	if err != nil {
		return nil, err
	}
	shared, err := s.countListedPackages(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]*model.LeaderboardEntry, 0, len(ids))
	for _, a := range agents {
		if a.ID == model.TreasuryAgentID {
			continue
		}
		repScore := model.InitialReputationScore
		if rep, ok := reputations[a.ID]; ok {
			repScore = rep.OverallScore
		}
		earned, err := strconv.ParseFloat(a.TotalCreditsEarned, 64)
		if err != nil {
			earned = 0
		}
		entries = append(entries, &model.LeaderboardEntry{
			AgentID:         a.ID,
			Name:            a.Name,
			Roles:           a.Roles,
			ReputationScore: repScore,
			TasksCompleted:  a.TotalTasksCompleted,
			KnowledgeShared: shared[a.ID],
			CreditsEarned:   a.TotalCreditsEarned,
			CompositeScore:  model.CompositeScore(repScore, a.TotalTasksCompleted, shared[a.ID], earned),
		})
	}

	sortEntries(entries, sortBy)
	for i, entry := range entries {
		entry.Rank = i + 1
		entry.Tier = model.TierForScore(entry.CompositeScore)
	}
	return entries, nil
}

// countListedPackages 统计每个 Agent 当前上架的知识包数量
func (s *Service) countListedPackages(ctx context.Context) (map[string]int, error) {
	pkgs, err := s.store.ListPackages(ctx, storage.PackageFilter{OnlyListed: true})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(pkgs))
	for _, pkg := range pkgs {
		counts[pkg.OwnerID]++
	}
	return counts, nil
}

// sortEntries 按维度降序稳定排序，同值按 AgentID 升序保证确定性
func sortEntries(entries []*model.LeaderboardEntry, sortBy model.LeaderboardSort) {
	key := func(e *model.LeaderboardEntry) float64 {
		switch sortBy {
		case model.SortByReputation:
			return e.ReputationScore
		case model.SortByTasks:
			return float64(e.TasksCompleted)
		case model.SortByKnowledge:
			return float64(e.KnowledgeShared)
		case model.SortByEarnings:
			v, err := strconv.ParseFloat(e.CreditsEarned, 64)
			if err != nil {
				return 0
			}
			return v
		default:
			return e.CompositeScore
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ki, kj := key(entries[i]), key(entries[j])
		if ki != kj {
			return ki > kj
		}
		return entries[i].AgentID < entries[j].AgentID
	})
}

func truncate(entries []*model.LeaderboardEntry, limit int) []*model.LeaderboardEntry {
	if len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

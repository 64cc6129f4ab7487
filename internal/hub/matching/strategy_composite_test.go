package matching

import (
	"context"
	"testing"
	"time"

	"nervix-hub/internal/shared/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(id string, active, max int, caps ...*model.Capability) *Candidate {
	return &Candidate{
		Agent: &model.Agent{
			ID: id, Status: model.AgentStatusActive,
			ActiveTasks: active, MaxConcurrentTasks: max,
		},
		Capabilities: caps,
	}
}

func skill(name string, prof model.ProficiencyLevel, tags ...string) *model.Capability {
	return &model.Capability{SkillName: name, Proficiency: prof, Tags: tags}
}

func TestCompositeRankBySkill(t *testing.T) {
	now := time.Now().UTC()
	expert := candidate("agt-b", 0, 3, skill("Go Development", model.ProficiencyExpert, "go"))
	beginner := candidate("agt-a", 0, 3, skill("Go Development", model.ProficiencyBeginner, "go"))
	unrelated := candidate("agt-c", 0, 3, skill("Painting", model.ProficiencyExpert))

	req := &MatchRequest{
		Task:         &model.Task{RequiredSkills: []string{"go"}},
		Candidates:   []*Candidate{beginner, expert, unrelated},
		Now:          now,
		OnlineWindow: 5 * time.Minute,
	}

	ranked, reason := NewCompositeStrategy().Rank(context.Background(), req)
	require.Len(t, ranked, 2)
	// 技能零命中的候选被剔除
	assert.Equal(t, "agt-b", ranked[0].Agent.ID)
	assert.Equal(t, "agt-a", ranked[1].Agent.ID)
	assert.Contains(t, reason, "composite")

	// expert: 0.4*(4/4) + 0.3*1 + 0.2*1 + 0.1*0 = 0.9
	assert.InDelta(t, 0.9, ranked[0].Score, 1e-9)
	// beginner: 0.4*(1/4) + 0.3*1 + 0.2*1 = 0.6
	assert.InDelta(t, 0.6, ranked[1].Score, 1e-9)
}

func TestCompositeNoSkillRequirement(t *testing.T) {
	now := time.Now().UTC()
	idle := candidate("agt-b", 0, 4)
	busy := candidate("agt-a", 3, 4)

	req := &MatchRequest{
		Task:         &model.Task{},
		Candidates:   []*Candidate{busy, idle},
		Now:          now,
		OnlineWindow: 5 * time.Minute,
	}

	ranked, _ := NewCompositeStrategy().Rank(context.Background(), req)
	require.Len(t, ranked, 2)
	// 无技能要求：熟练度与覆盖率取中性分，空闲度决定排序
	assert.Equal(t, "agt-b", ranked[0].Agent.ID)
	// 0.4*0.5 + 0.3*0.5 + 0.2*1 + 0.1*0 = 0.55
	assert.InDelta(t, 0.55, ranked[0].Score, 1e-9)
	// 0.4*0.5 + 0.3*0.5 + 0.2*0.25 = 0.40
	assert.InDelta(t, 0.4, ranked[1].Score, 1e-9)
}

func TestCompositeOnlineBonus(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-time.Minute)
	stale := now.Add(-10 * time.Minute)

	online := candidate("agt-b", 0, 3)
	online.Agent.LastHeartbeatAt = &recent
	offline := candidate("agt-a", 0, 3)
	offline.Agent.LastHeartbeatAt = &stale

	req := &MatchRequest{
		Task:         &model.Task{},
		Candidates:   []*Candidate{offline, online},
		Now:          now,
		OnlineWindow: 5 * time.Minute,
	}

	ranked, _ := NewCompositeStrategy().Rank(context.Background(), req)
	require.Len(t, ranked, 2)
	assert.Equal(t, "agt-b", ranked[0].Agent.ID)
	assert.InDelta(t, 0.1, ranked[0].Score-ranked[1].Score, 1e-9)
}

func TestCompositeDeterministicTies(t *testing.T) {
	now := time.Now().UTC()
	req := &MatchRequest{
		Task: &model.Task{},
		Candidates: []*Candidate{
			candidate("agt-c", 0, 3),
			candidate("agt-a", 0, 3),
			candidate("agt-b", 0, 3),
		},
		Now:          now,
		OnlineWindow: 5 * time.Minute,
	}

	ranked, _ := NewCompositeStrategy().Rank(context.Background(), req)
	require.Len(t, ranked, 3)
	// 同分按 ID 升序
	assert.Equal(t, "agt-a", ranked[0].Agent.ID)
	assert.Equal(t, "agt-b", ranked[1].Agent.ID)
	assert.Equal(t, "agt-c", ranked[2].Agent.ID)
}

func TestCompositeAllFilteredOut(t *testing.T) {
	req := &MatchRequest{
		Task:         &model.Task{RequiredSkills: []string{"rust"}},
		Candidates:   []*Candidate{candidate("agt-a", 0, 3, skill("Go", model.ProficiencyExpert, "go"))},
		Now:          time.Now().UTC(),
		OnlineWindow: 5 * time.Minute,
	}

	ranked, _ := NewCompositeStrategy().Rank(context.Background(), req)
	assert.Empty(t, ranked)
}

func TestStrategyChainFallback(t *testing.T) {
	chain := NewStrategyChain(NewCompositeStrategy())
	assert.Len(t, chain.Strategies(), 1)

	chain.Add(NewCompositeStrategy())
	chain.Prepend(NewCompositeStrategy())
	assert.Len(t, chain.Strategies(), 3)

	// 空候选时返回链式兜底原因
	ranked, reason := chain.Rank(context.Background(), &MatchRequest{Task: &model.Task{}})
	assert.Empty(t, ranked)
	assert.Equal(t, "no_strategy_matched", reason)
}

package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID(PrefixAgent)
	assert.True(t, strings.HasPrefix(id, "agt-"))
	assert.Len(t, id, len("agt-")+12)

	// 唯一性抽查
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID(PrefixTask)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from TaskStatus
		to   TaskStatus
		ok   bool
	}{
		{"排队 → 已分配", TaskStatusQueued, TaskStatusAssigned, true},
		{"排队 → 已取消", TaskStatusQueued, TaskStatusCancelled, true},
		{"排队 → 完成（非法跳跃）", TaskStatusQueued, TaskStatusCompleted, false},
		{"已分配 → 进行中", TaskStatusAssigned, TaskStatusInProgress, true},
		{"进行中 → 完成", TaskStatusInProgress, TaskStatusCompleted, true},
		{"进行中 → 超时", TaskStatusInProgress, TaskStatusTimeout, true},
		{"失败 → 重新排队", TaskStatusFailed, TaskStatusQueued, true},
		{"完成 → 任何状态（终态）", TaskStatusCompleted, TaskStatusQueued, false},
		{"取消 → 排队（终态）", TaskStatusCancelled, TaskStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTaskApplyDefaults(t *testing.T) {
	task := &Task{}
	task.ApplyDefaults()

	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Equal(t, TaskPriorityNormal, task.Priority)
	assert.Equal(t, "10.000000", task.CreditReward)
	assert.Equal(t, 3600, task.MaxDuration)
	assert.Equal(t, 3, task.MaxRetries)
}

func TestTaskTimedOut(t *testing.T) {
	now := time.Now()
	started := now.Add(-2 * time.Hour)

	task := &Task{Status: TaskStatusInProgress, StartedAt: &started, MaxDuration: 3600}
	assert.True(t, task.TimedOut(now))

	task.MaxDuration = 3 * 3600
	assert.False(t, task.TimedOut(now))

	// 未开始的任务不会超时
	task.StartedAt = nil
	assert.False(t, task.TimedOut(now))
}

func TestBarterStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from BarterStatus
		to   BarterStatus
		ok   bool
	}{
		{"提议 → 还价", BarterStatusProposed, BarterStatusCountered, true},
		{"提议 → 接受", BarterStatusProposed, BarterStatusAccepted, true},
		{"提议 → 费用锁定（跳过接受）", BarterStatusProposed, BarterStatusFeeLocked, false},
		{"还价 → 接受", BarterStatusCountered, BarterStatusAccepted, true},
		{"还价 → 再还价（不允许）", BarterStatusCountered, BarterStatusCountered, false},
		{"接受 → 费用锁定", BarterStatusAccepted, BarterStatusFeeLocked, true},
		{"费用锁定 → 核验中", BarterStatusFeeLocked, BarterStatusVerifying, true},
		{"费用锁定 → 完成", BarterStatusFeeLocked, BarterStatusCompleted, true},
		{"核验中 → 完成", BarterStatusVerifying, BarterStatusCompleted, true},
		{"核验中 → 争议", BarterStatusVerifying, BarterStatusDisputed, true},
		{"完成 → 取消（终态）", BarterStatusCompleted, BarterStatusCancelled, false},
		{"争议 → 完成（终态）", BarterStatusDisputed, BarterStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestBarterHelpers(t *testing.T) {
	b := &BarterTransaction{ProposerID: "agt-a", ResponderID: "agt-b"}

	assert.True(t, b.IsParty("agt-a"))
	assert.True(t, b.IsParty("agt-b"))
	assert.False(t, b.IsParty("agt-c"))

	assert.False(t, b.BothFeesPaid())
	b.ProposerFeeTxHash = "0xaaa"
	assert.False(t, b.BothFeesPaid())
	b.ResponderFeeTxHash = "0xbbb"
	assert.True(t, b.BothFeesPaid())

	assert.False(t, b.BothVerified())
	b.ProposerVerified = true
	b.ResponderVerified = true
	assert.True(t, b.BothVerified())
}

func TestCapabilityMatches(t *testing.T) {
	c := &Capability{
		SkillName: "Kubernetes Operations",
		Tags:      []string{"k8s", "helm"},
	}

	tests := []struct {
		name     string
		required string
		want     bool
	}{
		{"标签精确匹配", "k8s", true},
		{"标签大小写不敏感", "K8S", true},
		{"名称子串匹配", "kubernetes", true},
		{"名称子串大小写不敏感", "OPERATIONS", true},
		{"完全不匹配", "terraform", false},
		{"空要求不匹配", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Matches(tt.required))
		})
	}
}

func TestProficiencyWeight(t *testing.T) {
	assert.Equal(t, 4, ProficiencyExpert.Weight())
	assert.Equal(t, 3, ProficiencyAdvanced.Weight())
	assert.Equal(t, 2, ProficiencyIntermediate.Weight())
	assert.Equal(t, 1, ProficiencyBeginner.Weight())
	assert.Equal(t, 2, ProficiencyLevel("unknown").Weight())
}

func TestOverallOnSuccess(t *testing.T) {
	// 0.40*1.0 + 0.25*0.6 + 0.25*0.8 + 0.10*0.9 = 0.84
	assert.InDelta(t, 0.84, OverallOnSuccess(0.6, 0.8, 0.9), 1e-9)

	// 各分量越界时先截断再加权
	assert.InDelta(t, 0.40+0.25+0.10*0.9, OverallOnSuccess(1.5, -0.3, 0.9), 1e-9)
	assert.LessOrEqual(t, OverallOnSuccess(2, 2, 2), 1.0)
}

func TestReputationThresholds(t *testing.T) {
	r := &Reputation{OverallScore: 0.29}
	assert.True(t, r.BelowSuspendThreshold())
	assert.False(t, r.AuditEligible())

	r.OverallScore = 0.35
	assert.False(t, r.BelowSuspendThreshold())
	assert.False(t, r.AuditEligible())

	r.OverallScore = 0.40
	assert.True(t, r.AuditEligible())
}

func TestVerdictForQuality(t *testing.T) {
	tests := []struct {
		name    string
		quality int
		want    AuditVerdict
	}{
		{"高分通过", 85, VerdictApproved},
		{"边界 70 通过", 70, VerdictApproved},
		{"边界 69 有条件", 69, VerdictConditional},
		{"边界 50 有条件", 50, VerdictConditional},
		{"边界 49 拒绝", 49, VerdictRejected},
		{"零分拒绝", 0, VerdictRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerdictForQuality(tt.quality))
		})
	}
}

func TestKnowledgePackageTradable(t *testing.T) {
	now := time.Now()
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	pkg := &KnowledgePackage{Listed: true, AuditStatus: AuditStatusApproved, AuditExpiresAt: &future}
	assert.True(t, pkg.Tradable(now))

	pkg.AuditExpiresAt = &past
	assert.False(t, pkg.Tradable(now))
	assert.True(t, pkg.AuditExpired(now))

	pkg.AuditExpiresAt = &future
	pkg.Listed = false
	assert.False(t, pkg.Tradable(now))

	pkg.Listed = true
	pkg.AuditStatus = AuditStatusConditional
	assert.False(t, pkg.Tradable(now))
}

func TestAgentHelpers(t *testing.T) {
	now := time.Now()
	recent := now.Add(-1 * time.Minute)
	stale := now.Add(-10 * time.Minute)

	a := &Agent{Status: AgentStatusActive, MaxConcurrentTasks: 3, ActiveTasks: 2, LastHeartbeatAt: &recent}
	require.True(t, a.HasCapacity())
	assert.True(t, a.Matchable())
	assert.True(t, a.IsOnline(now, 5*time.Minute))

	a.ActiveTasks = 3
	assert.False(t, a.HasCapacity())
	assert.False(t, a.Matchable())

	a.ActiveTasks = 0
	a.Status = AgentStatusSuspended
	assert.False(t, a.Matchable())

	a.LastHeartbeatAt = &stale
	assert.False(t, a.IsOnline(now, 5*time.Minute))
}

func TestAgentRoleSets(t *testing.T) {
	assert.True(t, ValidRoleSet([]AgentRole{RoleCoder}))
	assert.True(t, ValidRoleSet([]AgentRole{RoleCoder, RoleQA}))
	assert.False(t, ValidRoleSet(nil))
	assert.False(t, ValidRoleSet([]AgentRole{"pirate"}))
	assert.False(t, ValidRoleSet([]AgentRole{RoleCoder, "pirate"}))

	a := &Agent{Roles: []AgentRole{RoleCoder, RoleQA}}
	assert.True(t, a.HasRole(RoleQA))
	assert.False(t, a.HasRole(RoleDocs))
	assert.True(t, a.HasAnyRole([]AgentRole{RoleDocs, RoleCoder}))
	assert.False(t, a.HasAnyRole([]AgentRole{RoleDocs, RoleSecurity}))
	// 空要求视为不限角色
	assert.True(t, a.HasAnyRole(nil))
}

func TestTierForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  LeaderboardTier
	}{
		{0.90, TierDiamond},
		{0.85, TierDiamond},
		{0.84, TierPlatinum},
		{0.70, TierPlatinum},
		{0.69, TierGold},
		{0.50, TierGold},
		{0.49, TierSilver},
		{0.30, TierSilver},
		{0.29, TierBronze},
		{0.0, TierBronze},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForScore(tt.score), "score %v", tt.score)
	}
}

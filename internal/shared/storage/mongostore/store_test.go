package mongostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

// Compile-time interface check
var _ storage.PersistentStore = (*Store)(nil)

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	s, err := NewStore(uri, "nervix_hub_test")
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	ctx := context.Background()
	if err := s.db.Drop(ctx); err != nil {
		t.Fatalf("Failed to drop test database: %v", err)
	}
	if err := s.ensureIndexes(ctx); err != nil {
		t.Fatalf("Failed to create indexes: %v", err)
	}

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})

	return s
}

func newAgent(id, name string) *model.Agent {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Agent{
		ID:                 id,
		Name:               name,
		Roles:              []model.AgentRole{model.RoleCoder},
		Status:             model.AgentStatusActive,
		CreditBalance:      model.InitialCreditBalance,
		TotalCreditsEarned: "0.000000",
		TotalCreditsSpent:  "0.000000",
		MaxConcurrentTasks: 2,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestAgentCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agent := newAgent("agt-m01", "mongo-agent")
	require.NoError(t, s.CreateAgent(ctx, agent))

	t.Run("按 ID 读取", func(t *testing.T) {
		got, err := s.GetAgent(ctx, "agt-m01")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "mongo-agent", got.Name)
		assert.Equal(t, model.InitialCreditBalance, got.CreditBalance)
	})

	t.Run("按名称读取", func(t *testing.T) {
		got, err := s.GetAgentByName(ctx, "mongo-agent")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "agt-m01", got.ID)
	})

	t.Run("不存在返回 nil", func(t *testing.T) {
		got, err := s.GetAgent(ctx, "agt-nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("名称唯一", func(t *testing.T) {
		dup := newAgent("agt-m02", "mongo-agent")
		err := s.CreateAgent(ctx, dup)
		assert.True(t, errors.Is(err, storage.ErrDuplicate))
	})
}

func TestVersionedUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agent := newAgent("agt-m10", "versioned")
	require.NoError(t, s.CreateAgent(ctx, agent))

	agent.CreditBalance = "150.000000"
	require.NoError(t, s.UpdateAgent(ctx, agent))
	assert.Equal(t, int64(1), agent.Version)

	t.Run("过期版本冲突", func(t *testing.T) {
		stale := newAgent("agt-m10", "versioned")
		stale.Version = 0
		stale.CreditBalance = "999.000000"
		err := s.UpdateAgent(ctx, stale)
		assert.True(t, errors.Is(err, storage.ErrConflict))

		got, err := s.GetAgent(ctx, "agt-m10")
		require.NoError(t, err)
		assert.Equal(t, "150.000000", got.CreditBalance)
	})
}

func TestReserveTaskSlot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agent := newAgent("agt-m20", "slots")
	require.NoError(t, s.CreateAgent(ctx, agent))

	require.NoError(t, s.ReserveTaskSlot(ctx, "agt-m20"))
	require.NoError(t, s.ReserveTaskSlot(ctx, "agt-m20"))

	t.Run("槽位占满后冲突", func(t *testing.T) {
		err := s.ReserveTaskSlot(ctx, "agt-m20")
		assert.True(t, errors.Is(err, storage.ErrConflict))
	})

	t.Run("释放后可再占用", func(t *testing.T) {
		require.NoError(t, s.ReleaseTaskSlot(ctx, "agt-m20"))
		assert.NoError(t, s.ReserveTaskSlot(ctx, "agt-m20"))
	})
}

func TestChallengeConsumeOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	ch := &model.EnrollmentChallenge{
		ID:        "chl-m01",
		AgentName: "newcomer",
		Roles:     []model.AgentRole{model.RoleQA},
		Nonce:     "abc123",
		Status:    model.ChallengeStatusPending,
		ExpiresAt: time.Now().Add(10 * time.Minute),
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateChallenge(ctx, ch))

	require.NoError(t, s.ConsumeChallenge(ctx, "chl-m01", model.ChallengeStatusVerified))

	t.Run("重复消费冲突", func(t *testing.T) {
		err := s.ConsumeChallenge(ctx, "chl-m01", model.ChallengeStatusVerified)
		assert.True(t, errors.Is(err, storage.ErrConflict))
	})

	t.Run("不存在报 NotFound", func(t *testing.T) {
		err := s.ConsumeChallenge(ctx, "chl-nope", model.ChallengeStatusVerified)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

func TestLedgerNetInflow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	from := "agt-m30"
	to := "agt-m31"
	entries := []*model.LedgerEntry{
		{ID: "txn-m01", Type: model.TxnTransferOut, FromAgentID: &from, ToAgentID: &to, Amount: "40.000000", CreatedAt: time.Now()},
		{ID: "txn-m02", Type: model.TxnTaskReward, ToAgentID: &from, Amount: "15.000000", CreatedAt: time.Now()},
	}
	for _, e := range entries {
		require.NoError(t, s.CreateLedgerEntry(ctx, e))
	}

	net, err := s.SumLedgerByAgent(ctx, from)
	require.NoError(t, err)
	assert.Equal(t, "-25.000000", net)

	net, err = s.SumLedgerByAgent(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, "40.000000", net)
}

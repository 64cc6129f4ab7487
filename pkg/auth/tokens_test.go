package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	mgr := NewTokenManager("test-secret", "nervix-hub", time.Hour, 24*time.Hour)

	pair, err := mgr.Issue("agt-000000000001", []string{"coder", "qa"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	claims, err := mgr.Verify(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "agt-000000000001", claims.AgentID)
	assert.Equal(t, []string{"coder", "qa"}, claims.Roles)
	assert.True(t, claims.HasRole("qa"))
	assert.False(t, claims.HasRole("orchestrator"))

	claims, err = mgr.Verify(pair.RefreshToken, TokenRefresh)
	require.NoError(t, err)
	assert.Equal(t, "agt-000000000001", claims.AgentID)
}

func TestVerifyKindMismatch(t *testing.T) {
	mgr := NewTokenManager("test-secret", "nervix-hub", 0, 0)

	pair, err := mgr.Issue("agt-000000000001", []string{"coder", "qa"})
	require.NoError(t, err)

	// 拿刷新令牌当访问令牌用
	_, err = mgr.Verify(pair.RefreshToken, TokenAccess)
	require.Error(t, err)
}

func TestVerifyWrongSecret(t *testing.T) {
	mgr := NewTokenManager("secret-a", "nervix-hub", 0, 0)
	other := NewTokenManager("secret-b", "nervix-hub", 0, 0)

	pair, err := mgr.Issue("agt-000000000001", []string{"coder", "qa"})
	require.NoError(t, err)

	_, err = other.Verify(pair.AccessToken, TokenAccess)
	require.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	mgr := NewTokenManager("test-secret", "nervix-hub", time.Nanosecond, 0)

	pair, err := mgr.Issue("agt-000000000001", []string{"coder", "qa"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = mgr.Verify(pair.AccessToken, TokenAccess)
	require.Error(t, err)
}

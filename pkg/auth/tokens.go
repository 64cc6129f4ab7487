// Package auth Agent 会话令牌
//
// 注册验证通过后签发一对 JWT：短时效的访问令牌与长时效的刷新令牌，
// 均为 HS256 对称签名。令牌携带 Agent ID 与角色，传输层据此鉴权。
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 令牌时效默认值
const (
	DefaultAccessTTL  = 1 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// TokenKind 令牌类型
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims JWT 负载
type Claims struct {
	AgentID string    `json:"agent_id"`
	Roles   []string  `json:"roles"`
	Kind    TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// HasRole 判断负载中是否携带指定角色
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenPair 一对访问/刷新令牌
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenManager JWT 签发与校验
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenManager 创建令牌管理器
//
// accessTTL/refreshTTL 为零时使用默认时效。
func NewTokenManager(secret, issuer string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &TokenManager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Issue 为 Agent 签发一对令牌
func (m *TokenManager) Issue(agentID string, roles []string) (*TokenPair, error) {
	now := time.Now().UTC()
	accessExp := now.Add(m.accessTTL)
	refreshExp := now.Add(m.refreshTTL)

	access, err := m.sign(agentID, roles, TokenAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, err := m.sign(agentID, roles, TokenRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify 校验令牌并返回负载
//
// kind 不匹配（如拿刷新令牌当访问令牌用）视为无效。
func (m *TokenManager) Verify(tokenString string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("token kind mismatch: got %s, want %s", claims.Kind, kind)
	}
	return claims, nil
}

func (m *TokenManager) sign(agentID string, roles []string, kind TokenKind, now, exp time.Time) (string, error) {
	claims := &Claims{
		AgentID: agentID,
		Roles:   roles,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

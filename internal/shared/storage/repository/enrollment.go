// Package repository 注册挑战与会话相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

// CreateChallenge 创建注册挑战
func (s *Store) CreateChallenge(ctx context.Context, ch *model.EnrollmentChallenge) error {
	query := s.rebind(`
		INSERT INTO enrollment_challenges (id, agent_name, roles, nonce, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err := s.db.ExecContext(ctx, query,
		ch.ID, ch.AgentName, marshalRoles(ch.Roles), ch.Nonce, ch.Status, ch.ExpiresAt, ch.CreatedAt)
	return err
}

// GetChallenge 获取注册挑战
func (s *Store) GetChallenge(ctx context.Context, id string) (*model.EnrollmentChallenge, error) {
	query := s.rebind(`SELECT id, agent_name, roles, nonce, status, expires_at, created_at
		FROM enrollment_challenges WHERE id = $1`)
	ch := &model.EnrollmentChallenge{}
	var rolesJSON []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ch.ID, &ch.AgentName, &rolesJSON, &ch.Nonce, &ch.Status, &ch.ExpiresAt, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ch.Roles = unmarshalRoles(rolesJSON)
	return ch, nil
}

// ConsumeChallenge 原子地将 pending 置为目标状态
// 已不在 pending 状态时返回 ErrConflict，防止挑战复用
func (s *Store) ConsumeChallenge(ctx context.Context, id string, to model.ChallengeStatus) error {
	query := s.rebind(`UPDATE enrollment_challenges SET status = $1 WHERE id = $2 AND status = 'pending'`)
	result, err := s.db.ExecContext(ctx, query, to, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrConflict
	}
	return nil
}

// ExpireStaleChallenges 批量过期超时的 pending 挑战，返回处理数
func (s *Store) ExpireStaleChallenges(ctx context.Context, now time.Time) (int64, error) {
	query := s.rebind(`UPDATE enrollment_challenges SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1`)
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateSession 创建会话
func (s *Store) CreateSession(ctx context.Context, sess *model.AgentSession) error {
	query := s.rebind(`
		INSERT INTO agent_sessions (id, agent_id, access_token, refresh_token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.AgentID, sess.AccessToken, sess.RefreshToken, sess.ExpiresAt, sess.CreatedAt)
	return err
}

// GetSession 获取会话
func (s *Store) GetSession(ctx context.Context, id string) (*model.AgentSession, error) {
	query := s.rebind(`SELECT id, agent_id, access_token, refresh_token, expires_at, created_at
		FROM agent_sessions WHERE id = $1`)
	sess := &model.AgentSession{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.AgentID, &sess.AccessToken, &sess.RefreshToken, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteExpiredSessions 批量删除过期会话，返回处理数
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM agent_sessions WHERE expires_at < $1`)
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

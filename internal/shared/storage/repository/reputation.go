// Package repository 声誉相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"strings"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

const reputationColumns = `id, agent_id, overall_score, success_rate, quality_score,
	timeliness_score, uptime_score, avg_response_seconds, sample_count, version, created_at, updated_at`

// CreateReputation 创建声誉记录
func (s *Store) CreateReputation(ctx context.Context, rep *model.Reputation) error {
	query := s.rebind(`
		INSERT INTO reputation_scores (id, agent_id, overall_score, success_rate, quality_score,
			timeliness_score, uptime_score, avg_response_seconds, sample_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	_, err := s.db.ExecContext(ctx, query,
		rep.ID, rep.AgentID, rep.OverallScore, rep.SuccessRate, rep.QualityScore,
		rep.TimelinessScore, rep.UptimeScore, rep.AvgResponseSeconds, rep.SampleCount,
		rep.Version, rep.CreatedAt, rep.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// scanReputation 辅助函数：从数据库行扫描 Reputation
func scanReputation(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Reputation, error) {
	rep := &model.Reputation{}
	err := scanner.Scan(
		&rep.ID, &rep.AgentID, &rep.OverallScore, &rep.SuccessRate, &rep.QualityScore,
		&rep.TimelinessScore, &rep.UptimeScore, &rep.AvgResponseSeconds, &rep.SampleCount,
		&rep.Version, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// GetReputation 按 Agent 获取声誉记录
func (s *Store) GetReputation(ctx context.Context, agentID string) (*model.Reputation, error) {
	query := s.rebind(`SELECT ` + reputationColumns + ` FROM reputation_scores WHERE agent_id = $1`)
	rep, err := scanReputation(s.db.QueryRowContext(ctx, query, agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ListReputations 批量查询多个 Agent 的声誉记录（匹配引擎与排行榜用）
func (s *Store) ListReputations(ctx context.Context, agentIDs []string) (map[string]*model.Reputation, error) {
	result := make(map[string]*model.Reputation)
	if len(agentIDs) == 0 {
		return result, nil
	}

	parts := make([]string, len(agentIDs))
	args := make([]interface{}, len(agentIDs))
	for i, id := range agentIDs {
		parts[i] = placeholder(i + 1)
		args[i] = id
	}

	query := s.rebind(`SELECT ` + reputationColumns + ` FROM reputation_scores
		WHERE agent_id IN (` + strings.Join(parts, ", ") + `)`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rep, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		result[rep.AgentID] = rep
	}
	return result, rows.Err()
}

// UpdateReputation 版本守护的全量更新
func (s *Store) UpdateReputation(ctx context.Context, rep *model.Reputation) error {
	query := s.rebind(`
		UPDATE reputation_scores SET overall_score = $1, success_rate = $2, quality_score = $3,
			timeliness_score = $4, uptime_score = $5, avg_response_seconds = $6, sample_count = $7,
			version = version + 1, updated_at = ` + s.now() + `
		WHERE agent_id = $8 AND version = $9
	`)
	result, err := s.db.ExecContext(ctx, query,
		rep.OverallScore, rep.SuccessRate, rep.QualityScore,
		rep.TimelinessScore, rep.UptimeScore, rep.AvgResponseSeconds, rep.SampleCount,
		rep.AgentID, rep.Version)
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
	rep.Version++
	return nil
}

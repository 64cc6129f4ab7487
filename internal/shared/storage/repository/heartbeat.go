// Package repository 心跳流水相关的存储操作
package repository

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"
)

// CreateHeartbeatLog 追加心跳流水（自增主键，回填 ID）
func (s *Store) CreateHeartbeatLog(ctx context.Context, hb *model.HeartbeatLog) error {
	query := s.rebind(`
		INSERT INTO heartbeat_logs (agent_id, active_tasks, cpu_percent, memory_percent, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	result, err := s.db.ExecContext(ctx, query,
		hb.AgentID, hb.ActiveTasks, hb.CPUPercent, hb.MemoryPercent, hb.CreatedAt)
	if err != nil {
		return err
	}
	if id, err := result.LastInsertId(); err == nil {
		hb.ID = id
	}
	return nil
}

// ListHeartbeatLogs 列出 Agent 最近的心跳流水
func (s *Store) ListHeartbeatLogs(ctx context.Context, agentID string, limit int) ([]*model.HeartbeatLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT id, agent_id, active_tasks, cpu_percent, memory_percent, created_at
		FROM heartbeat_logs WHERE agent_id = $1 ORDER BY id DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.HeartbeatLog
	for rows.Next() {
		hb := &model.HeartbeatLog{}
		if err := rows.Scan(&hb.ID, &hb.AgentID, &hb.ActiveTasks, &hb.CPUPercent, &hb.MemoryPercent, &hb.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, hb)
	}
	return logs, rows.Err()
}

// CountHeartbeatsSince 统计窗口内的心跳次数（在线率估算用）
func (s *Store) CountHeartbeatsSince(ctx context.Context, agentID string, since time.Time) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM heartbeat_logs WHERE agent_id = $1 AND created_at >= $2`)
	var count int
	if err := s.db.QueryRowContext(ctx, query, agentID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

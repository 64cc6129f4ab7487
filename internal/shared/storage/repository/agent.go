// Package repository Agent 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

const agentColumns = `id, name, display_name, roles, status, suspend_reason,
	credit_balance, fee_discount, total_credits_earned, total_credits_spent,
	max_concurrent_tasks, active_tasks, total_tasks_completed, total_tasks_failed,
	last_heartbeat_at, version, created_at, updated_at`

// CreateAgent 创建 Agent
func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) error {
	query := s.rebind(`
		INSERT INTO agents (id, name, display_name, roles, status, suspend_reason,
			credit_balance, fee_discount, total_credits_earned, total_credits_spent,
			max_concurrent_tasks, active_tasks, total_tasks_completed, total_tasks_failed,
			last_heartbeat_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`)
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.DisplayName, marshalRoles(agent.Roles), agent.Status, agent.SuspendReason,
		agent.CreditBalance, agent.FeeDiscount, agent.TotalCreditsEarned, agent.TotalCreditsSpent,
		agent.MaxConcurrentTasks, agent.ActiveTasks, agent.TotalTasksCompleted, agent.TotalTasksFailed,
		agent.LastHeartbeatAt, agent.Version, agent.CreatedAt, agent.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

// scanAgent 辅助函数：从数据库行扫描 Agent
func scanAgent(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Agent, error) {
	agent := &model.Agent{}
	var rolesJSON []byte
	err := scanner.Scan(
		&agent.ID, &agent.Name, &agent.DisplayName, &rolesJSON, &agent.Status, &agent.SuspendReason,
		&agent.CreditBalance, &agent.FeeDiscount, &agent.TotalCreditsEarned, &agent.TotalCreditsSpent,
		&agent.MaxConcurrentTasks, &agent.ActiveTasks, &agent.TotalTasksCompleted, &agent.TotalTasksFailed,
		&agent.LastHeartbeatAt, &agent.Version, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	agent.Roles = unmarshalRoles(rolesJSON)
	return agent, nil
}

// GetAgent 获取 Agent
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	query := s.rebind(`SELECT ` + agentColumns + ` FROM agents WHERE id = $1`)
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgentByName 按名称获取 Agent
func (s *Store) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	query := s.rebind(`SELECT ` + agentColumns + ` FROM agents WHERE name = $1`)
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents 按条件列出 Agent，结果按 id 升序保证确定性
func (s *Store) ListAgents(ctx context.Context, filter storage.AgentFilter) ([]*model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var conditions []string
	var args []interface{}

	appendCond := func(cond string, arg interface{}) {
		conditions = append(conditions, strings.Replace(cond, "?", placeholder(len(args)+1), 1))
		args = append(args, arg)
	}

	if filter.Status != "" {
		appendCond("status = ?", filter.Status)
	}
	if filter.Role != "" {
		// 角色存为 JSON 数组，按带引号的元素做包含匹配
		appendCond("roles LIKE ?", `%"`+filter.Role+`"%`)
	}
	if filter.ExcludeID != "" {
		appendCond("id != ?", filter.ExcludeID)
	}
	if filter.OnlyMatchable {
		conditions = append(conditions, "status = 'active'", "active_tasks < max_concurrent_tasks")
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CountAgentsByStatus 按状态统计 Agent 数量
func (s *Store) CountAgentsByStatus(ctx context.Context) (map[model.AgentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.AgentStatus]int)
	for rows.Next() {
		var status model.AgentStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// UpdateAgent 版本守护的全量更新
// 写入成功后递增内存实体的 Version
func (s *Store) UpdateAgent(ctx context.Context, agent *model.Agent) error {
	query := s.rebind(`
		UPDATE agents SET name = $1, display_name = $2, roles = $3, status = $4, suspend_reason = $5,
			credit_balance = $6, fee_discount = $7, total_credits_earned = $8, total_credits_spent = $9,
			max_concurrent_tasks = $10, active_tasks = $11, total_tasks_completed = $12, total_tasks_failed = $13,
			last_heartbeat_at = $14, version = version + 1, updated_at = ` + s.now() + `
		WHERE id = $15 AND version = $16
	`)
	result, err := s.db.ExecContext(ctx, query,
		agent.Name, agent.DisplayName, marshalRoles(agent.Roles), agent.Status, agent.SuspendReason,
		agent.CreditBalance, agent.FeeDiscount, agent.TotalCreditsEarned, agent.TotalCreditsSpent,
		agent.MaxConcurrentTasks, agent.ActiveTasks, agent.TotalTasksCompleted, agent.TotalTasksFailed,
		agent.LastHeartbeatAt, agent.ID, agent.Version)
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
	agent.Version++
	return nil
}

// ReserveTaskSlot 原子占用一个任务槽位
// 仅当 active_tasks < max_concurrent_tasks 时生效，否则返回 ErrConflict
func (s *Store) ReserveTaskSlot(ctx context.Context, id string) error {
	query := s.rebind(`
		UPDATE agents SET active_tasks = active_tasks + 1, updated_at = ` + s.now() + `
		WHERE id = $1 AND active_tasks < max_concurrent_tasks AND status = 'active'
	`)
	result, err := s.db.ExecContext(ctx, query, id)
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

// ReleaseTaskSlot 原子释放一个任务槽位（不低于 0）
func (s *Store) ReleaseTaskSlot(ctx context.Context, id string) error {
	query := s.rebind(`
		UPDATE agents SET active_tasks = active_tasks - 1, updated_at = ` + s.now() + `
		WHERE id = $1 AND active_tasks > 0
	`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// TouchAgentHeartbeat 刷新心跳时间戳（不参与版本竞争）
func (s *Store) TouchAgentHeartbeat(ctx context.Context, id string, at time.Time) error {
	query := s.rebind(`UPDATE agents SET last_heartbeat_at = $1, updated_at = ` + s.now() + ` WHERE id = $2`)
	result, err := s.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListStaleAgents 列出心跳早于 cutoff 的 active Agent
func (s *Store) ListStaleAgents(ctx context.Context, cutoff time.Time) ([]*model.Agent, error) {
	query := s.rebind(`SELECT ` + agentColumns + ` FROM agents
		WHERE status = 'active' AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $1)
		ORDER BY id ASC`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*model.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// DeleteAgent 删除 Agent（级联删除技能声明与会话）
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM agent_capabilities WHERE agent_id = $1`,
		`DELETE FROM agent_sessions WHERE agent_id = $1`,
		`DELETE FROM reputation_scores WHERE agent_id = $1`,
		`DELETE FROM agents WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// isUniqueViolation 判断错误是否为唯一约束冲突
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

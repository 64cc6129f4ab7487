// Package repository Task 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
)

const taskColumns = `id, title, description, required_skills, required_roles, priority, status,
	credit_reward, max_duration, retry_count, max_retries, requester_id, assigned_agent_id,
	failure_reason, assigned_at, started_at, completed_at, version, created_at, updated_at`

// CreateTask 创建任务
func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	query := s.rebind(`
		INSERT INTO tasks (id, title, description, required_skills, required_roles, priority, status,
			credit_reward, max_duration, retry_count, max_retries, requester_id, assigned_agent_id,
			failure_reason, assigned_at, started_at, completed_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`)
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, marshalStrings(task.RequiredSkills), marshalRoles(task.RequiredRoles),
		task.Priority, task.Status, task.CreditReward, task.MaxDuration, task.RetryCount, task.MaxRetries,
		task.RequesterID, task.AssignedAgentID, task.FailureReason,
		task.AssignedAt, task.StartedAt, task.CompletedAt, task.Version, task.CreatedAt, task.UpdatedAt)
	return err
}

// scanTask 辅助函数：从数据库行扫描 Task
func scanTask(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Task, error) {
	task := &model.Task{}
	var skillsJSON, rolesJSON []byte
	err := scanner.Scan(
		&task.ID, &task.Title, &task.Description, &skillsJSON, &rolesJSON,
		&task.Priority, &task.Status, &task.CreditReward, &task.MaxDuration, &task.RetryCount, &task.MaxRetries,
		&task.RequesterID, &task.AssignedAgentID, &task.FailureReason,
		&task.AssignedAt, &task.StartedAt, &task.CompletedAt, &task.Version, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.RequiredSkills = unmarshalStrings(skillsJSON)
	task.RequiredRoles = unmarshalRoles(rolesJSON)
	return task, nil
}

// GetTask 获取任务
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`)
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks 按条件列出任务
func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conditions []string
	var args []interface{}

	appendCond := func(cond string, arg interface{}) {
		conditions = append(conditions, strings.Replace(cond, "?", placeholder(len(args)+1), 1))
		args = append(args, arg)
	}

	if filter.Status != "" {
		appendCond("status = ?", filter.Status)
	}
	if filter.RequesterID != "" {
		appendCond("requester_id = ?", filter.RequesterID)
	}
	if filter.AssignedTo != "" {
		appendCond("assigned_agent_id = ?", filter.AssignedTo)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
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

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask 版本守护的全量更新
func (s *Store) UpdateTask(ctx context.Context, task *model.Task) error {
	query := s.rebind(`
		UPDATE tasks SET title = $1, description = $2, required_skills = $3, required_roles = $4,
			priority = $5, status = $6, credit_reward = $7, max_duration = $8,
			retry_count = $9, max_retries = $10, assigned_agent_id = $11, failure_reason = $12,
			assigned_at = $13, started_at = $14, completed_at = $15,
			version = version + 1, updated_at = ` + s.now() + `
		WHERE id = $16 AND version = $17
	`)
	result, err := s.db.ExecContext(ctx, query,
		task.Title, task.Description, marshalStrings(task.RequiredSkills), marshalRoles(task.RequiredRoles),
		task.Priority, task.Status, task.CreditReward, task.MaxDuration,
		task.RetryCount, task.MaxRetries, task.AssignedAgentID, task.FailureReason,
		task.AssignedAt, task.StartedAt, task.CompletedAt, task.ID, task.Version)
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
	task.Version++
	return nil
}

// ListQueuedTasks 按优先级与创建时间列出排队中的任务
func (s *Store) ListQueuedTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE status = 'queued'
		ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3
		END, created_at ASC
		LIMIT $1`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListRunningTasksStartedBefore 列出开始时间早于 cutoff 的进行中任务（超时巡检用）
func (s *Store) ListRunningTasksStartedBefore(ctx context.Context, cutoff time.Time) ([]*model.Task, error) {
	query := s.rebind(`SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ('assigned', 'in_progress') AND started_at IS NOT NULL AND started_at < $1
		ORDER BY started_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteTask 删除任务
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = $1`), id)
	return err
}

// Package repository 技能声明相关的存储操作
package repository

import (
	"context"
	"strings"

	"nervix-hub/internal/shared/model"
)

// ReplaceCapabilities 全量替换 Agent 的技能声明
func (s *Store) ReplaceCapabilities(ctx context.Context, agentID string, caps []*model.Capability) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM agent_capabilities WHERE agent_id = $1`), agentID); err != nil {
		return err
	}

	insert := s.rebind(`
		INSERT INTO agent_capabilities (id, agent_id, skill_id, skill_name, tags, proficiency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	for _, c := range caps {
		if _, err := tx.ExecContext(ctx, insert,
			c.ID, agentID, c.SkillID, c.SkillName, marshalStrings(c.Tags), c.Proficiency, c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// scanCapability 辅助函数：从数据库行扫描 Capability
func scanCapability(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Capability, error) {
	c := &model.Capability{}
	var tagsJSON []byte
	err := scanner.Scan(&c.ID, &c.AgentID, &c.SkillID, &c.SkillName, &tagsJSON, &c.Proficiency, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Tags = unmarshalStrings(tagsJSON)
	return c, nil
}

// ListCapabilities 列出 Agent 的技能声明
func (s *Store) ListCapabilities(ctx context.Context, agentID string) ([]*model.Capability, error) {
	query := s.rebind(`SELECT id, agent_id, skill_id, skill_name, tags, proficiency, created_at
		FROM agent_capabilities WHERE agent_id = $1 ORDER BY skill_name ASC`)
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caps []*model.Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// ListCapabilitiesForAgents 批量查询多个 Agent 的技能声明（匹配引擎用，避免 N+1）
func (s *Store) ListCapabilitiesForAgents(ctx context.Context, agentIDs []string) (map[string][]*model.Capability, error) {
	result := make(map[string][]*model.Capability)
	if len(agentIDs) == 0 {
		return result, nil
	}

	parts := make([]string, len(agentIDs))
	args := make([]interface{}, len(agentIDs))
	for i, id := range agentIDs {
		parts[i] = placeholder(i + 1)
		args[i] = id
	}

	query := s.rebind(`SELECT id, agent_id, skill_id, skill_name, tags, proficiency, created_at
		FROM agent_capabilities WHERE agent_id IN (` + strings.Join(parts, ", ") + `) ORDER BY agent_id, skill_name`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		result[c.AgentID] = append(result[c.AgentID], c)
	}
	return result, rows.Err()
}

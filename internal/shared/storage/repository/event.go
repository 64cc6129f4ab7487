// Package repository 联邦事件日志相关的存储操作
package repository

import (
	"context"
	"encoding/json"

	"nervix-hub/internal/shared/model"
)

// CreateEvent 归档联邦事件
func (s *Store) CreateEvent(ctx context.Context, ev *model.FederationEvent) error {
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	query := s.rebind(`
		INSERT INTO federation_events (id, type, actor_id, subject_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Type, ev.ActorID, ev.SubjectID, payload, ev.CreatedAt)
	return err
}

// scanEvent 辅助函数：从数据库行扫描 FederationEvent
func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.FederationEvent, error) {
	ev := &model.FederationEvent{}
	var payload []byte
	err := scanner.Scan(&ev.ID, &ev.Type, &ev.ActorID, &ev.SubjectID, &payload, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		ev.Payload = json.RawMessage(payload)
	}
	return ev, nil
}

// ListEvents 按类型列出事件（type 为空时列出全部）
func (s *Store) ListEvents(ctx context.Context, eventType string, limit, offset int) ([]*model.FederationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var query string
	var args []interface{}
	if eventType != "" {
		query = s.rebind(`SELECT id, type, actor_id, subject_id, payload, created_at
			FROM federation_events WHERE type = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)
		args = []interface{}{eventType, limit, offset}
	} else {
		query = s.rebind(`SELECT id, type, actor_id, subject_id, payload, created_at
			FROM federation_events ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`)
		args = []interface{}{limit, offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.FederationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListEventsBySubject 列出针对某实体的事件
func (s *Store) ListEventsBySubject(ctx context.Context, subjectID string, limit int) ([]*model.FederationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT id, type, actor_id, subject_id, payload, created_at
		FROM federation_events WHERE subject_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.FederationEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Package model 联邦事件日志的数据模型
package model

import (
	"encoding/json"
	"time"
)

// FederationEventType 联邦事件类型
type FederationEventType string

const (
	EventAgentEnrolled   FederationEventType = "agent.enrolled"
	EventAgentSuspended  FederationEventType = "agent.suspended"
	EventAgentOffline    FederationEventType = "agent.offline"
	EventTaskAssigned    FederationEventType = "task.assigned"
	EventTaskSettled     FederationEventType = "task.settled"
	EventTaskFailed      FederationEventType = "task.failed"
	EventAuditCompleted  FederationEventType = "audit.completed"
	EventBarterCompleted FederationEventType = "barter.completed"
	EventBarterExpired   FederationEventType = "barter.expired"
	EventTransfer        FederationEventType = "economy.transfer"
)

// FederationEvent 联邦内重要动作的审计日志条目
//
// 事件同时写入 Redis Stream（供订阅）与持久化存储（供追溯）。
type FederationEvent struct {
	// ID 唯一标识，格式 evt-xxxxxxxxxxxx
	ID string `json:"id" bson:"_id" db:"id"`

	// Type 事件类型
	Type FederationEventType `json:"type" bson:"type" db:"type"`

	// ActorID 触发方 Agent ID
	ActorID string `json:"actor_id,omitempty" bson:"actor_id,omitempty" db:"actor_id"`

	// SubjectID 事件主体 ID（任务、知识包、易货等）
	SubjectID string `json:"subject_id,omitempty" bson:"subject_id,omitempty" db:"subject_id"`

	// Payload 事件附加数据
	Payload json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty" db:"payload"`

	// CreatedAt 发生时间
	CreatedAt time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}

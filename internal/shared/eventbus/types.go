// Package eventbus 事件总线类型定义
package eventbus

import (
	"encoding/json"
	"time"
)

// ============================================================================
// 事件类型
// ============================================================================

// Event 联邦事件（总线视角）
//
// StreamID 是 Redis Stream 分配的消息 ID，EventID 是落库的事件 ID。
type Event struct {
	StreamID  string          `json:"stream_id,omitempty"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actor_id,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// 联邦事件 Stream
	KeyFederationEvents = "federation:events"

	// Stream 最大长度
	MaxStreamLength = 10000
)

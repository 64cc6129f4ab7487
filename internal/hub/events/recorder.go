// Package events 联邦事件的落库与广播
//
// 所有业务引擎通过 Recorder 记录联邦事件：先写入持久化存储（供追溯），
// 再发布到事件总线（供订阅方实时消费）。记录失败只告警，不阻断业务流程。
package events

import (
	"context"
	"encoding/json"
	"time"

	"nervix-hub/internal/shared/eventbus"
	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"
	"nervix-hub/pkg/logging"
)

// Recorder 联邦事件记录器
type Recorder struct {
	store storage.EventStore
	bus   eventbus.EventBus
	log   *logging.Logger
}

// NewRecorder 创建事件记录器
//
// store 为 nil 时不落库，bus 为 nil 时不广播。
func NewRecorder(store storage.EventStore, bus eventbus.EventBus) *Recorder {
	return &Recorder{
		store: store,
		bus:   bus,
		log:   logging.Default("events"),
	}
}

// Record 记录一条联邦事件
//
// payload 会被 JSON 序列化；序列化失败的 payload 被丢弃，事件本身仍然记录。
func (r *Recorder) Record(ctx context.Context, typ model.FederationEventType, actorID, subjectID string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.log.Warn("Dropping unmarshalable event payload",
				"type", string(typ), "error", err.Error())
		} else {
			raw = data
		}
	}

	ev := &model.FederationEvent{
		ID:        model.NewID(model.PrefixEvent),
		Type:      typ,
		ActorID:   actorID,
		SubjectID: subjectID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}

	if r.store != nil {
		if err := r.store.CreateEvent(ctx, ev); err != nil {
			r.log.Warn("Failed to persist federation event",
				"type", string(typ), "subject_id", subjectID, "error", err.Error())
		}
	}

	if r.bus != nil {
		busEvent := &eventbus.Event{
			EventID:   ev.ID,
			Type:      string(ev.Type),
			ActorID:   ev.ActorID,
			SubjectID: ev.SubjectID,
			Payload:   ev.Payload,
			Timestamp: ev.CreatedAt,
		}
		if err := r.bus.PublishFederationEvent(ctx, busEvent); err != nil {
			r.log.Warn("Failed to publish federation event",
				"type", string(typ), "subject_id", subjectID, "error", err.Error())
		}
	}
}

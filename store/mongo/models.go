package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/internal/entity"
	"github.com/graniteshield/outbox/optout"
)

// --- Record models ---

type recordModel struct {
	grove.BaseModel `grove:"table:outbox_records"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	Action         string            `grove:"action"          bson:"action"`
	Priority       string            `grove:"priority"        bson:"priority"`
	PriorityRank   int               `grove:"priority_rank"   bson:"priority_rank"`
	Payload        string            `grove:"payload"         bson:"payload"`
	Status         string            `grove:"status"          bson:"status"`
	AttemptCount   int               `grove:"attempt_count"   bson:"attempt_count"`
	MaxAttempts    int               `grove:"max_attempts"    bson:"max_attempts"`
	LastError      string            `grove:"last_error"      bson:"last_error"`
	NextAttemptAt  time.Time         `grove:"next_attempt_at" bson:"next_attempt_at"`
	IdempotencyKey string            `grove:"idempotency_key" bson:"idempotency_key"`
	ExternalID     string            `grove:"external_id"     bson:"external_id"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	ReplayOf       string            `grove:"replay_of"       bson:"replay_of"`
	CompletedAt    *time.Time        `grove:"completed_at"    bson:"completed_at,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toRecordModel(r *event.Record) *recordModel {
	return &recordModel{
		ID:             r.ID.String(),
		Action:         r.Action.String(),
		Priority:       string(r.Priority),
		PriorityRank:   r.Priority.Rank(),
		Payload:        string(r.Payload),
		Status:         string(r.Status),
		AttemptCount:   r.AttemptCount,
		MaxAttempts:    r.MaxAttempts,
		LastError:      r.LastError,
		NextAttemptAt:  r.NextAttemptAt,
		IdempotencyKey: r.IdempotencyKey,
		ExternalID:     r.ExternalID,
		Metadata:       r.Metadata,
		ReplayOf:       r.ReplayOf,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) (*event.Record, error) {
	recID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}

	action, err := event.ParseAction(m.Action)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", m.ID, err)
	}

	return &event.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             recID,
		Action:         action,
		Priority:       event.Priority(m.Priority),
		Payload:        json.RawMessage(m.Payload),
		Status:         event.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		LastError:      m.LastError,
		NextAttemptAt:  m.NextAttemptAt,
		IdempotencyKey: m.IdempotencyKey,
		ExternalID:     m.ExternalID,
		Metadata:       m.Metadata,
		ReplayOf:       m.ReplayOf,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// --- Opt-out models ---

type optOutModel struct {
	grove.BaseModel `grove:"table:outbox_opt_outs"`

	Phone     string    `grove:"phone,pk"   bson:"_id"`
	OptedOut  bool      `grove:"opted_out"  bson:"opted_out"`
	Keyword   string    `grove:"keyword"    bson:"keyword"`
	MessageID string    `grove:"message_id" bson:"message_id"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func fromOptOutModel(m *optOutModel) *optout.Entry {
	return &optout.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Phone:     m.Phone,
		OptedOut:  m.OptedOut,
		Keyword:   m.Keyword,
		MessageID: m.MessageID,
	}
}

package sqlite

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

	ID             string     `grove:"id,pk"`
	Action         string     `grove:"action"`
	Priority       string     `grove:"priority"`
	PriorityRank   int        `grove:"priority_rank"`
	Payload        string     `grove:"payload"` // JSON text
	Status         string     `grove:"status"`
	AttemptCount   int        `grove:"attempt_count"`
	MaxAttempts    int        `grove:"max_attempts"`
	LastError      string     `grove:"last_error"`
	NextAttemptAt  time.Time  `grove:"next_attempt_at"`
	IdempotencyKey string     `grove:"idempotency_key"`
	ExternalID     string     `grove:"external_id"`
	Metadata       string     `grove:"metadata"` // JSON text
	ReplayOf       string     `grove:"replay_of"`
	CompletedAt    *time.Time `grove:"completed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toRecordModel(r *event.Record) *recordModel {
	metadata := []byte("{}")
	if len(r.Metadata) > 0 {
		metadata, _ = json.Marshal(r.Metadata) //nolint:errcheck // map[string]string always marshals
	}
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
		Metadata:       string(metadata),
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

	var metadata map[string]string
	if m.Metadata != "" && m.Metadata != "{}" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata) //nolint:errcheck // best-effort
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
		Metadata:       metadata,
		ReplayOf:       m.ReplayOf,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// --- Opt-out models ---

type optOutModel struct {
	grove.BaseModel `grove:"table:outbox_opt_outs"`

	Phone     string    `grove:"phone,pk"`
	OptedOut  bool      `grove:"opted_out"`
	Keyword   string    `grove:"keyword"`
	MessageID string    `grove:"message_id"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toOptOutModel(e *optout.Entry) *optOutModel {
	return &optOutModel{
		Phone:     e.Phone,
		OptedOut:  e.OptedOut,
		Keyword:   e.Keyword,
		MessageID: e.MessageID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
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

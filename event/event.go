package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/internal/entity"
)

// MaxAttempts is the fixed dispatch budget of every record.
const MaxAttempts = 3

// Record is one durable unit of outbound work.
type Record struct {
	entity.Entity

	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// Action selects the handler that processes the record.
	Action Action `json:"action"`

	// Priority is the latency tier.
	Priority Priority `json:"priority"`

	// Payload is the action-specific JSON object.
	Payload json.RawMessage `json:"payload"`

	Status       Status `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`

	// LastError is the last failure reason; cleared on success.
	LastError string `json:"last_error,omitempty"`

	// NextAttemptAt is when the retry sweep may pick the record up.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// IdempotencyKey suppresses duplicate side effects per action.
	IdempotencyKey string `json:"idempotency_key"`

	// ExternalID is the provider's identifier for the accepted side effect.
	ExternalID string `json:"external_id,omitempty"`

	// Metadata carries the webhook source context (contact, workflow, ...).
	Metadata map[string]string `json:"metadata,omitempty"`

	// ReplayOf is the ID of the dead record this record replays.
	ReplayOf string `json:"replay_of,omitempty"`

	// CompletedAt is set when the record reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Exhausted reports whether the record has used its whole attempt budget.
func (r *Record) Exhausted() bool {
	return r.AttemptCount >= r.MaxAttempts
}

// DecodePayload unmarshals the payload into v.
func (r *Record) DecodePayload(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// Draft is what callers supply to create a record.
type Draft struct {
	Action         Action            `json:"action"          validate:"outbox_action"`
	Priority       Priority          `json:"priority"        validate:"oneof=P0 P1 P2 P3"`
	Payload        json.RawMessage   `json:"payload"         validate:"required"`
	IdempotencyKey string            `json:"idempotency_key" validate:"max=255"`
	Metadata       map[string]string `json:"metadata"        validate:"omitempty,max=32"`
	ReplayOf       string            `json:"replay_of"`
}

// NewRecord builds a pending record from a validated draft. A missing
// idempotency key is derived from the action and payload.
func NewRecord(d Draft) *Record {
	key := d.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(d.Action, d.Payload)
	}
	r := &Record{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		Action:         d.Action,
		Priority:       d.Priority,
		Payload:        append(json.RawMessage(nil), d.Payload...),
		Status:         StatusPending,
		MaxAttempts:    MaxAttempts,
		IdempotencyKey: key,
		ReplayOf:       d.ReplayOf,
	}
	r.NextAttemptAt = r.CreatedAt
	if len(d.Metadata) > 0 {
		r.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			r.Metadata[k] = v
		}
	}
	return r
}

// DeriveIdempotencyKey returns a stable key for a payload: the hex SHA-256 of
// the action name and the compacted payload JSON.
func DeriveIdempotencyKey(a Action, payload json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		buf.Reset()
		buf.Write(payload)
	}
	h := sha256.New()
	h.Write([]byte(a.String()))
	h.Write([]byte{0})
	h.Write(buf.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}

// ListOpts configures filtering and pagination for record listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status Status
	Action Action
	From   *time.Time
	To     *time.Time
}

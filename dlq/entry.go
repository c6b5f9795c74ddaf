// Package dlq exposes dead-lettered outbox records for inspection and replay.
//
// The dead letter queue is not a separate table: it is the set of records in
// status failed_dead. Replaying an entry creates a fresh record linked to the
// dead one through ReplayOf.
package dlq

import (
	"encoding/json"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
)

// Entry is a dead-lettered record as seen by operators.
type Entry struct {
	// ID is the dead record's ID.
	ID id.ID `json:"id"`

	Action         event.Action      `json:"action"`
	Priority       event.Priority    `json:"priority"`
	Payload        json.RawMessage   `json:"payload"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	// Error is the failure reason of the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// ReplayOf is set when the dead record was itself a replay.
	ReplayOf string `json:"replay_of,omitempty"`

	// ReplayID is the record created by replaying this entry, if any.
	ReplayID string `json:"replay_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// FailedAt is when the record was dead-lettered.
	FailedAt time.Time `json:"failed_at"`
}

// FromRecord builds an entry from a failed_dead record.
func FromRecord(r *event.Record) *Entry {
	e := &Entry{
		ID:             r.ID,
		Action:         r.Action,
		Priority:       r.Priority,
		Payload:        r.Payload,
		IdempotencyKey: r.IdempotencyKey,
		Metadata:       r.Metadata,
		Error:          r.LastError,
		AttemptCount:   r.AttemptCount,
		ReplayOf:       r.ReplayOf,
		CreatedAt:      r.CreatedAt,
		FailedAt:       r.UpdatedAt,
	}
	if r.CompletedAt != nil {
		e.FailedAt = *r.CompletedAt
	}
	return e
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset int
	Limit  int
	Action event.Action
	From   *time.Time
	To     *time.Time
}

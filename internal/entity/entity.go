// Package entity defines the timestamps shared by persisted outbox records.
package entity

import "time"

// Entity carries creation and last-update timestamps.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity with both timestamps set to the current UTC time.
func New() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch sets UpdatedAt to the current UTC time and returns it.
func (e *Entity) Touch() time.Time {
	e.UpdatedAt = time.Now().UTC()
	return e.UpdatedAt
}

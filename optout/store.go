package optout

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a number has no opt-out entry.
var ErrNotFound = errors.New("outbox: opt-out entry not found")

// Store defines the persistence contract for opt-out entries.
type Store interface {
	// SetOptOut creates or replaces the entry for e.Phone.
	SetOptOut(ctx context.Context, e *Entry) error

	// GetOptOut returns the entry for an E.164 number.
	GetOptOut(ctx context.Context, phone string) (*Entry, error)
}

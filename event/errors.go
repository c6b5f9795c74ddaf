package event

import "errors"

// Sentinel errors shared by the dispatcher and every store implementation.
var (
	// ErrNotFound is returned when a record cannot be found.
	ErrNotFound = errors.New("outbox: record not found")

	// ErrDuplicate is returned by CreateRecord when a record with the same
	// action and idempotency key already exists.
	ErrDuplicate = errors.New("outbox: duplicate idempotency key")

	// ErrConflict is returned by TransitionRecord when the stored record is
	// no longer in the expected prior status.
	ErrConflict = errors.New("outbox: record state conflict")

	// ErrInvalidTransition is returned when a transition is not allowed by
	// the state machine.
	ErrInvalidTransition = errors.New("outbox: invalid status transition")

	// ErrInvalidDraft is returned when a draft fails validation.
	ErrInvalidDraft = errors.New("outbox: invalid draft")
)

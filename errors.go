package outbox

import (
	"errors"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/dlq"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/optout"
	"github.com/graniteshield/outbox/schema"
)

// Sentinel errors returned by Outbox operations.
var (
	// ErrNoStore is returned when an Outbox is created without a store.
	ErrNoStore = errors.New("outbox: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("outbox: store is closed")

	// ErrInvalidConfig is returned when an option carries an invalid value.
	ErrInvalidConfig = errors.New("outbox: invalid configuration")

	// ErrUnauthorized is returned when an inbound request fails authentication.
	ErrUnauthorized = errors.New("outbox: unauthorized")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("outbox: migration failed")

	// ErrRecordNotFound is returned when a record cannot be found.
	ErrRecordNotFound = event.ErrNotFound

	// ErrDuplicateIdempotencyKey is returned by stores when a record with the
	// same action and idempotency key already exists.
	ErrDuplicateIdempotencyKey = event.ErrDuplicate

	// ErrConflict is returned when a record changed status underneath a
	// conditional update.
	ErrConflict = event.ErrConflict

	// ErrInvalidDraft is returned when a draft fails validation.
	ErrInvalidDraft = event.ErrInvalidDraft

	// ErrPayloadValidationFailed is returned when a payload fails its
	// action's JSON Schema.
	ErrPayloadValidationFailed = schema.ErrInvalidPayload

	// ErrHandlerNotRegistered is returned when no handler serves an action.
	ErrHandlerNotRegistered = handler.ErrNotRegistered

	// ErrNotDispatchable is returned when a record is not in a status that
	// allows another attempt.
	ErrNotDispatchable = dispatch.ErrNotDispatchable

	// ErrNotDeadLettered is returned when replaying a record that is not dead.
	ErrNotDeadLettered = dlq.ErrNotDeadLettered

	// ErrOptOutNotFound is returned when a number has no opt-out entry.
	ErrOptOutNotFound = optout.ErrNotFound
)

package event

import (
	"context"
	"time"

	"github.com/graniteshield/outbox/id"
)

// Store defines the persistence contract for outbox records.
//
// Implementations must index records by (action, idempotency_key), unique,
// and by (status, next_attempt_at).
type Store interface {
	// CreateRecord persists a new record. Returns ErrDuplicate when a record
	// with the same action and idempotency key exists.
	CreateRecord(ctx context.Context, r *Record) error

	// GetRecord returns a record by ID.
	GetRecord(ctx context.Context, recID id.ID) (*Record, error)

	// GetRecordByKey returns the record for an action and idempotency key.
	GetRecordByKey(ctx context.Context, a Action, key string) (*Record, error)

	// TransitionRecord writes the mutable fields of r (status, attempt
	// count, last error, next attempt, external id, completion and update
	// times) only if the stored record is still in status from. Returns
	// ErrConflict otherwise.
	TransitionRecord(ctx context.Context, r *Record, from Status) error

	// ListRecords returns records, newest first.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)

	// ListDue returns failed_retryable records whose next attempt is at or
	// before now, most urgent priority first, then oldest due time.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// ListStale returns records in status that were last updated before
	// the given time, oldest first.
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]*Record, error)

	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

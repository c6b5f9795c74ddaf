// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/optout"
	outboxstore "github.com/graniteshield/outbox/store"
)

// compile-time interface check.
var _ outboxstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
// Records are cloned on the way in and out so callers never share state
// with the store.
type Store struct {
	mu sync.RWMutex

	records map[string]*event.Record // keyed by ID string
	byKey   map[string]*event.Record // keyed by action and idempotency key
	optOuts map[string]*optout.Entry // keyed by E.164 phone

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]*event.Record),
		byKey:   make(map[string]*event.Record),
		optOuts: make(map[string]*optout.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping returns ErrStoreClosed once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return outbox.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateRecord persists a record. Returns ErrDuplicate when the action and
// idempotency key are taken.
func (s *Store) CreateRecord(_ context.Context, r *event.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return outbox.ErrStoreClosed
	}
	k := recordKey(r.Action, r.IdempotencyKey)
	if _, ok := s.byKey[k]; ok {
		return event.ErrDuplicate
	}

	cp := r.Clone()
	s.records[r.ID.String()] = cp
	s.byKey[k] = cp
	return nil
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(_ context.Context, recID id.ID) (*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	return r.Clone(), nil
}

// GetRecordByKey returns the record for an action and idempotency key.
func (s *Store) GetRecordByKey(_ context.Context, a event.Action, key string) (*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byKey[recordKey(a, key)]
	if !ok {
		return nil, event.ErrNotFound
	}
	return r.Clone(), nil
}

// TransitionRecord writes r's mutable fields if the stored status is still
// from.
func (s *Store) TransitionRecord(_ context.Context, r *event.Record, from event.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return outbox.ErrStoreClosed
	}
	cur, ok := s.records[r.ID.String()]
	if !ok {
		return event.ErrNotFound
	}
	if cur.Status != from {
		return event.ErrConflict
	}

	cur.Status = r.Status
	cur.AttemptCount = r.AttemptCount
	cur.LastError = r.LastError
	cur.NextAttemptAt = r.NextAttemptAt
	cur.ExternalID = r.ExternalID
	cur.UpdatedAt = r.UpdatedAt
	cur.CompletedAt = nil
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cur.CompletedAt = &t
	}
	return nil
}

// ListRecords returns records, newest first, optionally filtered.
func (s *Store) ListRecords(_ context.Context, opts event.ListOpts) ([]*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Record, 0, len(s.records))
	for _, r := range s.records {
		if !matchRecordOpts(r, opts) {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return cloneAll(applyPagination(result, opts.Offset, opts.Limit)), nil
}

// ListDue returns failed_retryable records due at or before now, most
// urgent priority first.
func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Record, 0)
	for _, r := range s.records {
		if r.Status != event.StatusFailedRetryable || r.NextAttemptAt.After(now) {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Priority.Rank(), result[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return result[i].NextAttemptAt.Before(result[j].NextAttemptAt)
	})

	return cloneAll(applyPagination(result, 0, limit)), nil
}

// ListStale returns records in status last updated before the given time,
// oldest first.
func (s *Store) ListStale(_ context.Context, status event.Status, before time.Time, limit int) ([]*event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Record, 0)
	for _, r := range s.records {
		if r.Status != status || !r.UpdatedAt.Before(before) {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})

	return cloneAll(applyPagination(result, 0, limit)), nil
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(_ context.Context) (map[event.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[event.Status]int64, len(event.Statuses))
	for _, r := range s.records {
		counts[r.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// optout.Store
// ──────────────────────────────────────────────────

// SetOptOut creates or replaces the entry for e.Phone.
func (s *Store) SetOptOut(_ context.Context, e *optout.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return outbox.ErrStoreClosed
	}
	cp := *e
	if prev, ok := s.optOuts[e.Phone]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	s.optOuts[e.Phone] = &cp
	return nil
}

// GetOptOut returns the entry for an E.164 number.
func (s *Store) GetOptOut(_ context.Context, phone string) (*optout.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.optOuts[phone]
	if !ok {
		return nil, optout.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func recordKey(a event.Action, key string) string {
	return a.String() + "\x00" + key
}

func matchRecordOpts(r *event.Record, opts event.ListOpts) bool {
	if opts.Status != "" && r.Status != opts.Status {
		return false
	}
	if opts.Action.Valid() && r.Action != opts.Action {
		return false
	}
	if opts.From != nil && r.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && r.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func cloneAll(rs []*event.Record) []*event.Record {
	out := make([]*event.Record, len(rs))
	for i, r := range rs {
		out[i] = r.Clone()
	}
	return out
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

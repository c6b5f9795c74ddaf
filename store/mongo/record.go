package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
)

// CreateRecord persists a record. The unique (action, idempotency_key)
// index turns a second insert into event.ErrDuplicate.
func (s *Store) CreateRecord(ctx context.Context, r *event.Record) error {
	m := toRecordModel(r)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return event.ErrDuplicate
		}

		return fmt.Errorf("outbox/mongo: create record: %w", err)
	}

	return nil
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*event.Record, error) {
	return s.findOne(ctx, bson.M{"_id": recID.String()})
}

// GetRecordByKey returns the record for an action and idempotency key.
func (s *Store) GetRecordByKey(ctx context.Context, a event.Action, key string) (*event.Record, error) {
	return s.findOne(ctx, bson.M{"action": a.String(), "idempotency_key": key})
}

// TransitionRecord updates the record only while it is still in status from.
func (s *Store) TransitionRecord(ctx context.Context, r *event.Record, from event.Status) error {
	res, err := s.mdb.NewUpdate((*recordModel)(nil)).
		Filter(bson.M{"_id": r.ID.String(), "status": string(from)}).
		Set("status", string(r.Status)).
		Set("attempt_count", r.AttemptCount).
		Set("last_error", r.LastError).
		Set("next_attempt_at", r.NextAttemptAt).
		Set("external_id", r.ExternalID).
		Set("completed_at", r.CompletedAt).
		Set("updated_at", r.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/mongo: transition record: %w", err)
	}

	if res.MatchedCount() == 0 {
		if _, err := s.GetRecord(ctx, r.ID); err != nil {
			return err
		}

		return event.ErrConflict
	}

	return nil
}

// ListRecords returns records, newest first.
func (s *Store) ListRecords(ctx context.Context, opts event.ListOpts) ([]*event.Record, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	if opts.Action.Valid() {
		filter["action"] = opts.Action.String()
	}

	if opts.From != nil || opts.To != nil {
		dateFilter := bson.M{}
		if opts.From != nil {
			dateFilter["$gte"] = *opts.From
		}

		if opts.To != nil {
			dateFilter["$lte"] = *opts.To
		}

		filter["created_at"] = dateFilter
	}

	var models []recordModel

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outbox/mongo: list records: %w", err)
	}

	return fromRecordModels(models)
}

// ListDue returns retryable records that are due, most urgent first.
func (s *Store) ListDue(ctx context.Context, t time.Time, limit int) ([]*event.Record, error) {
	var models []recordModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":          string(event.StatusFailedRetryable),
			"next_attempt_at": bson.M{"$lte": t},
		}).
		Sort(bson.D{{Key: "priority_rank", Value: 1}, {Key: "next_attempt_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outbox/mongo: list due: %w", err)
	}

	return fromRecordModels(models)
}

// ListStale returns records in status last updated before the given time.
func (s *Store) ListStale(ctx context.Context, status event.Status, before time.Time, limit int) ([]*event.Record, error) {
	var models []recordModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(status),
			"updated_at": bson.M{"$lt": before},
		}).
		Sort(bson.D{{Key: "updated_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outbox/mongo: list stale: %w", err)
	}

	return fromRecordModels(models)
}

// CountByStatus returns the number of records per status.
func (s *Store) CountByStatus(ctx context.Context) (map[event.Status]int64, error) {
	counts := make(map[event.Status]int64, len(event.Statuses))

	for _, st := range event.Statuses {
		n, err := s.mdb.NewFind((*recordModel)(nil)).
			Filter(bson.M{"status": string(st)}).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("outbox/mongo: count %s: %w", st, err)
		}

		counts[st] = n
	}

	return counts, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*event.Record, error) {
	var m recordModel

	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, event.ErrNotFound
		}

		return nil, fmt.Errorf("outbox/mongo: get record: %w", err)
	}

	return fromRecordModel(&m)
}

func fromRecordModels(models []recordModel) ([]*event.Record, error) {
	result := make([]*event.Record, 0, len(models))

	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, r)
	}

	return result, nil
}

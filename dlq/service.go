package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/observability"
)

// ErrNotDeadLettered is returned when an operation expects a failed_dead
// record.
var ErrNotDeadLettered = errors.New("outbox: record is not dead-lettered")

// ReplayKey is the idempotency key of the record replaying a dead record.
// Replaying the same entry twice yields the same replay record.
func ReplayKey(deadID string) string {
	return "replay:" + deadID
}

// Service manages the dead letter queue.
type Service struct {
	store   event.Store
	queue   dispatch.Enqueuer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService creates a DLQ service. Replays are handed to queue.
func NewService(store event.Store, queue dispatch.Enqueuer, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
	}
}

// List returns DLQ entries, most recent first.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	recs, err := svc.store.ListRecords(ctx, event.ListOpts{
		Offset: opts.Offset,
		Limit:  opts.Limit,
		Status: event.StatusFailedDead,
		Action: opts.Action,
		From:   opts.From,
		To:     opts.To,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, svc.entry(ctx, r))
	}
	return out, nil
}

// Get returns the entry for a dead record.
func (svc *Service) Get(ctx context.Context, recID id.ID) (*Entry, error) {
	r, err := svc.dead(ctx, recID)
	if err != nil {
		return nil, err
	}
	return svc.entry(ctx, r), nil
}

// Count returns the number of dead records.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	counts, err := svc.store.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return counts[event.StatusFailedDead], nil
}

// Replay queues a fresh record with the dead record's action, priority,
// payload and metadata. The dead record itself is left untouched.
func (svc *Service) Replay(ctx context.Context, recID id.ID) (*event.Record, error) {
	r, err := svc.dead(ctx, recID)
	if err != nil {
		return nil, err
	}
	return svc.replay(ctx, r)
}

// ReplayBulk replays every dead record that failed within [from, to] and has
// not been replayed yet. It returns the number of replays created.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	const page = 100
	var (
		count  int64
		offset int
	)
	for {
		recs, err := svc.store.ListRecords(ctx, event.ListOpts{
			Offset: offset,
			Limit:  page,
			Status: event.StatusFailedDead,
		})
		if err != nil {
			return count, err
		}
		for _, r := range recs {
			e := FromRecord(r)
			if e.FailedAt.Before(from) || e.FailedAt.After(to) {
				continue
			}
			if svc.replayOf(ctx, r) != "" {
				continue
			}
			if _, err := svc.replay(ctx, r); err != nil {
				return count, err
			}
			count++
		}
		if len(recs) < page {
			return count, nil
		}
		offset += page
	}
}

func (svc *Service) replay(ctx context.Context, r *event.Record) (*event.Record, error) {
	rec, created, err := svc.queue.Enqueue(ctx, event.Draft{
		Action:         r.Action,
		Priority:       r.Priority,
		Payload:        r.Payload,
		IdempotencyKey: ReplayKey(r.ID.String()),
		Metadata:       r.Metadata,
		ReplayOf:       r.ID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("dlq: replay %s: %w", r.ID, err)
	}
	if created {
		svc.metrics.RecordReplay()
		svc.logger.InfoContext(ctx, "dead letter replayed",
			"event_id", r.ID.String(), "replay_id", rec.ID.String(), "action", r.Action.String())
	}
	return rec, nil
}

func (svc *Service) dead(ctx context.Context, recID id.ID) (*event.Record, error) {
	r, err := svc.store.GetRecord(ctx, recID)
	if err != nil {
		return nil, err
	}
	if r.Status != event.StatusFailedDead {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDeadLettered, recID, r.Status)
	}
	return r, nil
}

func (svc *Service) entry(ctx context.Context, r *event.Record) *Entry {
	e := FromRecord(r)
	e.ReplayID = svc.replayOf(ctx, r)
	return e
}

// replayOf returns the ID of the record replaying r, or "".
func (svc *Service) replayOf(ctx context.Context, r *event.Record) string {
	rep, err := svc.store.GetRecordByKey(ctx, r.Action, ReplayKey(r.ID.String()))
	if err != nil {
		return ""
	}
	return rep.ID.String()
}

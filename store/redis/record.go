package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/internal/entity"
)

// recordModel is the JSON representation stored in Redis.
type recordModel struct {
	ID             string            `json:"id"`
	Action         string            `json:"action"`
	Priority       string            `json:"priority"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Status         string            `json:"status"`
	AttemptCount   int               `json:"attempt_count"`
	MaxAttempts    int               `json:"max_attempts"`
	LastError      string            `json:"last_error"`
	NextAttemptAt  time.Time         `json:"next_attempt_at"`
	IdempotencyKey string            `json:"idempotency_key"`
	ExternalID     string            `json:"external_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ReplayOf       string            `json:"replay_of,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toRecordModel(r *event.Record) *recordModel {
	return &recordModel{
		ID:             r.ID.String(),
		Action:         r.Action.String(),
		Priority:       string(r.Priority),
		Payload:        r.Payload,
		Status:         string(r.Status),
		AttemptCount:   r.AttemptCount,
		MaxAttempts:    r.MaxAttempts,
		LastError:      r.LastError,
		NextAttemptAt:  r.NextAttemptAt,
		IdempotencyKey: r.IdempotencyKey,
		ExternalID:     r.ExternalID,
		Metadata:       r.Metadata,
		ReplayOf:       r.ReplayOf,
		CompletedAt:    r.CompletedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) (*event.Record, error) {
	recID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}
	action, err := event.ParseAction(m.Action)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", m.ID, err)
	}
	return &event.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             recID,
		Action:         action,
		Priority:       event.Priority(m.Priority),
		Payload:        m.Payload,
		Status:         event.Status(m.Status),
		AttemptCount:   m.AttemptCount,
		MaxAttempts:    m.MaxAttempts,
		LastError:      m.LastError,
		NextAttemptAt:  m.NextAttemptAt,
		IdempotencyKey: m.IdempotencyKey,
		ExternalID:     m.ExternalID,
		Metadata:       m.Metadata,
		ReplayOf:       m.ReplayOf,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// transitionScript swaps a record document only while its stored status
// still matches, and moves the record between index sets in the same step.
// KEYS[1] = record key
// KEYS[2] = status set of the prior status
// KEYS[3] = status set of the new status
// KEYS[4] = due set for the record's priority
// ARGV[1] = expected status
// ARGV[2] = new record JSON
// ARGV[3] = record ID
// ARGV[4] = updated_at score
// ARGV[5] = next_attempt_at score, or "" when the record is not due
// Returns 1 on success, 0 on status mismatch, -1 when the record is missing.
var transitionScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local cur = cjson.decode(raw)
if cur['status'] ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[3])
if ARGV[5] == '' then
    redis.call('ZREM', KEYS[4], ARGV[3])
else
    redis.call('ZADD', KEYS[4], ARGV[5], ARGV[3])
end
return 1
`)

// createScript claims the idempotency key, writes the record and indexes it
// in one step, so a failed create leaves nothing behind.
// KEYS[1] = idempotency key
// KEYS[2] = record key
// KEYS[3] = all-records set
// KEYS[4] = status set
// KEYS[5] = due set for the record's priority
// ARGV[1] = record ID
// ARGV[2] = record JSON
// ARGV[3] = created_at score
// ARGV[4] = updated_at score
// ARGV[5] = next_attempt_at score, or "" when the record is not due
// Returns 1 on success, 0 when the idempotency key is taken.
var createScript = goredis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') == false then return 0 end
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
if ARGV[5] ~= '' then
    redis.call('ZADD', KEYS[5], ARGV[5], ARGV[1])
end
return 1
`)

func (s *Store) CreateRecord(ctx context.Context, r *event.Record) error {
	m := toRecordModel(r)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("outbox/redis: marshal record: %w", err)
	}

	keys, args := createArgs(m, raw)
	res, err := createScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("outbox/redis: create record: %w", err)
	}
	if res == 0 {
		return event.ErrDuplicate
	}
	return nil
}

// createArgs builds the keys and arguments of createScript.
func createArgs(m *recordModel, raw []byte) ([]string, []any) {
	due := ""
	if m.Status == string(event.StatusFailedRetryable) {
		due = formatScore(scoreFromTime(m.NextAttemptAt))
	}
	keys := []string{
		idempotencyKey(m.Action, m.IdempotencyKey),
		entityKey(prefixRecord, m.ID),
		zRecordAll,
		statusKey(m.Status),
		dueKey(event.Priority(m.Priority).Rank()),
	}
	args := []any{
		m.ID,
		string(raw),
		formatScore(scoreFromTime(m.CreatedAt)),
		formatScore(scoreFromTime(m.UpdatedAt)),
		due,
	}
	return keys, args
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*event.Record, error) {
	return s.getRecord(ctx, recID.String())
}

func (s *Store) GetRecordByKey(ctx context.Context, a event.Action, key string) (*event.Record, error) {
	recID, err := s.rdb.Get(ctx, idempotencyKey(a.String(), key)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("outbox/redis: get record by key: %w", err)
	}
	return s.getRecord(ctx, recID)
}

func (s *Store) TransitionRecord(ctx context.Context, r *event.Record, from event.Status) error {
	m := toRecordModel(r)
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("outbox/redis: marshal record: %w", err)
	}

	due := ""
	if r.Status == event.StatusFailedRetryable {
		due = fmt.Sprintf("%f", scoreFromTime(m.NextAttemptAt))
	}

	keys := []string{
		entityKey(prefixRecord, m.ID),
		statusKey(string(from)),
		statusKey(m.Status),
		dueKey(r.Priority.Rank()),
	}
	res, err := transitionScript.Run(ctx, s.rdb, keys,
		string(from), raw, m.ID, fmt.Sprintf("%f", scoreFromTime(m.UpdatedAt)), due,
	).Int()
	if err != nil {
		return fmt.Errorf("outbox/redis: transition record: %w", err)
	}

	switch res {
	case 1:
		return nil
	case 0:
		return event.ErrConflict
	default:
		return event.ErrNotFound
	}
}

func (s *Store) ListRecords(ctx context.Context, opts event.ListOpts) ([]*event.Record, error) {
	lo, hi := math.Inf(-1), math.Inf(1)
	if opts.From != nil {
		lo = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		hi = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zRecordAll, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("outbox/redis: list records: %w", err)
	}

	result := make([]*event.Record, 0, len(ids))
	// Newest first.
	for i := len(ids) - 1; i >= 0; i-- {
		r, err := s.getRecord(ctx, ids[i])
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.Action.Valid() && r.Action != opts.Action {
			continue
		}
		result = append(result, r)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListDue(ctx context.Context, t time.Time, limit int) ([]*event.Record, error) {
	var result []*event.Record
	for _, p := range event.Priorities {
		ids, err := s.zRangeByScoreIDs(ctx, dueKey(p.Rank()), math.Inf(-1), scoreFromTime(t))
		if err != nil {
			return nil, fmt.Errorf("outbox/redis: list due: %w", err)
		}
		for _, recID := range ids {
			r, err := s.getRecord(ctx, recID)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return nil, err
			}
			if r.Status != event.StatusFailedRetryable {
				continue
			}
			result = append(result, r)
			if limit > 0 && len(result) == limit {
				return result, nil
			}
		}
	}
	return result, nil
}

func (s *Store) ListStale(ctx context.Context, status event.Status, before time.Time, limit int) ([]*event.Record, error) {
	ids, err := s.zRangeByScoreIDs(ctx, statusKey(string(status)), math.Inf(-1), scoreFromTime(before))
	if err != nil {
		return nil, fmt.Errorf("outbox/redis: list stale: %w", err)
	}

	var result []*event.Record
	for _, recID := range ids {
		r, err := s.getRecord(ctx, recID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if r.Status != status || !r.UpdatedAt.Before(before) {
			continue
		}
		result = append(result, r)
	}
	slices.SortStableFunc(result, func(a, b *event.Record) int {
		return cmp.Compare(a.UpdatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[event.Status]int64, error) {
	pipe := s.rdb.Pipeline()
	cmds := make(map[event.Status]*goredis.IntCmd, len(event.Statuses))
	for _, st := range event.Statuses {
		cmds[st] = pipe.ZCard(ctx, statusKey(string(st)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("outbox/redis: count by status: %w", err)
	}

	counts := make(map[event.Status]int64, len(cmds))
	for st, cmd := range cmds {
		counts[st] = cmd.Val()
	}
	return counts, nil
}

func (s *Store) getRecord(ctx context.Context, recID string) (*event.Record, error) {
	var m recordModel
	if err := s.getEntity(ctx, entityKey(prefixRecord, recID), &m); err != nil {
		if isNotFound(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("outbox/redis: get record: %w", err)
	}
	return fromRecordModel(&m)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/optout"
	outboxstore "github.com/graniteshield/outbox/store"
)

// compile-time interface check
var _ outboxstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("outbox/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("outbox/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Record Store ====================

func (s *Store) CreateRecord(ctx context.Context, r *event.Record) error {
	m := toRecordModel(r)
	res, err := s.pg.NewInsert(m).
		OnConflict("(action, idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return event.ErrDuplicate
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*event.Record, error) {
	m := new(recordModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

func (s *Store) GetRecordByKey(ctx context.Context, a event.Action, key string) (*event.Record, error) {
	m := new(recordModel)
	err := s.pg.NewSelect(m).
		Where("action = $1", a.String()).
		Where("idempotency_key = $2", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, err
	}
	return fromRecordModel(m)
}

// TransitionRecord is a single conditional UPDATE keyed by id and prior
// status, so concurrent claimers cannot both win.
func (s *Store) TransitionRecord(ctx context.Context, r *event.Record, from event.Status) error {
	res, err := s.pg.NewUpdate((*recordModel)(nil)).
		Set("status = $1", string(r.Status)).
		Set("attempt_count = $2", r.AttemptCount).
		Set("last_error = $3", r.LastError).
		Set("next_attempt_at = $4", r.NextAttemptAt).
		Set("external_id = $5", r.ExternalID).
		Set("completed_at = $6", r.CompletedAt).
		Set("updated_at = $7", r.UpdatedAt).
		Where("id = $8", r.ID.String()).
		Where("status = $9", string(from)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missOrConflict(ctx, r.ID)
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, opts event.ListOpts) ([]*event.Record, error) {
	var models []recordModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Action.Valid() {
		argIdx++
		q = q.Where(fmt.Sprintf("action = $%d", argIdx), opts.Action.String())
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRecordModels(models)
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*event.Record, error) {
	var models []recordModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(event.StatusFailedRetryable)).
		Where("next_attempt_at <= $2", now).
		OrderExpr("priority_rank ASC, next_attempt_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRecordModels(models)
}

func (s *Store) ListStale(ctx context.Context, status event.Status, before time.Time, limit int) ([]*event.Record, error) {
	var models []recordModel
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(status)).
		Where("updated_at < $2", before).
		OrderExpr("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromRecordModels(models)
}

func (s *Store) CountByStatus(ctx context.Context) (map[event.Status]int64, error) {
	counts := make(map[event.Status]int64, len(event.Statuses))
	for _, st := range event.Statuses {
		n, err := s.pg.NewSelect((*recordModel)(nil)).
			Where("status = $1", string(st)).
			Count(ctx)
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, nil
}

// ==================== Opt-out Store ====================

func (s *Store) SetOptOut(ctx context.Context, e *optout.Entry) error {
	m := toOptOutModel(e)
	_, err := s.pg.NewInsert(m).
		OnConflict("(phone) DO UPDATE").
		Set("opted_out = EXCLUDED.opted_out").
		Set("keyword = EXCLUDED.keyword").
		Set("message_id = EXCLUDED.message_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetOptOut(ctx context.Context, phone string) (*optout.Entry, error) {
	m := new(optOutModel)
	err := s.pg.NewSelect(m).
		Where("phone = $1", phone).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, optout.ErrNotFound
		}
		return nil, err
	}
	return fromOptOutModel(m), nil
}

// ==================== Helpers ====================

// missOrConflict explains a conditional update that matched no row.
func (s *Store) missOrConflict(ctx context.Context, recID id.ID) error {
	if _, err := s.GetRecord(ctx, recID); err != nil {
		return err
	}
	return event.ErrConflict
}

func fromRecordModels(models []recordModel) ([]*event.Record, error) {
	result := make([]*event.Record, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

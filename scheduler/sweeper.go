// Package scheduler runs the periodic retry sweep: it re-dispatches
// failed_retryable records whose backoff has elapsed and reclaims in_flight
// records abandoned by a crashed process.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/observability"
)

// ReasonAbandoned is the last error recorded on a reclaimed record.
const ReasonAbandoned = "abandoned_in_flight"

// Processor runs attempts. *dispatch.Dispatcher implements it.
type Processor interface {
	Process(ctx context.Context, rec *event.Record) (*event.Record, error)
	Reclaim(ctx context.Context, rec *event.Record, reason string) (*event.Record, error)
}

// Config holds sweep settings.
type Config struct {
	// Interval is the period between sweeps when started. Defaults to 1m.
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// BatchSize limits due records taken per sweep. Defaults to 100.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Concurrency bounds simultaneous attempts within a sweep. Defaults to 4.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// StaleAfter is how long a record may stay in_flight before it is
	// reclaimed. It must exceed the longest handler timeout. Defaults to 5m.
	StaleAfter time.Duration `json:"stale_after" yaml:"stale_after" mapstructure:"stale_after"`

	// LockKey names the distributed lock. Defaults to "outbox:sweep".
	LockKey string `json:"lock_key" yaml:"lock_key" mapstructure:"lock_key"`

	// LockTTL bounds how long one sweep holds the lock. Defaults to Interval.
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

// DefaultConfig returns the default sweep settings.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		BatchSize:   100,
		Concurrency: 4,
		StaleAfter:  5 * time.Minute,
		LockKey:     "outbox:sweep",
	}
}

// Report summarizes one sweep.
type Report struct {
	Due       int           `json:"due"`
	Succeeded int           `json:"succeeded"`
	Retrying  int           `json:"retrying"`
	Dead      int           `json:"dead"`
	Conflicts int           `json:"conflicts"`
	Errors    int           `json:"errors"`
	Reclaimed int           `json:"reclaimed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Processed returns the number of attempts that reached an outcome.
func (r Report) Processed() int {
	return r.Succeeded + r.Retrying + r.Dead
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLocker makes sweeps exclusive across processes.
func WithLocker(l Locker) Option { return func(s *Sweeper) { s.locker = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Sweeper) { s.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option { return func(s *Sweeper) { s.tracer = t } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// Sweeper re-dispatches due records.
type Sweeper struct {
	store     event.Store
	processor Processor
	config    Config
	locker    Locker

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper.
func New(store event.Store, p Processor, cfg Config, opts ...Option) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.LockKey == "" {
		cfg.LockKey = def.LockKey
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	s := &Sweeper{
		store:     store,
		processor: p,
		config:    cfg,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs one pass. A sweep that finds the lock held elsewhere returns a
// report with Skipped set and no error. Individual record failures are
// counted in the report, not returned.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	start := s.now()
	var rep Report

	if s.locker != nil {
		release, err := s.locker.TryLock(ctx, s.config.LockKey, s.config.LockTTL)
		if errors.Is(err, ErrLocked) {
			rep.Skipped = true
			s.metrics.RecordSweep("skipped")
			s.logger.DebugContext(ctx, "sweep skipped, lock held elsewhere")
			return rep, nil
		}
		if err != nil {
			s.metrics.RecordSweep("error")
			return rep, fmt.Errorf("obtain sweep lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "release sweep lock failed", "error", err)
			}
		}()
	}

	ctx, end := s.startSpan(ctx)
	defer func() { end(rep) }()

	reclaimed, err := s.reclaim(ctx, start)
	rep.Reclaimed = reclaimed
	if err != nil {
		s.metrics.RecordSweep("error")
		return rep, err
	}

	due, err := s.store.ListDue(ctx, start, s.config.BatchSize)
	if err != nil {
		s.metrics.RecordSweep("error")
		return rep, fmt.Errorf("list due records: %w", err)
	}
	rep.Due = len(due)

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(s.config.Concurrency)
	for _, rec := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := s.processor.Process(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, event.ErrConflict), errors.Is(err, dispatch.ErrNotDispatchable):
				rep.Conflicts++
			case err != nil:
				rep.Errors++
				s.logger.ErrorContext(ctx, "sweep attempt failed", "event_id", rec.ID.String(), "error", err)
			default:
				switch out.Status {
				case event.StatusSucceeded:
					rep.Succeeded++
				case event.StatusFailedRetryable:
					rep.Retrying++
				case event.StatusFailedDead:
					rep.Dead++
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = s.now().Sub(start)
	s.metrics.RecordSweep("ok")
	if rep.Due > 0 || rep.Reclaimed > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			"due", rep.Due,
			"succeeded", rep.Succeeded,
			"retrying", rep.Retrying,
			"dead", rep.Dead,
			"conflicts", rep.Conflicts,
			"reclaimed", rep.Reclaimed,
			"duration_ms", rep.Duration.Milliseconds(),
		)
	}
	return rep, nil
}

// reclaim settles in_flight records whose attempt outlived StaleAfter.
func (s *Sweeper) reclaim(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListStale(ctx, event.StatusInFlight, now.Add(-s.config.StaleAfter), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale records: %w", err)
	}
	n := 0
	for _, rec := range stale {
		if _, err := s.processor.Reclaim(ctx, rec, ReasonAbandoned); err != nil {
			if !errors.Is(err, event.ErrConflict) {
				s.logger.ErrorContext(ctx, "reclaim failed", "event_id", rec.ID.String(), "error", err)
			}
			continue
		}
		s.logger.WarnContext(ctx, "reclaimed abandoned record",
			"event_id", rec.ID.String(), "action", rec.Action.String(), "attempt", rec.AttemptCount)
		n++
	}
	return n, nil
}

func (s *Sweeper) startSpan(ctx context.Context) (context.Context, func(Report)) {
	if s.tracer == nil {
		return ctx, func(Report) {}
	}
	ctx, span := s.tracer.StartSweepSpan(ctx)
	return ctx, func(r Report) {
		span.SetAttributes(
			attribute.Int("outbox.sweep.due", r.Due),
			attribute.Int("outbox.sweep.processed", r.Processed()),
			attribute.Int("outbox.sweep.reclaimed", r.Reclaimed),
		)
		span.End()
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start runs a sweep every Interval until Stop or ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop stops the periodic sweep and waits for a running one to finish, or
// for ctx to end.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/observability"
)

// EngineConfig holds worker pool configuration.
type EngineConfig struct {
	// Concurrency is the number of workers.
	Concurrency int

	// QueueSize bounds each priority queue. A push to a full queue is
	// dropped; the poll loop recovers the record from the store.
	QueueSize int

	// PollInterval is how often the poll loop looks for stranded records.
	PollInterval time.Duration

	// RecoverAfter is how long a pending record may sit before the poll
	// loop re-queues it.
	RecoverAfter time.Duration

	// BatchSize limits records recovered per poll.
	BatchSize int

	Metrics *observability.Metrics
}

// Engine is the worker pool that processes queued records. Workers always
// take from the most urgent non-empty queue.
type Engine struct {
	dispatcher *Dispatcher
	store      event.Store
	config     EngineConfig
	logger     *slog.Logger

	queues [4]chan *event.Record

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Enqueuer = (*Engine)(nil)

// NewEngine creates a worker pool around a dispatcher.
func NewEngine(d *Dispatcher, store event.Store, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RecoverAfter <= 0 {
		cfg.RecoverAfter = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	e := &Engine{
		dispatcher: d,
		store:      store,
		config:     cfg,
		logger:     logger,
	}
	for i := range e.queues {
		e.queues[i] = make(chan *event.Record, cfg.QueueSize)
	}
	return e
}

// Enqueue persists a draft and queues the new record. Duplicates are
// returned with created = false and are not queued.
func (e *Engine) Enqueue(ctx context.Context, draft event.Draft) (*event.Record, bool, error) {
	rec, created, err := e.dispatcher.Create(ctx, draft)
	if err != nil || !created {
		return rec, created, err
	}
	e.Push(rec)
	return rec, true, nil
}

// Push queues an existing record. It reports false when the record's queue
// is full.
func (e *Engine) Push(rec *event.Record) bool {
	rank := rec.Priority.Rank()
	if rank >= len(e.queues) {
		rank = len(e.queues) - 1
	}
	select {
	case e.queues[rank] <- rec:
		e.config.Metrics.Enqueued()
		return true
	default:
		e.logger.Warn("queue full, record left for recovery",
			"event_id", rec.ID.String(), "priority", string(rec.Priority))
		return false
	}
}

// Depth returns the number of queued records per priority.
func (e *Engine) Depth() map[event.Priority]int {
	out := make(map[event.Priority]int, len(event.Priorities))
	for i, p := range event.Priorities {
		out[p] = len(e.queues[i])
	}
	return out
}

// Start launches the workers and the poll loop.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)

	for range e.config.Concurrency {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.worker(ctx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop stops taking new work and waits for in-flight attempts to settle, or
// for ctx to end.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		rec, ok := e.next(ctx)
		if !ok {
			return
		}
		e.config.Metrics.Dequeued()
		// Attempts run to completion after Stop; the tier timeout bounds them.
		e.process(context.WithoutCancel(ctx), rec)
	}
}

// next blocks until a record is available, preferring higher priorities.
func (e *Engine) next(ctx context.Context) (*event.Record, bool) {
	p0, p1, p2, p3 := e.queues[0], e.queues[1], e.queues[2], e.queues[3]

	select {
	case r := <-p0:
		return r, true
	default:
	}
	select {
	case r := <-p0:
		return r, true
	case r := <-p1:
		return r, true
	default:
	}
	select {
	case r := <-p0:
		return r, true
	case r := <-p1:
		return r, true
	case r := <-p2:
		return r, true
	default:
	}
	select {
	case r := <-p0:
		return r, true
	case r := <-p1:
		return r, true
	case r := <-p2:
		return r, true
	case r := <-p3:
		return r, true
	case <-ctx.Done():
		return nil, false
	}
}

func (e *Engine) process(ctx context.Context, rec *event.Record) {
	out, err := e.dispatcher.Process(ctx, rec)
	switch {
	case err == nil:
		e.logger.DebugContext(ctx, "processed",
			"event_id", out.ID.String(), "status", string(out.Status))
	case errors.Is(err, event.ErrConflict), errors.Is(err, ErrNotDispatchable):
		// Already claimed by another worker or process.
		e.logger.DebugContext(ctx, "skipped", "event_id", rec.ID.String(), "error", err)
	default:
		e.logger.ErrorContext(ctx, "process failed", "event_id", rec.ID.String(), "error", err)
	}
}

// pollLoop periodically re-queues pending records that were never picked
// up: pushes dropped by a full queue, and records queued by a process that
// exited before working them.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Recover(ctx)
		}
	}
}

// Recover queues stranded pending records once and returns how many were
// queued.
func (e *Engine) Recover(ctx context.Context) int {
	before := time.Now().UTC().Add(-e.config.RecoverAfter)
	batch, err := e.store.ListStale(ctx, event.StatusPending, before, e.config.BatchSize)
	if err != nil {
		e.logger.ErrorContext(ctx, "list stranded records failed", "error", err)
		return 0
	}
	n := 0
	for _, rec := range batch {
		if e.Push(rec) {
			n++
		}
	}
	if n > 0 {
		e.logger.InfoContext(ctx, "recovered stranded records", "count", n)
	}
	return n
}

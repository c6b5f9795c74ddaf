// Package dispatch runs outbox records through their action handlers.
//
// The Dispatcher owns the record state machine: every status change is a
// conditional update keyed by the record's prior status, so two processes
// racing on the same record cannot both run its handler. The Engine adds an
// in-process priority queue and worker pool on top of the Dispatcher.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/observability"
	"github.com/graniteshield/outbox/scope"
)

// ErrNotDispatchable is returned by Process for a record that may not start
// a new attempt.
var ErrNotDispatchable = errors.New("outbox: record is not dispatchable")

// AlertTemplate is the notification template used for dead-letter alerts.
const AlertTemplate = "dead_letter_alert"

// Validator checks a payload against its action's schema.
type Validator interface {
	Validate(a event.Action, payload []byte) error
}

// Enqueuer accepts drafts for asynchronous dispatch.
type Enqueuer interface {
	Enqueue(ctx context.Context, d event.Draft) (*event.Record, bool, error)
}

// DefaultTimeouts returns the per-tier handler timeouts. Each fits inside the
// tier's SLA.
func DefaultTimeouts() map[event.Priority]time.Duration {
	return map[event.Priority]time.Duration{
		event.P0: 1500 * time.Millisecond,
		event.P1: 10 * time.Second,
		event.P2: 30 * time.Second,
		event.P3: 60 * time.Second,
	}
}

// Config holds dispatcher settings.
type Config struct {
	BaseDelay time.Duration
	Jitter    float64
	MaxDelay  time.Duration

	// Timeouts bounds each handler call by priority. Missing tiers use
	// DefaultTimeouts.
	Timeouts map[event.Priority]time.Duration

	// AlertPriority is the priority of dead-letter alerts. Defaults to P1.
	AlertPriority event.Priority
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithValidator sets the payload schema validator.
func WithValidator(v Validator) Option { return func(d *Dispatcher) { d.validator = v } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher creates records and runs dispatch attempts.
type Dispatcher struct {
	store     event.Store
	registry  *handler.Registry
	retrier   *Retrier
	validator Validator
	timeouts  map[event.Priority]time.Duration
	alertPrio event.Priority
	alerts    Enqueuer

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time
}

// New creates a dispatcher over store and registry.
func New(store event.Store, registry *handler.Registry, cfg Config, opts ...Option) *Dispatcher {
	timeouts := DefaultTimeouts()
	for p, t := range cfg.Timeouts {
		if t > 0 {
			timeouts[p] = t
		}
	}
	alertPrio := cfg.AlertPriority
	if !alertPrio.Valid() {
		alertPrio = event.P1
	}

	d := &Dispatcher{
		store:     store,
		registry:  registry,
		retrier:   NewRetrier(cfg.BaseDelay, cfg.Jitter, cfg.MaxDelay),
		timeouts:  timeouts,
		alertPrio: alertPrio,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetAlertQueue routes dead-letter alerts through q instead of dispatching
// them inline. Pass nil to dispatch inline again.
func (d *Dispatcher) SetAlertQueue(q Enqueuer) {
	d.alerts = q
}

// Retrier returns the dispatcher's backoff policy.
func (d *Dispatcher) Retrier() *Retrier {
	return d.retrier
}

// ──────────────────────────────────────────────────
// Creation
// ──────────────────────────────────────────────────

// Create validates a draft and persists it as a pending record. When a
// record with the same action and idempotency key exists, it is returned
// unchanged with created = false.
func (d *Dispatcher) Create(ctx context.Context, draft event.Draft) (*event.Record, bool, error) {
	if err := draft.Validate(); err != nil {
		return nil, false, err
	}
	draft.Metadata = scope.Stamp(ctx, draft.Metadata)
	rec := event.NewRecord(draft)

	existing, err := d.store.GetRecordByKey(ctx, rec.Action, rec.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, event.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if err := d.store.CreateRecord(ctx, rec); err != nil {
		if errors.Is(err, event.ErrDuplicate) {
			existing, gerr := d.store.GetRecordByKey(ctx, rec.Action, rec.IdempotencyKey)
			if gerr != nil {
				return nil, false, fmt.Errorf("lookup idempotency key: %w", gerr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create record: %w", err)
	}

	d.metrics.RecordSubmitted(rec.Action.String(), string(rec.Priority))
	d.logger.DebugContext(ctx, "record created",
		"event_id", rec.ID.String(), "action", rec.Action.String(), "priority", string(rec.Priority))
	return rec, true, nil
}

// Submit creates a record and runs its first attempt inline, returning the
// record's state after that attempt. A duplicate submission returns the
// existing record without invoking any handler, whatever its status: a
// source retry of a dead-lettered event is swallowed and must go through
// dlq.Service.Replay instead. Handler failures are reported through the
// record's status, never as an error.
func (d *Dispatcher) Submit(ctx context.Context, draft event.Draft) (*event.Record, error) {
	rec, created, err := d.Create(ctx, draft)
	if err != nil || !created {
		return rec, err
	}

	out, err := d.Process(ctx, rec)
	if errors.Is(err, event.ErrConflict) {
		return d.store.GetRecord(ctx, rec.ID)
	}
	return out, err
}

// BatchResult is the outcome of one draft in SubmitBatch.
type BatchResult struct {
	Record *event.Record
	Err    error
}

// SubmitBatch submits drafts and returns one result per draft, in input
// order. P0 drafts run concurrently, and a failing P0 draft never affects
// its siblings; the remaining drafts follow sequentially, most urgent first.
func (d *Dispatcher) SubmitBatch(ctx context.Context, drafts []event.Draft) []BatchResult {
	results := make([]BatchResult, len(drafts))

	var urgent, rest []int
	for i, dr := range drafts {
		if dr.Priority == event.P0 {
			urgent = append(urgent, i)
		} else {
			rest = append(rest, i)
		}
	}

	var g errgroup.Group
	for _, i := range urgent {
		g.Go(func() error {
			rec, err := d.Submit(ctx, drafts[i])
			results[i] = BatchResult{Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(rest, func(a, b int) bool {
		return drafts[rest[a]].Priority.Rank() < drafts[rest[b]].Priority.Rank()
	})
	for _, i := range rest {
		rec, err := d.Submit(ctx, drafts[i])
		results[i] = BatchResult{Record: rec, Err: err}
	}
	return results
}

// ──────────────────────────────────────────────────
// Attempts
// ──────────────────────────────────────────────────

// Process runs one attempt on a pending or failed_retryable record. It
// returns event.ErrConflict when another actor claimed the record first.
func (d *Dispatcher) Process(ctx context.Context, rec *event.Record) (*event.Record, error) {
	if !rec.Status.Dispatchable() || rec.Exhausted() {
		return rec, fmt.Errorf("%w: %s is %s after %d attempts",
			ErrNotDispatchable, rec.ID, rec.Status, rec.AttemptCount)
	}

	start := d.now()
	claimed := rec.Clone()
	claimed.Status = event.StatusInFlight
	claimed.AttemptCount++
	claimed.UpdatedAt = start
	if err := d.store.TransitionRecord(ctx, claimed, rec.Status); err != nil {
		return rec, fmt.Errorf("claim %s: %w", rec.ID, err)
	}

	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.StartAttemptSpan(ctx, claimed.ID.String(),
			claimed.Action.String(), string(claimed.Priority), claimed.AttemptCount)
	}

	res := d.invoke(ctx, claimed)
	out, err := d.settle(ctx, claimed, res, start)

	if span != nil {
		d.tracer.EndAttemptSpan(span, string(out.Status), int(d.now().Sub(start).Milliseconds()), out.LastError)
	}
	return out, err
}

// Reclaim settles an in_flight record whose attempt was abandoned, for
// example by a crashed process. The abandoned attempt counts as a retryable
// failure.
func (d *Dispatcher) Reclaim(ctx context.Context, rec *event.Record, reason string) (*event.Record, error) {
	if rec.Status != event.StatusInFlight {
		return rec, fmt.Errorf("%w: %s is %s", event.ErrInvalidTransition, rec.ID, rec.Status)
	}
	return d.settle(ctx, rec, handler.Retry(reason), rec.UpdatedAt)
}

// invoke resolves and runs the handler under the tier timeout. A handler
// that outlives its timeout is abandoned and reported as retryable.
func (d *Dispatcher) invoke(ctx context.Context, rec *event.Record) handler.Result {
	h, err := d.registry.Resolve(rec.Action)
	if err != nil {
		return handler.Fail(handler.ReasonNotConfigured + ": " + err.Error())
	}
	if d.validator != nil {
		if err := d.validator.Validate(rec.Action, rec.Payload); err != nil {
			return handler.Fail(handler.ReasonInvalidPayload + ": " + err.Error())
		}
	}

	hctx, cancel := context.WithTimeout(ctx, d.timeout(rec.Priority))
	defer cancel()

	done := make(chan handler.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handler.Retry(fmt.Sprintf("handler panic: %v", r))
			}
		}()
		done <- h.Handle(hctx, rec.Clone())
	}()

	select {
	case res := <-done:
		return res
	case <-hctx.Done():
		return handler.Retry(handler.ReasonTimeout)
	}
}

func (d *Dispatcher) timeout(p event.Priority) time.Duration {
	if t, ok := d.timeouts[p]; ok {
		return t
	}
	return d.timeouts[event.P3]
}

// settle persists the outcome of an attempt on an in_flight record. It uses
// a context detached from the caller's cancellation so a timed-out caller
// never leaves the record in_flight.
func (d *Dispatcher) settle(ctx context.Context, rec *event.Record, res handler.Result, start time.Time) (*event.Record, error) {
	pctx := context.WithoutCancel(ctx)
	now := d.now()

	next := rec.Clone()
	next.Status = d.retrier.Decide(res, rec)
	next.UpdatedAt = now
	switch next.Status {
	case event.StatusSucceeded:
		next.LastError = ""
		next.ExternalID = res.ExternalID
		next.CompletedAt = &now
	case event.StatusFailedRetryable:
		next.LastError = res.Reason
		next.NextAttemptAt = d.retrier.NextAttempt(now, next.AttemptCount)
	case event.StatusFailedDead:
		next.LastError = res.Reason
		next.CompletedAt = &now
	}

	if err := d.store.TransitionRecord(pctx, next, event.StatusInFlight); err != nil {
		d.logger.ErrorContext(pctx, "persist attempt outcome failed",
			"event_id", rec.ID.String(), "status", string(next.Status), "error", err)
		return rec, fmt.Errorf("settle %s: %w", rec.ID, err)
	}

	latency := now.Sub(start)
	d.metrics.RecordAttempt(next.Action.String(), string(next.Status), latency.Seconds())
	d.checkSLA(pctx, next, now)

	attrs := []any{
		"event_id", next.ID.String(),
		"action", next.Action.String(),
		"priority", string(next.Priority),
		"attempt", next.AttemptCount,
		"latency_ms", latency.Milliseconds(),
	}
	switch next.Status {
	case event.StatusSucceeded:
		d.logger.InfoContext(pctx, "record succeeded", append(attrs, "external_id", next.ExternalID)...)
	case event.StatusFailedRetryable:
		d.logger.WarnContext(pctx, "attempt failed, retry scheduled",
			append(attrs, "error", next.LastError, "next_attempt_at", next.NextAttemptAt)...)
	case event.StatusFailedDead:
		d.logger.ErrorContext(pctx, "record dead-lettered", append(attrs, "error", next.LastError)...)
		d.metrics.RecordDeadLetter()
		d.raiseAlert(pctx, next)
	}
	return next, nil
}

// checkSLA flags a record whose first attempt finished later than its tier's
// target after creation.
func (d *Dispatcher) checkSLA(ctx context.Context, rec *event.Record, now time.Time) {
	if rec.AttemptCount != 1 {
		return
	}
	elapsed := now.Sub(rec.CreatedAt)
	if elapsed <= rec.Priority.SLA() {
		return
	}
	d.metrics.RecordSLABreach(string(rec.Priority))
	d.logger.WarnContext(ctx, "sla breach",
		"event_id", rec.ID.String(), "priority", string(rec.Priority),
		"elapsed_ms", elapsed.Milliseconds(), "sla_ms", rec.Priority.SLA().Milliseconds())
}

// ──────────────────────────────────────────────────
// Dead-letter alerts
// ──────────────────────────────────────────────────

// raiseAlert creates the single internal notification for a dead record.
// The alert's idempotency key is derived from the dead record's ID, so
// a repeated call never produces a second alert. Dead notifications are not
// escalated further.
func (d *Dispatcher) raiseAlert(ctx context.Context, dead *event.Record) {
	if dead.Action == event.ActionInternalNotification {
		d.metrics.RecordAlertLost()
		d.logger.ErrorContext(ctx, "internal notification dead-lettered, not escalating",
			"event_id", dead.ID.String(), "error", dead.LastError)
		return
	}

	draft, err := AlertDraft(dead, d.alertPrio)
	if err != nil {
		d.metrics.RecordAlertLost()
		d.logger.ErrorContext(ctx, "build dead-letter alert failed",
			"event_id", dead.ID.String(), "error", err)
		return
	}

	if d.alerts != nil {
		_, _, err = d.alerts.Enqueue(ctx, draft)
	} else {
		_, err = d.Submit(ctx, draft)
	}
	if err != nil {
		d.metrics.RecordAlertLost()
		d.logger.ErrorContext(ctx, "dead-letter alert not created",
			"event_id", dead.ID.String(), "error", err)
	}
}

// AlertKey is the idempotency key of the alert raised for a dead record.
func AlertKey(deadID string) string {
	return "dead_letter:" + deadID
}

// AlertDraft builds the dead-letter alert for a record.
func AlertDraft(dead *event.Record, p event.Priority) (event.Draft, error) {
	var lead map[string]any
	_ = json.Unmarshal(dead.Payload, &lead)

	payload := map[string]any{
		"type":         AlertTemplate,
		"eventId":      dead.ID.String(),
		"failedAction": dead.Action.String(),
		"priority":     string(dead.Priority),
		"attemptCount": dead.AttemptCount,
		"lastError":    dead.LastError,
	}
	for _, k := range []string{"firstName", "lastName", "phone", "email", "address"} {
		if v, ok := lead[k].(string); ok && v != "" {
			payload[k] = v
		}
	}
	if v, ok := lead["to"].(string); ok && payload["phone"] == nil {
		payload["phone"] = v
	}
	if c := dead.Metadata[scope.KeyContactID]; c != "" {
		payload["contactId"] = c
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return event.Draft{}, err
	}
	return event.Draft{
		Action:         event.ActionInternalNotification,
		Priority:       p,
		Payload:        raw,
		IdempotencyKey: AlertKey(dead.ID.String()),
		Metadata:       dead.Metadata,
	}, nil
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/dlq"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/handler/attribution"
	"github.com/graniteshield/outbox/handler/call"
	"github.com/graniteshield/outbox/handler/notify"
	"github.com/graniteshield/outbox/handler/sms"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/optout"
	"github.com/graniteshield/outbox/ratelimit"
	"github.com/graniteshield/outbox/scheduler"
	"github.com/graniteshield/outbox/schema"
	"github.com/graniteshield/outbox/signature"
	"github.com/graniteshield/outbox/store"
)

// Compile-time check that the facade can stand in for a queue.
var _ dispatch.Enqueuer = (*Outbox)(nil)

// wireServices initializes the internal services after options have been applied.
func (o *Outbox) wireServices() error {
	if o.limiter == nil {
		o.limiter = ratelimit.New()
	}

	o.validator = schema.NewValidator()
	for a, src := range o.schemas {
		if err := o.validator.Register(a, src); err != nil {
			return fmt.Errorf("outbox: schema for %s: %w", a, err)
		}
	}

	o.optouts = optout.NewService(o.store, o.config.OptOut, o.logger)

	dopts := []dispatch.Option{
		dispatch.WithValidator(o.validator),
		dispatch.WithLogger(o.logger),
		dispatch.WithMetrics(o.metrics),
	}
	if o.tracer != nil {
		dopts = append(dopts, dispatch.WithTracer(o.tracer))
	}
	if o.now != nil {
		dopts = append(dopts, dispatch.WithClock(o.now))
	}
	o.registry = handler.NewRegistry()
	o.dispatcher = dispatch.New(o.store, o.registry, dispatch.Config{
		BaseDelay: o.config.RetryBaseDelay,
		Jitter:    o.config.RetryJitter,
		MaxDelay:  o.config.RetryMaxDelay,
		Timeouts:  o.config.Timeouts,
	}, dopts...)

	o.engine = dispatch.NewEngine(o.dispatcher, o.store, dispatch.EngineConfig{
		Concurrency:  o.config.Concurrency,
		QueueSize:    o.config.QueueSize,
		PollInterval: o.config.PollInterval,
		RecoverAfter: o.config.RecoverAfter,
		BatchSize:    o.config.BatchSize,
		Metrics:      o.metrics,
	}, o.logger)

	o.dlqSvc = dlq.NewService(o.store, o, o.logger, o.metrics)

	sopts := []scheduler.Option{
		scheduler.WithLogger(o.logger),
		scheduler.WithMetrics(o.metrics),
	}
	if o.locker != nil {
		sopts = append(sopts, scheduler.WithLocker(o.locker))
	}
	if o.tracer != nil {
		sopts = append(sopts, scheduler.WithTracer(o.tracer))
	}
	if o.now != nil {
		sopts = append(sopts, scheduler.WithClock(o.now))
	}
	o.sweeper = scheduler.New(o.store, o.dispatcher, o.config.Sweep, sopts...)

	return o.registerHandlers()
}

// registerHandlers installs the provider adapters, then any overrides.
func (o *Outbox) registerHandlers() error {
	c := o.config

	smsCfg := c.SMS
	smsCfg.Simulate = smsCfg.Simulate || c.Simulate
	callCfg := c.Call
	callCfg.Simulate = callCfg.Simulate || c.Simulate
	attrCfg := c.Attribution
	attrCfg.Simulate = attrCfg.Simulate || c.Simulate
	notifyCfg := c.Notify
	notifyCfg.Simulate = notifyCfg.Simulate || c.Simulate

	builtin := map[event.Action]handler.Handler{
		event.ActionSMSSend: sms.New(smsCfg,
			sms.WithOptOuts(o.optouts), sms.WithLimiter(o.limiter), sms.WithLogger(o.logger)),
		event.ActionCallInitiate: call.New(callCfg,
			call.WithLimiter(o.limiter), call.WithLogger(o.logger)),
		event.ActionAttributionPurchase: attribution.New(attrCfg,
			attribution.WithLimiter(o.limiter), attribution.WithLogger(o.logger)),
		event.ActionInternalNotification: notify.New(notifyCfg,
			notify.WithLimiter(o.limiter), notify.WithLogger(o.logger)),
	}
	for a, h := range o.handlers {
		builtin[a] = h
	}
	for _, a := range event.Actions() {
		h, ok := builtin[a]
		if !ok {
			continue
		}
		if err := o.registry.Register(a, h); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the worker pool and the retry scheduler. Dead-letter alerts
// are queued while running.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true
	o.dispatcher.SetAlertQueue(o.engine)
	o.engine.Start(ctx)
	o.sweeper.Start(ctx)
	o.logger.InfoContext(ctx, "outbox started",
		"concurrency", o.config.Concurrency, "sweep_interval", o.config.Sweep.Interval)
}

// Stop shuts down the scheduler and the worker pool, waiting up to the
// shutdown timeout for in-flight attempts.
func (o *Outbox) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	o.mu.Unlock()

	if o.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.ShutdownTimeout)
		defer cancel()
	}

	err := errors.Join(o.sweeper.Stop(ctx), o.engine.Stop(ctx))
	o.dispatcher.SetAlertQueue(nil)
	return err
}

func (o *Outbox) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Submit creates a record and runs its first attempt in the caller's
// goroutine. A duplicate returns the existing record without side effects.
func (o *Outbox) Submit(ctx context.Context, d event.Draft) (*event.Record, error) {
	return o.dispatcher.Submit(ctx, d)
}

// SubmitBatch submits several drafts; P0 drafts run concurrently.
func (o *Outbox) SubmitBatch(ctx context.Context, drafts []event.Draft) []dispatch.BatchResult {
	return o.dispatcher.SubmitBatch(ctx, drafts)
}

// Enqueue accepts a draft for dispatch. While the worker pool runs, drafts
// outside the inline priorities are persisted and queued; otherwise the
// first attempt runs inline. The bool reports whether a new record was
// created.
func (o *Outbox) Enqueue(ctx context.Context, d event.Draft) (*event.Record, bool, error) {
	if o.isRunning() && !o.config.inline(d.Priority) {
		return o.engine.Enqueue(ctx, d)
	}

	rec, created, err := o.dispatcher.Create(ctx, d)
	if err != nil || !created {
		return rec, created, err
	}
	out, err := o.dispatcher.Process(ctx, rec)
	if errors.Is(err, event.ErrConflict) {
		out, err = o.store.GetRecord(ctx, rec.ID)
	}
	return out, true, err
}

// HandleInbound applies an inbound SMS keyword to the opt-out registry and
// dispatches the compliance reply. The returned record is nil when no reply
// is due.
func (o *Outbox) HandleInbound(ctx context.Context, in optout.Inbound) (optout.Reply, *event.Record, error) {
	reply, err := o.optouts.HandleInbound(ctx, in)
	if err != nil || reply.Message == "" {
		return reply, nil, err
	}

	ref := in.MessageID
	if ref == "" {
		ref = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	payload, err := json.Marshal(sms.Payload{To: reply.Phone, Message: reply.Message})
	if err != nil {
		return reply, nil, err
	}
	rec, _, err := o.Enqueue(ctx, event.Draft{
		Action:         event.ActionSMSSend,
		Priority:       event.P0,
		Payload:        payload,
		IdempotencyKey: "compliance:" + string(reply.Kind) + ":" + ref,
		Metadata:       map[string]string{sms.MetadataCompliance: "true"},
	})
	if err != nil {
		return reply, nil, fmt.Errorf("outbox: compliance reply: %w", err)
	}
	return reply, rec, nil
}

// Sweep runs one retry sweep.
func (o *Outbox) Sweep(ctx context.Context) (scheduler.Report, error) {
	return o.sweeper.Sweep(ctx)
}

// Record returns a record by ID.
func (o *Outbox) Record(ctx context.Context, recID id.ID) (*event.Record, error) {
	return o.store.GetRecord(ctx, recID)
}

// Records lists records, newest first.
func (o *Outbox) Records(ctx context.Context, opts event.ListOpts) ([]*event.Record, error) {
	return o.store.ListRecords(ctx, opts)
}

// Stats is a point-in-time summary of the outbox.
type Stats struct {
	Counts     map[event.Status]int64 `json:"counts"`
	DLQSize    int64                  `json:"dlq_size"`
	QueueDepth map[event.Priority]int `json:"queue_depth"`
	Running    bool                   `json:"running"`
}

// Stats returns record counts by status and the current queue depth.
func (o *Outbox) Stats(ctx context.Context) (Stats, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Counts:     counts,
		DLQSize:    counts[event.StatusFailedDead],
		QueueDepth: o.engine.Depth(),
		Running:    o.isRunning(),
	}, nil
}

// Authorize checks a webhook shared secret against the configured one.
func (o *Outbox) Authorize(provided string) error {
	if !signature.Equal(provided, o.config.WebhookSecret) {
		return ErrUnauthorized
	}
	return nil
}

// Config returns the effective configuration.
func (o *Outbox) Config() Config { return o.config }

// Store returns the underlying store.
func (o *Outbox) Store() store.Store { return o.store }

// Registry returns the handler registry.
func (o *Outbox) Registry() *handler.Registry { return o.registry }

// Dispatcher returns the dispatcher.
func (o *Outbox) Dispatcher() *dispatch.Dispatcher { return o.dispatcher }

// Engine returns the worker pool.
func (o *Outbox) Engine() *dispatch.Engine { return o.engine }

// Sweeper returns the retry scheduler.
func (o *Outbox) Sweeper() *scheduler.Sweeper { return o.sweeper }

// DLQ returns the dead-letter service.
func (o *Outbox) DLQ() *dlq.Service { return o.dlqSvc }

// OptOuts returns the opt-out registry.
func (o *Outbox) OptOuts() *optout.Service { return o.optouts }

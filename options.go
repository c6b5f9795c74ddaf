package outbox

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/dlq"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/observability"
	"github.com/graniteshield/outbox/optout"
	"github.com/graniteshield/outbox/ratelimit"
	"github.com/graniteshield/outbox/scheduler"
	"github.com/graniteshield/outbox/schema"
	"github.com/graniteshield/outbox/store"
)

// Outbox is the root action dispatch engine.
type Outbox struct {
	config     Config
	store      store.Store
	registry   *handler.Registry
	validator  *schema.Validator
	limiter    *ratelimit.Limiter
	optouts    *optout.Service
	dispatcher *dispatch.Dispatcher
	engine     *dispatch.Engine
	sweeper    *scheduler.Sweeper
	dlqSvc     *dlq.Service

	handlers map[event.Action]handler.Handler
	schemas  map[event.Action][]byte
	locker   scheduler.Locker
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// Option configures an Outbox instance.
type Option func(*Outbox) error

// New creates a new Outbox with the given options.
func New(opts ...Option) (*Outbox, error) {
	o := &Outbox{
		config:   DefaultConfig(),
		handlers: make(map[event.Action]handler.Handler),
		schemas:  make(map[event.Action][]byte),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.store == nil {
		return nil, ErrNoStore
	}
	if err := o.config.validate(); err != nil {
		return nil, err
	}
	if err := o.wireServices(); err != nil {
		return nil, err
	}
	return o, nil
}

// WithStore sets the persistence backend for the Outbox instance.
func WithStore(s store.Store) Option {
	return func(o *Outbox) error {
		o.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Outbox instance.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Outbox) error {
		o.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Outbox) error {
		o.config = cfg
		return nil
	}
}

// WithWebhookSecret sets the shared secret for inbound webhooks.
func WithWebhookSecret(secret string) Option {
	return func(o *Outbox) error {
		o.config.WebhookSecret = secret
		return nil
	}
}

// WithConcurrency sets the number of dispatch workers.
func WithConcurrency(n int) Option {
	return func(o *Outbox) error {
		o.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the engine recovers stranded records.
func WithPollInterval(d time.Duration) Option {
	return func(o *Outbox) error {
		o.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of records recovered per poll.
func WithBatchSize(n int) Option {
	return func(o *Outbox) error {
		o.config.BatchSize = n
		return nil
	}
}

// WithRetryBackoff sets the backoff between attempts. A negative jitter
// disables randomization.
func WithRetryBackoff(base time.Duration, jitter float64, maxDelay time.Duration) Option {
	return func(o *Outbox) error {
		o.config.RetryBaseDelay = base
		o.config.RetryJitter = jitter
		o.config.RetryMaxDelay = maxDelay
		return nil
	}
}

// WithTimeout sets the handler timeout for one priority.
func WithTimeout(p event.Priority, d time.Duration) Option {
	return func(o *Outbox) error {
		if !p.Valid() {
			return fmt.Errorf("%w: priority %q", ErrInvalidConfig, p)
		}
		if o.config.Timeouts == nil {
			o.config.Timeouts = make(map[event.Priority]time.Duration)
		}
		o.config.Timeouts[p] = d
		return nil
	}
}

// WithSweep sets the retry scheduler configuration.
func WithSweep(cfg scheduler.Config) Option {
	return func(o *Outbox) error {
		o.config.Sweep = cfg
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight attempts on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Outbox) error {
		o.config.ShutdownTimeout = d
		return nil
	}
}

// WithSimulate makes unconfigured providers succeed without sending.
func WithSimulate(on bool) Option {
	return func(o *Outbox) error {
		o.config.Simulate = on
		return nil
	}
}

// WithHandler replaces the built-in handler for an action.
func WithHandler(a event.Action, h handler.Handler) Option {
	return func(o *Outbox) error {
		if !a.Valid() || h == nil {
			return handler.ErrInvalidRegistration
		}
		o.handlers[a] = h
		return nil
	}
}

// WithSchema replaces the payload schema for an action.
func WithSchema(a event.Action, schemaJSON []byte) Option {
	return func(o *Outbox) error {
		o.schemas[a] = schemaJSON
		return nil
	}
}

// WithLocker sets the lock that keeps concurrent sweeps apart.
func WithLocker(l scheduler.Locker) Option {
	return func(o *Outbox) error {
		o.locker = l
		return nil
	}
}

// WithLimiter sets the shared outbound rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(o *Outbox) error {
		o.limiter = l
		return nil
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Outbox) error {
		o.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans for attempts and sweeps.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Outbox) error {
		o.tracer = t
		return nil
	}
}

// WithClock overrides the time source of the dispatcher and the sweeper.
func WithClock(now func() time.Time) Option {
	return func(o *Outbox) error {
		o.now = now
		return nil
	}
}

package outbox

import (
	"fmt"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler/attribution"
	"github.com/graniteshield/outbox/handler/call"
	"github.com/graniteshield/outbox/handler/notify"
	"github.com/graniteshield/outbox/handler/sms"
	"github.com/graniteshield/outbox/optout"
	"github.com/graniteshield/outbox/scheduler"
)

// Config holds the configuration for an Outbox instance.
type Config struct {
	// WebhookSecret is the shared secret expected in the CRM webhook header.
	// It also keys HMAC-signed internal requests.
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret" mapstructure:"webhook_secret"`

	// Concurrency is the number of dispatch workers.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// QueueSize bounds each priority queue.
	QueueSize int `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`

	// PollInterval is how often the engine looks for stranded pending records.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// RecoverAfter is how long a pending record may wait before it is
	// re-queued.
	RecoverAfter time.Duration `json:"recover_after" yaml:"recover_after" mapstructure:"recover_after"`

	// BatchSize limits records recovered per poll.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// RetryBaseDelay, RetryJitter and RetryMaxDelay shape the backoff
	// between attempts: base × 2^attempt, randomized by ±jitter, capped.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay" mapstructure:"retry_base_delay"`
	RetryJitter    float64       `json:"retry_jitter"     yaml:"retry_jitter"     mapstructure:"retry_jitter"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay"  yaml:"retry_max_delay"  mapstructure:"retry_max_delay"`

	// Timeouts bounds each handler call by priority.
	Timeouts map[event.Priority]time.Duration `json:"timeouts" yaml:"timeouts" mapstructure:"timeouts"`

	// InlinePriorities are dispatched in the caller's request even when the
	// worker pool is running. Other priorities are queued.
	InlinePriorities []event.Priority `json:"inline_priorities" yaml:"inline_priorities" mapstructure:"inline_priorities"`

	// Sweep configures the retry scheduler.
	Sweep scheduler.Config `json:"sweep" yaml:"sweep" mapstructure:"sweep"`

	// ShutdownTimeout is the maximum time to wait for in-flight attempts on
	// shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// Simulate makes handlers without credentials log and succeed instead of
	// failing. Development only.
	Simulate bool `json:"simulate" yaml:"simulate" mapstructure:"simulate"`

	SMS         sms.Config         `json:"sms"         yaml:"sms"         mapstructure:"sms"`
	Call        call.Config        `json:"call"        yaml:"call"        mapstructure:"call"`
	Attribution attribution.Config `json:"attribution" yaml:"attribution" mapstructure:"attribution"`
	Notify      notify.Config      `json:"notify"      yaml:"notify"      mapstructure:"notify"`
	OptOut      optout.Config      `json:"opt_out"     yaml:"opt_out"     mapstructure:"opt_out"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      8,
		QueueSize:        1024,
		PollInterval:     5 * time.Second,
		RecoverAfter:     30 * time.Second,
		BatchSize:        100,
		RetryBaseDelay:   dispatch.DefaultBaseDelay,
		RetryJitter:      dispatch.DefaultJitter,
		RetryMaxDelay:    dispatch.DefaultMaxDelay,
		Timeouts:         dispatch.DefaultTimeouts(),
		InlinePriorities: []event.Priority{event.P0},
		Sweep:            scheduler.DefaultConfig(),
		ShutdownTimeout:  30 * time.Second,
		OptOut:           optout.DefaultConfig(),
	}
}

// validate checks settings that depend on each other. A stale in_flight
// record is reclaimed after Sweep.StaleAfter, so every handler timeout must
// end before that or a reclaimed attempt could race the one it replaced.
func (c Config) validate() error {
	staleAfter := c.Sweep.StaleAfter
	if staleAfter <= 0 {
		staleAfter = scheduler.DefaultConfig().StaleAfter
	}
	timeouts := dispatch.DefaultTimeouts()
	for p, t := range c.Timeouts {
		if t > 0 {
			timeouts[p] = t
		}
	}
	for p, t := range timeouts {
		if t >= staleAfter {
			return fmt.Errorf("%w: %s timeout %s must be shorter than sweep stale_after %s",
				ErrInvalidConfig, p, t, staleAfter)
		}
	}
	return nil
}

func (c Config) inline(p event.Priority) bool {
	for _, q := range c.InlinePriorities {
		if q == p {
			return true
		}
	}
	return false
}

package extension

import (
	"github.com/graniteshield/outbox"
)

// Config holds configuration for the outbox Forge extension.
// Fields can be set programmatically via ExtOption functions or loaded from
// YAML configuration files (under "extensions.outbox" or "outbox" keys).
type Config struct {
	// Config embeds the core outbox configuration.
	outbox.Config `json:",inline" yaml:",inline" mapstructure:",squash"`

	// BasePath is the URL prefix for all outbox routes (default: "/v1").
	BasePath string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`

	// DisableRoutes disables automatic route registration with the Forge router.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes" mapstructure:"disable_routes"`

	// DisableMigrate disables automatic database migration on Register.
	DisableMigrate bool `json:"disable_migrate" yaml:"disable_migrate" mapstructure:"disable_migrate"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:   outbox.DefaultConfig(),
		BasePath: "/v1",
	}
}

// ToOutboxOptions converts the embedded Config into outbox.Option values.
// Fields left at zero in YAML keep their defaults.
func (c Config) ToOutboxOptions() []outbox.Option {
	return []outbox.Option{outbox.WithConfig(c.merged())}
}

// merged fills zero fields of the embedded config from the defaults.
func (c Config) merged() outbox.Config {
	cfg := c.Config
	def := outbox.DefaultConfig()

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RecoverAfter <= 0 {
		cfg.RecoverAfter = def.RecoverAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryJitter == 0 {
		cfg.RetryJitter = def.RetryJitter
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if len(cfg.Timeouts) == 0 {
		cfg.Timeouts = def.Timeouts
	}
	if cfg.InlinePriorities == nil {
		cfg.InlinePriorities = def.InlinePriorities
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep = def.Sweep
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.OptOut.Company == "" {
		cfg.OptOut = def.OptOut
	}

	return cfg
}

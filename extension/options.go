package extension

import (
	"log/slog"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/store"
)

// ExtOption configures the outbox Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend via an outbox option.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
		e.opts = append(e.opts, outbox.WithStore(s))
	}
}

// WithBasePath sets the URL prefix for all outbox routes.
func WithBasePath(path string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = path
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithOutboxOption appends a raw outbox.Option to the extension.
func WithOutboxOption(opt outbox.Option) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, opt)
	}
}

// WithLogger sets the logger used by the outbox and the net/http handler.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithDisableRoutes disables automatic route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables automatic database migration on Register.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

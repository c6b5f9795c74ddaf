package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xraph/forge"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/api"
	"github.com/graniteshield/outbox/store"
)

// Extension mounts an outbox into a Forge application.
type Extension struct {
	config Config
	opts   []outbox.Option
	store  store.Store
	logger *slog.Logger

	outbox *outbox.Outbox
}

// New creates an outbox extension.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig()}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Name returns the extension name.
func (e *Extension) Name() string { return "outbox" }

// Register builds the outbox, runs migrations and mounts the Forge routes
// under the base path.
func (e *Extension) Register(ctx context.Context, router forge.Router, log forge.Logger) error {
	if e.store == nil {
		return outbox.ErrNoStore
	}

	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", outbox.ErrMigrationFailed, err)
		}
	}

	// The extension's config goes first so explicit options win.
	opts := append(e.config.ToOutboxOptions(), outbox.WithLogger(e.logger))
	opts = append(opts, e.opts...)
	o, err := outbox.New(opts...)
	if err != nil {
		return fmt.Errorf("outbox extension: %w", err)
	}
	e.outbox = o

	if !e.config.DisableRoutes && router != nil {
		g := router.Group(e.BasePath())
		api.NewForgeAPI(o, log).RegisterRoutes(g)
	}

	e.logger.InfoContext(ctx, "outbox extension registered",
		"base_path", e.BasePath(), "routes", !e.config.DisableRoutes)
	return nil
}

// Start launches the worker pool and the retry scheduler.
func (e *Extension) Start(ctx context.Context) error {
	if e.outbox == nil {
		return errors.New("outbox extension: not registered")
	}
	e.outbox.Start(ctx)
	return nil
}

// Stop drains in-flight work and closes the store.
func (e *Extension) Stop(ctx context.Context) error {
	if e.outbox == nil {
		return nil
	}
	return errors.Join(e.outbox.Stop(ctx), e.store.Close())
}

// Health reports store connectivity.
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return outbox.ErrNoStore
	}
	return e.store.Ping(ctx)
}

// Outbox returns the outbox built by Register, or nil before it.
func (e *Extension) Outbox() *outbox.Outbox { return e.outbox }

// Handler returns the net/http handler for the registered outbox. It can be
// used standalone without Forge routing. Its routes carry their own /v1
// prefix.
func (e *Extension) Handler() http.Handler {
	if e.outbox == nil {
		return http.NotFoundHandler()
	}
	return api.NewHandler(e.outbox, e.logger)
}

// BasePath returns the configured URL prefix without a trailing slash.
func (e *Extension) BasePath() string {
	return strings.TrimRight(e.config.BasePath, "/")
}

// Command outboxd serves the outbox webhook and admin API and runs the
// dispatch workers and retry scheduler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/api"
	"github.com/graniteshield/outbox/observability"
	"github.com/graniteshield/outbox/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("outboxd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	e, err := loadEnv()
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, e)
	if err != nil {
		return err
	}
	defer st.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = st.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return errors.Join(outbox.ErrMigrationFailed, err)
	}

	opts := []outbox.Option{
		outbox.WithConfig(e.Outbox),
		outbox.WithStore(st),
		outbox.WithLogger(logger),
		outbox.WithTracer(observability.NewTracer()),
	}
	if e.RedisURL != "" {
		client, err := redisClient(e.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, outbox.WithLocker(scheduler.NewRedisLocker(client)))
	}

	o, err := outbox.New(opts...)
	if err != nil {
		return err
	}
	if e.Outbox.WebhookSecret == "" {
		logger.Warn("GHL_WEBHOOK_SECRET is not set; webhook and admin routes will reject every request")
	}

	o.Start(ctx)

	srv := &http.Server{
		Addr:              e.Addr,
		Handler:           api.NewHandler(o, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "store", e.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), e.Outbox.ShutdownTimeout)
	defer shutdownCancel()

	return errors.Join(runErr, srv.Shutdown(shutdownCtx), o.Stop(shutdownCtx))
}

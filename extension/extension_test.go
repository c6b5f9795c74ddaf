package extension_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/extension"
	"github.com/graniteshield/outbox/store/memory"
)

func TestRegisterRequiresStore(t *testing.T) {
	ext := extension.New()
	if err := ext.Register(context.Background(), nil, nil); !errors.Is(err, outbox.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	cfg := extension.DefaultConfig()
	cfg.WebhookSecret = "s3cret"
	cfg.Simulate = true
	cfg.Concurrency = 0 // falls back to the default

	ext := extension.New(
		extension.WithConfig(cfg),
		extension.WithStore(memory.New()),
		extension.WithBasePath("/v1/"),
	)
	ctx := context.Background()

	if err := ext.Register(ctx, nil, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if ext.BasePath() != "/v1" {
		t.Fatalf("expected trimmed base path, got %q", ext.BasePath())
	}
	if got := ext.Outbox().Config().Concurrency; got != outbox.DefaultConfig().Concurrency {
		t.Fatalf("expected default concurrency, got %d", got)
	}
	if err := ext.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	srv := httptest.NewServer(ext.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/v1/automation")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ext.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ext.Health(ctx); !errors.Is(err, outbox.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed after stop, got %v", err)
	}
}

func TestStartBeforeRegister(t *testing.T) {
	if err := extension.New().Start(context.Background()); err == nil {
		t.Fatal("expected error starting an unregistered extension")
	}
}

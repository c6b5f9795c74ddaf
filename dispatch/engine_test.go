package dispatch_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
)

func waitForStatus(t *testing.T, f *fixture, rec *event.Record, want event.Status) *event.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.store.GetRecord(ctx(), rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record %s never reached %s", rec.ID, want)
	return nil
}

func TestEngineProcessesQueuedRecords(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	h := &recorder{res: handler.Success("msg_1")}
	f.register(t, event.ActionSMSSend, h)

	e := dispatch.NewEngine(f.disp, f.store, dispatch.EngineConfig{Concurrency: 4}, nil)
	e.Start(ctx())
	defer e.Stop(ctx())

	var recs []*event.Record
	for _, k := range []string{"a", "b", "c"} {
		rec, created, err := e.Enqueue(ctx(), smsDraft(k))
		if err != nil || !created {
			t.Fatalf("enqueue %s: %v created=%v", k, err, created)
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		waitForStatus(t, f, rec, event.StatusSucceeded)
	}

	// A duplicate is reported as existing and never queued.
	if _, created, err := e.Enqueue(ctx(), smsDraft("a")); err != nil || created {
		t.Fatalf("expected duplicate, got created=%v err=%v", created, err)
	}
	if n := h.calls.Load(); n != 3 {
		t.Fatalf("expected 3 handler calls, got %d", n)
	}
}

func TestEngineRoutesAlerts(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	f.register(t, event.ActionSMSSend, &recorder{res: handler.Fail("400")})

	e := dispatch.NewEngine(f.disp, f.store, dispatch.EngineConfig{Concurrency: 2}, nil)
	f.disp.SetAlertQueue(e)
	e.Start(ctx())
	defer e.Stop(ctx())

	rec, _, err := e.Enqueue(ctx(), smsDraft("dead"))
	if err != nil {
		t.Fatal(err)
	}
	dead := waitForStatus(t, f, rec, event.StatusFailedDead)

	deadline := time.Now().Add(2 * time.Second)
	for f.notify.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	alert := f.alertFor(t, dead)
	if alert == nil {
		t.Fatal("expected a dead-letter alert record")
	}
	waitForStatus(t, f, alert, event.StatusSucceeded)
}

func TestEngineRecover(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	f.register(t, event.ActionSMSSend, &recorder{res: handler.Success("m")})

	e := dispatch.NewEngine(f.disp, f.store, dispatch.EngineConfig{RecoverAfter: time.Millisecond}, nil)

	// Created but never queued, as after a crash.
	if _, _, err := f.disp.Create(ctx(), event.Draft{
		Action:   event.ActionSMSSend,
		Priority: event.P1,
		Payload:  json.RawMessage(`{"to":"+12072103282","message":"hi"}`),
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if n := e.Recover(ctx()); n != 1 {
		t.Fatalf("expected 1 recovered record, got %d", n)
	}
	if d := e.Depth()[event.P1]; d != 1 {
		t.Fatalf("expected P1 depth 1, got %d", d)
	}
}

func TestEngineStopWaits(t *testing.T) {
	f := newFixture(t, dispatch.Config{})
	release := make(chan struct{})
	f.register(t, event.ActionSMSSend, handler.HandlerFunc(func(context.Context, *event.Record) handler.Result {
		<-release
		return handler.Success("m")
	}))

	e := dispatch.NewEngine(f.disp, f.store, dispatch.EngineConfig{Concurrency: 1}, nil)
	e.Start(ctx())

	rec, _, err := e.Enqueue(ctx(), smsDraft("slow"))
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, f, rec, event.StatusInFlight)

	short, cancel := context.WithTimeout(ctx(), 10*time.Millisecond)
	defer cancel()
	if err := e.Stop(short); err == nil {
		t.Fatal("expected Stop to time out while an attempt is in flight")
	}

	close(release)
	waitForStatus(t, f, rec, event.StatusSucceeded)
}

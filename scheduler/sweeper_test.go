package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/scheduler"
	"github.com/graniteshield/outbox/store/memory"
)

func ctx() context.Context { return context.Background() }

func later() time.Time { return time.Now().UTC().Add(time.Hour) }

type fixture struct {
	store *memory.Store
	disp  *dispatch.Dispatcher
	calls atomic.Int32
	order []string
	mu    sync.Mutex
}

// newFixture registers an SMS handler that fails retryably failFirst times
// and then succeeds.
func newFixture(t *testing.T, failFirst int32) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}
	reg := handler.NewRegistry()
	_ = reg.Register(event.ActionInternalNotification, handler.HandlerFunc(func(context.Context, *event.Record) handler.Result {
		return handler.Success("email")
	}))
	_ = reg.Register(event.ActionSMSSend, handler.HandlerFunc(func(_ context.Context, rec *event.Record) handler.Result {
		f.mu.Lock()
		f.order = append(f.order, rec.IdempotencyKey)
		f.mu.Unlock()
		if f.calls.Add(1) <= failFirst {
			return handler.Retry("openphone 503")
		}
		return handler.Success("msg")
	}))
	f.disp = dispatch.New(f.store, reg, dispatch.Config{})
	return f
}

func (f *fixture) submit(t *testing.T, key string, p event.Priority) *event.Record {
	t.Helper()
	rec, err := f.disp.Submit(ctx(), event.Draft{
		Action:         event.ActionSMSSend,
		Priority:       p,
		Payload:        json.RawMessage(`{"to":"+12072103282","message":"hi"}`),
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func (f *fixture) status(t *testing.T, rec *event.Record) *event.Record {
	t.Helper()
	got, err := f.store.GetRecord(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestSweepRedispatchesDue(t *testing.T) {
	f := newFixture(t, 3)
	recs := []*event.Record{f.submit(t, "a", event.P1), f.submit(t, "b", event.P1), f.submit(t, "c", event.P2)}
	for _, r := range recs {
		if r.Status != event.StatusFailedRetryable {
			t.Fatalf("expected failed_retryable, got %s", r.Status)
		}
	}

	s := scheduler.New(f.store, f.disp, scheduler.Config{}, scheduler.WithClock(later))
	rep, err := s.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Due != 3 || rep.Succeeded != 3 || rep.Processed() != 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
	for _, r := range recs {
		got := f.status(t, r)
		if got.Status != event.StatusSucceeded || got.AttemptCount != 2 {
			t.Fatalf("expected success on attempt 2, got %s/%d", got.Status, got.AttemptCount)
		}
	}
}

func TestSweepIgnoresRecordsNotYetDue(t *testing.T) {
	f := newFixture(t, 1)
	f.submit(t, "a", event.P1)

	rep, err := scheduler.New(f.store, f.disp, scheduler.Config{}).Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Due != 0 || f.calls.Load() != 1 {
		t.Fatalf("expected nothing due, got %+v after %d calls", rep, f.calls.Load())
	}
}

func TestSweepMostUrgentFirst(t *testing.T) {
	f := newFixture(t, 3)
	f.submit(t, "p3", event.P3)
	f.submit(t, "p2", event.P2)
	f.submit(t, "p1", event.P1)

	f.mu.Lock()
	f.order = nil
	f.mu.Unlock()

	s := scheduler.New(f.store, f.disp, scheduler.Config{Concurrency: 1}, scheduler.WithClock(later))
	if _, err := s.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}

	want := []string{"p1", "p2", "p3"}
	for i, k := range want {
		if f.order[i] != k {
			t.Fatalf("position %d: expected %s, got %s", i, k, f.order[i])
		}
	}
}

func TestSweepDeadLettersAfterLastAttempt(t *testing.T) {
	f := newFixture(t, 100)
	rec := f.submit(t, "doomed", event.P1)

	s := scheduler.New(f.store, f.disp, scheduler.Config{}, scheduler.WithClock(later))
	rep, err := s.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Retrying != 1 {
		t.Fatalf("expected 1 retrying, got %+v", rep)
	}

	// The backoff after attempt 2 is still well under an hour.
	rep, err = s.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Dead != 1 {
		t.Fatalf("expected 1 dead, got %+v", rep)
	}

	got := f.status(t, rec)
	if got.Status != event.StatusFailedDead || got.AttemptCount != event.MaxAttempts {
		t.Fatalf("expected failed_dead after 3 attempts, got %s/%d", got.Status, got.AttemptCount)
	}
	if _, err := f.store.GetRecordByKey(ctx(), event.ActionInternalNotification, dispatch.AlertKey(rec.ID.String())); err != nil {
		t.Fatalf("expected dead-letter alert: %v", err)
	}

	rep, _ = s.Sweep(ctx())
	if rep.Due != 0 || f.calls.Load() != 3 {
		t.Fatalf("dead record swept again: %+v after %d calls", rep, f.calls.Load())
	}
}

func TestSweepReclaimsAbandonedRecords(t *testing.T) {
	f := newFixture(t, 0)
	rec, _, err := f.disp.Create(ctx(), event.Draft{
		Action:   event.ActionSMSSend,
		Priority: event.P0,
		Payload:  json.RawMessage(`{"to":"+12072103282","message":"hi"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	claimed := rec.Clone()
	claimed.Status = event.StatusInFlight
	claimed.AttemptCount = 1
	claimed.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	if err := f.store.TransitionRecord(ctx(), claimed, event.StatusPending); err != nil {
		t.Fatal(err)
	}

	rep, err := scheduler.New(f.store, f.disp, scheduler.Config{}).Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed, got %+v", rep)
	}

	got := f.status(t, rec)
	if got.Status != event.StatusFailedRetryable || got.LastError != scheduler.ReasonAbandoned {
		t.Fatalf("expected reclaimed record to await retry, got %s/%s", got.Status, got.LastError)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected the abandoned attempt to count once, got %d", got.AttemptCount)
	}
}

// ──────────────────────────────────────────────────
// Locking
// ──────────────────────────────────────────────────

type fakeLocker struct {
	held     bool
	err      error
	obtained atomic.Int32
	released atomic.Int32
}

func (l *fakeLocker) TryLock(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, scheduler.ErrLocked
	}
	l.obtained.Add(1)
	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, nil
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t, 1)
	f.submit(t, "a", event.P1)

	lock := &fakeLocker{held: true}
	s := scheduler.New(f.store, f.disp, scheduler.Config{}, scheduler.WithClock(later), scheduler.WithLocker(lock))
	rep, err := s.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Skipped || rep.Due != 0 {
		t.Fatalf("expected skipped sweep, got %+v", rep)
	}
	if f.calls.Load() != 1 {
		t.Fatal("skipped sweep ran a handler")
	}
}

func TestSweepReleasesLock(t *testing.T) {
	f := newFixture(t, 1)
	f.submit(t, "a", event.P1)

	lock := &fakeLocker{}
	s := scheduler.New(f.store, f.disp, scheduler.Config{}, scheduler.WithClock(later), scheduler.WithLocker(lock))
	if _, err := s.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}
	if lock.obtained.Load() != 1 || lock.released.Load() != 1 {
		t.Fatalf("expected one obtain and one release, got %d/%d", lock.obtained.Load(), lock.released.Load())
	}
}

func TestSweepLockError(t *testing.T) {
	f := newFixture(t, 0)
	boom := errors.New("redis down")

	s := scheduler.New(f.store, f.disp, scheduler.Config{}, scheduler.WithLocker(&fakeLocker{err: boom}))
	if _, err := s.Sweep(ctx()); !errors.Is(err, boom) {
		t.Fatalf("expected lock error, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestStartStop(t *testing.T) {
	f := newFixture(t, 1)
	rec := f.submit(t, "a", event.P1)

	s := scheduler.New(f.store, f.disp, scheduler.Config{Interval: 10 * time.Millisecond}, scheduler.WithClock(later))
	s.Start(ctx())

	deadline := time.Now().Add(2 * time.Second)
	for f.status(t, rec).Status != event.StatusSucceeded {
		if time.Now().After(deadline) {
			t.Fatal("periodic sweep never retried the record")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(ctx()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

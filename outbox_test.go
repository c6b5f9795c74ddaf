package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/optout"
	"github.com/graniteshield/outbox/scheduler"
	"github.com/graniteshield/outbox/store/memory"
)

func ctx() context.Context { return context.Background() }

// counting is a handler that returns scripted results in order, repeating
// the last one.
type counting struct {
	calls   atomic.Int32
	results []handler.Result
}

func (c *counting) Handle(_ context.Context, _ *event.Record) handler.Result {
	n := int(c.calls.Add(1))
	if n > len(c.results) {
		n = len(c.results)
	}
	return c.results[n-1]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, opts ...outbox.Option) (*outbox.Outbox, *memory.Store) {
	t.Helper()
	s := memory.New()
	o, err := outbox.New(append([]outbox.Option{
		outbox.WithStore(s),
		outbox.WithSimulate(true),
		outbox.WithWebhookSecret("s3cret"),
	}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return o, s
}

func smsDraft(key string) event.Draft {
	return event.Draft{
		Action:         event.ActionSMSSend,
		Priority:       event.P0,
		Payload:        json.RawMessage(`{"to":"207-210-3282","message":"Your roof quote is ready","contactId":"c_1"}`),
		IdempotencyKey: key,
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := outbox.New(); !errors.Is(err, outbox.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestNewRejectsInvalidTimeout(t *testing.T) {
	_, err := outbox.New(outbox.WithStore(memory.New()), outbox.WithTimeout(event.Priority("P9"), time.Second))
	if !errors.Is(err, outbox.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNewRejectsTimeoutBeyondStaleAfter(t *testing.T) {
	sweep := scheduler.DefaultConfig()
	sweep.StaleAfter = 30 * time.Second

	_, err := outbox.New(outbox.WithStore(memory.New()), outbox.WithSweep(sweep))
	if !errors.Is(err, outbox.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for P3's 60s timeout, got %v", err)
	}

	_, err = outbox.New(outbox.WithStore(memory.New()),
		outbox.WithTimeout(event.P2, 10*time.Minute))
	if !errors.Is(err, outbox.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for a timeout past the default stale_after, got %v", err)
	}

	sweep.StaleAfter = 2 * time.Minute
	if _, err := outbox.New(outbox.WithStore(memory.New()), outbox.WithSweep(sweep)); err != nil {
		t.Fatalf("expected stale_after above every timeout to pass, got %v", err)
	}
}

func TestBuiltinHandlersRegistered(t *testing.T) {
	o, _ := setup(t)
	if got := len(o.Registry().Actions()); got != len(event.Actions()) {
		t.Fatalf("expected %d registered actions, got %d", len(event.Actions()), got)
	}
}

func TestSubmitSimulatedSMS(t *testing.T) {
	o, _ := setup(t)

	rec, err := o.Submit(ctx(), smsDraft("lead-1"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != event.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", rec.Status, rec.LastError)
	}
	if rec.ExternalID != "simulated" {
		t.Fatalf("expected simulated external id, got %q", rec.ExternalID)
	}
}

func TestSubmitDuplicateRunsOnce(t *testing.T) {
	h := &counting{results: []handler.Result{handler.Success("msg_1")}}
	o, _ := setup(t, outbox.WithHandler(event.ActionSMSSend, h))

	first, err := o.Submit(ctx(), smsDraft("lead-2"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Submit(ctx(), smsDraft("lead-2"))
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same record, got %s and %s", first.ID, second.ID)
	}
	if h.calls.Load() != 1 {
		t.Fatalf("expected 1 handler call, got %d", h.calls.Load())
	}
}

func TestEnqueueInlineWhenStopped(t *testing.T) {
	o, _ := setup(t)

	d := smsDraft("lead-3")
	d.Priority = event.P2
	rec, created, err := o.Enqueue(ctx(), d)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected a new record")
	}
	if rec.Status != event.StatusSucceeded {
		t.Fatalf("expected inline dispatch to succeed, got %s", rec.Status)
	}
}

func TestEnqueueQueuedWhenRunning(t *testing.T) {
	o, s := setup(t, outbox.WithConcurrency(2))
	o.Start(ctx())
	defer o.Stop(ctx()) //nolint:errcheck // test cleanup

	d := smsDraft("lead-4")
	d.Priority = event.P2
	rec, _, err := o.Enqueue(ctx(), d)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetRecord(ctx(), rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == event.StatusSucceeded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected queued record to succeed")
}

func TestOptOutSuppressesSMS(t *testing.T) {
	notify := &counting{results: []handler.Result{handler.Success("email_1")}}
	o, s := setup(t, outbox.WithHandler(event.ActionInternalNotification, notify))

	reply, confirm, err := o.HandleInbound(ctx(), optout.Inbound{From: "(207) 210-3282", Body: "STOP", MessageID: "m_1"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != optout.KindOptOut {
		t.Fatalf("expected opt_out, got %q", reply.Kind)
	}
	if confirm == nil || confirm.Status != event.StatusSucceeded {
		t.Fatalf("expected compliance confirmation to be sent, got %+v", confirm)
	}

	rec, err := o.Submit(ctx(), smsDraft("lead-5"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != event.StatusFailedDead || rec.LastError != handler.ReasonOptedOut {
		t.Fatalf("expected failed_dead opted_out, got %s %q", rec.Status, rec.LastError)
	}
	if rec.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", rec.AttemptCount)
	}
	if notify.calls.Load() != 1 {
		t.Fatalf("expected exactly one dead-letter alert, got %d", notify.calls.Load())
	}

	alerts, err := s.ListRecords(ctx(), event.ListOpts{Action: event.ActionInternalNotification})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].IdempotencyKey != "dead_letter:"+rec.ID.String() {
		t.Fatalf("expected one alert keyed to the dead record, got %d", len(alerts))
	}
}

func TestInboundNonKeywordIgnored(t *testing.T) {
	o, _ := setup(t)

	reply, rec, err := o.HandleInbound(ctx(), optout.Inbound{From: "2072103282", Body: "what time tomorrow?"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Kind != optout.KindNone || rec != nil {
		t.Fatalf("expected no reply, got %q %v", reply.Kind, rec)
	}
}

func TestSweepRetriesDueRecord(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := &counting{results: []handler.Result{handler.Retry("openphone 503"), handler.Success("msg_2")}}
	o, _ := setup(t,
		outbox.WithHandler(event.ActionSMSSend, h),
		outbox.WithClock(clk.Now),
		outbox.WithRetryBackoff(time.Second, -1, time.Minute),
	)

	rec, err := o.Submit(ctx(), smsDraft("lead-6"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != event.StatusFailedRetryable {
		t.Fatalf("expected failed_retryable, got %s", rec.Status)
	}

	clk.Advance(time.Hour)
	report, err := o.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if report.Due != 1 || report.Succeeded != 1 {
		t.Fatalf("expected 1 due and 1 succeeded, got %+v", report)
	}

	got, err := o.Record(ctx(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != event.StatusSucceeded || got.AttemptCount != 2 {
		t.Fatalf("expected succeeded after 2 attempts, got %s after %d", got.Status, got.AttemptCount)
	}
}

func TestReplayDeadRecord(t *testing.T) {
	h := &counting{results: []handler.Result{handler.Fail("invalid_phone"), handler.Success("msg_3")}}
	o, _ := setup(t, outbox.WithHandler(event.ActionSMSSend, h))

	dead, err := o.Submit(ctx(), smsDraft("lead-7"))
	if err != nil {
		t.Fatal(err)
	}
	if dead.Status != event.StatusFailedDead {
		t.Fatalf("expected failed_dead, got %s", dead.Status)
	}

	replay, err := o.DLQ().Replay(ctx(), dead.ID)
	if err != nil {
		t.Fatal(err)
	}
	if replay.ReplayOf != dead.ID.String() {
		t.Fatalf("expected replay of %s, got %q", dead.ID, replay.ReplayOf)
	}
	if replay.Status != event.StatusSucceeded {
		t.Fatalf("expected replay to succeed, got %s", replay.Status)
	}

	if _, err := o.DLQ().Replay(ctx(), replay.ID); !errors.Is(err, outbox.ErrNotDeadLettered) {
		t.Fatalf("expected ErrNotDeadLettered, got %v", err)
	}
}

func TestStats(t *testing.T) {
	h := &counting{results: []handler.Result{handler.Fail("bad")}}
	o, _ := setup(t, outbox.WithHandler(event.ActionSMSSend, h))

	if _, err := o.Submit(ctx(), smsDraft("lead-8")); err != nil {
		t.Fatal(err)
	}

	st, err := o.Stats(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if st.DLQSize != 1 {
		t.Fatalf("expected dlq size 1, got %d", st.DLQSize)
	}
	// The simulated dead-letter alert succeeded.
	if st.Counts[event.StatusSucceeded] != 1 {
		t.Fatalf("expected 1 succeeded alert, got %d", st.Counts[event.StatusSucceeded])
	}
	if st.Running {
		t.Fatal("expected outbox not running")
	}
}

func TestAuthorize(t *testing.T) {
	o, _ := setup(t)
	if err := o.Authorize("s3cret"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := o.Authorize("wrong"); !errors.Is(err, outbox.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	o, _ := setup(t)
	o.Start(ctx())
	if err := o.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := o.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
}

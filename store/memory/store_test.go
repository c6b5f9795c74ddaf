package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/internal/entity"
	"github.com/graniteshield/outbox/optout"
)

func ctx() context.Context { return context.Background() }

func newRecord(a event.Action, p event.Priority, key string) *event.Record {
	return event.NewRecord(event.Draft{
		Action:         a,
		Priority:       p,
		Payload:        json.RawMessage(`{"to":"+12072103282","message":"hi"}`),
		IdempotencyKey: key,
	})
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, outbox.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.CreateRecord(ctx(), newRecord(event.ActionSMSSend, event.P0, "k")); !errors.Is(err, outbox.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed on create, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func TestCreateAndGet(t *testing.T) {
	s := New()
	r := newRecord(event.ActionSMSSend, event.P0, "lead-1")

	if err := s.CreateRecord(ctx(), r); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRecord(ctx(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IdempotencyKey != "lead-1" || got.Status != event.StatusPending {
		t.Fatalf("unexpected record %+v", got)
	}

	got, err = s.GetRecordByKey(ctx(), event.ActionSMSSend, "lead-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != r.ID {
		t.Fatalf("expected %s, got %s", r.ID, got.ID)
	}

	if _, err := s.GetRecord(ctx(), id.NewEventID()); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetRecordByKey(ctx(), event.ActionCallInitiate, "lead-1"); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other action, got %v", err)
	}
}

func TestDuplicateKeyPerAction(t *testing.T) {
	s := New()

	if err := s.CreateRecord(ctx(), newRecord(event.ActionSMSSend, event.P0, "same")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRecord(ctx(), newRecord(event.ActionSMSSend, event.P1, "same")); !errors.Is(err, event.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// The same key under another action is a different side effect.
	if err := s.CreateRecord(ctx(), newRecord(event.ActionCallInitiate, event.P1, "same")); err != nil {
		t.Fatalf("expected create under other action to succeed, got %v", err)
	}
}

func TestRecordsAreCopied(t *testing.T) {
	s := New()
	r := newRecord(event.ActionSMSSend, event.P0, "copy")
	r.Metadata = map[string]string{"contact_id": "c1"}
	if err := s.CreateRecord(ctx(), r); err != nil {
		t.Fatal(err)
	}

	r.Status = event.StatusSucceeded
	r.Metadata["contact_id"] = "changed"

	got, _ := s.GetRecord(ctx(), r.ID)
	if got.Status != event.StatusPending || got.Metadata["contact_id"] != "c1" {
		t.Fatalf("store shares state with caller: %+v", got)
	}

	got.AttemptCount = 99
	again, _ := s.GetRecord(ctx(), r.ID)
	if again.AttemptCount != 0 {
		t.Fatal("mutating a returned record changed the store")
	}
}

func TestTransitionRecord(t *testing.T) {
	s := New()
	r := newRecord(event.ActionSMSSend, event.P0, "t")
	if err := s.CreateRecord(ctx(), r); err != nil {
		t.Fatal(err)
	}

	claim := r.Clone()
	claim.Status = event.StatusInFlight
	claim.AttemptCount = 1
	if err := s.TransitionRecord(ctx(), claim, event.StatusPending); err != nil {
		t.Fatal(err)
	}

	// A second claim from the same prior status loses.
	if err := s.TransitionRecord(ctx(), claim, event.StatusPending); !errors.Is(err, event.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	done := claim.Clone()
	done.Status = event.StatusSucceeded
	done.ExternalID = "msg_1"
	now := time.Now().UTC()
	done.CompletedAt = &now
	if err := s.TransitionRecord(ctx(), done, event.StatusInFlight); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetRecord(ctx(), r.ID)
	if got.Status != event.StatusSucceeded || got.AttemptCount != 1 || got.ExternalID != "msg_1" || got.CompletedAt == nil {
		t.Fatalf("unexpected record after transition: %+v", got)
	}

	missing := newRecord(event.ActionSMSSend, event.P0, "missing")
	if err := s.TransitionRecord(ctx(), missing, event.StatusPending); !errors.Is(err, event.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRecordsFilters(t *testing.T) {
	s := New()
	base := time.Now().UTC().Add(-time.Hour)
	for i, a := range []event.Action{event.ActionSMSSend, event.ActionSMSSend, event.ActionCallInitiate} {
		r := newRecord(a, event.P1, string(rune('a'+i)))
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateRecord(ctx(), r); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRecords(ctx(), event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Action != event.ActionCallInitiate {
		t.Fatalf("expected newest first, got %s", all[0].Action)
	}

	sms, _ := s.ListRecords(ctx(), event.ListOpts{Action: event.ActionSMSSend})
	if len(sms) != 2 {
		t.Fatalf("expected 2 sms records, got %d", len(sms))
	}

	page, _ := s.ListRecords(ctx(), event.ListOpts{Offset: 1, Limit: 1})
	if len(page) != 1 || page[0].IdempotencyKey != "b" {
		t.Fatalf("unexpected page %+v", page)
	}

	none, _ := s.ListRecords(ctx(), event.ListOpts{Status: event.StatusFailedDead})
	if len(none) != 0 {
		t.Fatalf("expected no dead records, got %d", len(none))
	}
}

func TestListDueOrdering(t *testing.T) {
	s := New()
	now := time.Now().UTC()

	add := func(p event.Priority, key string, status event.Status, due time.Time) {
		r := newRecord(event.ActionSMSSend, p, key)
		r.Status = status
		r.NextAttemptAt = due
		if err := s.CreateRecord(ctx(), r); err != nil {
			t.Fatal(err)
		}
	}
	add(event.P3, "p3", event.StatusFailedRetryable, now.Add(-time.Hour))
	add(event.P1, "p1-late", event.StatusFailedRetryable, now.Add(-time.Second))
	add(event.P1, "p1-early", event.StatusFailedRetryable, now.Add(-time.Minute))
	add(event.P0, "future", event.StatusFailedRetryable, now.Add(time.Minute))
	add(event.P0, "pending", event.StatusPending, now.Add(-time.Minute))

	due, err := s.ListDue(ctx(), now, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"p1-early", "p1-late", "p3"}
	if len(due) != len(want) {
		t.Fatalf("expected %d due records, got %d", len(want), len(due))
	}
	for i, k := range want {
		if due[i].IdempotencyKey != k {
			t.Fatalf("position %d: expected %s, got %s", i, k, due[i].IdempotencyKey)
		}
	}

	limited, _ := s.ListDue(ctx(), now, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
}

func TestListStaleAndCounts(t *testing.T) {
	s := New()
	now := time.Now().UTC()

	old := newRecord(event.ActionSMSSend, event.P0, "old")
	old.Status = event.StatusInFlight
	old.UpdatedAt = now.Add(-10 * time.Minute)
	fresh := newRecord(event.ActionSMSSend, event.P0, "fresh")
	fresh.Status = event.StatusInFlight
	dead := newRecord(event.ActionSMSSend, event.P0, "dead")
	dead.Status = event.StatusFailedDead
	dead.UpdatedAt = now.Add(-time.Hour)
	for _, r := range []*event.Record{old, fresh, dead} {
		if err := s.CreateRecord(ctx(), r); err != nil {
			t.Fatal(err)
		}
	}

	stale, err := s.ListStale(ctx(), event.StatusInFlight, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].ID != old.ID {
		t.Fatalf("expected only the old in-flight record, got %+v", stale)
	}

	counts, err := s.CountByStatus(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if counts[event.StatusInFlight] != 2 || counts[event.StatusFailedDead] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

// ──────────────────────────────────────────────────
// optout.Store
// ──────────────────────────────────────────────────

func TestOptOutUpsert(t *testing.T) {
	s := New()

	if _, err := s.GetOptOut(ctx(), "+12072103282"); !errors.Is(err, optout.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := &optout.Entry{Entity: entity.New(), Phone: "+12072103282", OptedOut: true, Keyword: "stop"}
	if err := s.SetOptOut(ctx(), first); err != nil {
		t.Fatal(err)
	}

	second := &optout.Entry{Entity: entity.New(), Phone: "+12072103282", OptedOut: false, Keyword: "start"}
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	if err := s.SetOptOut(ctx(), second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetOptOut(ctx(), "+12072103282")
	if err != nil {
		t.Fatal(err)
	}
	if got.OptedOut || got.Keyword != "start" {
		t.Fatalf("expected re-opted-in entry, got %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("expected creation time to be preserved")
	}
}

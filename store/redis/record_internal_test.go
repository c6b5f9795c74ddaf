package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/graniteshield/outbox/event"
)

func TestCreateArgsClaimKeyAndIndexTogether(t *testing.T) {
	rec := event.NewRecord(event.Draft{
		Action:         event.ActionSMSSend,
		Priority:       event.P1,
		Payload:        json.RawMessage(`{"to":"+12072103282","message":"hi"}`),
		IdempotencyKey: "lead-1",
	})
	m := toRecordModel(rec)

	keys, args := createArgs(m, []byte(`{}`))
	if len(keys) != 5 || len(args) != 5 {
		t.Fatalf("expected 5 keys and 5 args, got %d and %d", len(keys), len(args))
	}
	if keys[0] != idempotencyKey(m.Action, "lead-1") {
		t.Fatalf("expected idempotency key first, got %q", keys[0])
	}
	if keys[1] != entityKey(prefixRecord, m.ID) || keys[2] != zRecordAll {
		t.Fatalf("unexpected record keys: %v", keys)
	}
	if keys[3] != statusKey(string(event.StatusPending)) {
		t.Fatalf("expected pending status set, got %q", keys[3])
	}
	if args[0] != m.ID || args[4] != "" {
		t.Fatalf("expected id and empty due score for a pending record, got %v", args)
	}
}

func TestCreateArgsIndexesDueRetryable(t *testing.T) {
	rec := event.NewRecord(event.Draft{
		Action:         event.ActionSMSSend,
		Priority:       event.P2,
		Payload:        json.RawMessage(`{"to":"+12072103282","message":"hi"}`),
		IdempotencyKey: "lead-2",
	})
	rec.Status = event.StatusFailedRetryable
	rec.NextAttemptAt = time.Unix(1_800_000_000, 0)

	keys, args := createArgs(toRecordModel(rec), []byte(`{}`))
	if keys[4] != dueKey(event.P2.Rank()) {
		t.Fatalf("expected P2 due set, got %q", keys[4])
	}
	if args[4] == "" {
		t.Fatal("expected due score for a retryable record")
	}
}

package dispatch_test

import (
	"testing"
	"time"

	"github.com/graniteshield/outbox/dispatch"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
)

func TestDecide(t *testing.T) {
	r := dispatch.NewRetrier(0, 0, 0)

	tests := []struct {
		name     string
		res      handler.Result
		attempts int
		want     event.Status
	}{
		{"success", handler.Success("x"), 1, event.StatusSucceeded},
		{"success on last attempt", handler.Success("x"), 3, event.StatusSucceeded},
		{"retryable first attempt", handler.Retry("503"), 1, event.StatusFailedRetryable},
		{"retryable second attempt", handler.Retry("503"), 2, event.StatusFailedRetryable},
		{"retryable exhausted", handler.Retry("503"), 3, event.StatusFailedDead},
		{"permanent first attempt", handler.Fail("400"), 1, event.StatusFailedDead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &event.Record{AttemptCount: tt.attempts, MaxAttempts: event.MaxAttempts}
			if got := r.Decide(tt.res, rec); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDelayWithoutJitter(t *testing.T) {
	r := dispatch.NewRetrier(time.Second, -1, time.Minute)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if got := r.Delay(attempt); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, w, got)
		}
	}
	if got := r.Delay(20); got != time.Minute {
		t.Fatalf("expected delay capped at 1m, got %s", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	r := dispatch.NewRetrier(time.Second, 0.2, time.Hour)

	for range 200 {
		d := r.Delay(2)
		if d < 3200*time.Millisecond || d > 4800*time.Millisecond {
			t.Fatalf("delay %s outside 4s ± 20%%", d)
		}
	}
}

func TestDelayGrows(t *testing.T) {
	r := dispatch.NewRetrier(100*time.Millisecond, 0.2, time.Hour)

	// With 20% jitter, attempt n+2 is always later than attempt n.
	for attempt := range 6 {
		if a, b := r.Delay(attempt), r.Delay(attempt+2); b <= a {
			t.Fatalf("expected delay(%d)=%s > delay(%d)=%s", attempt+2, b, attempt, a)
		}
	}
}

func TestNextAttempt(t *testing.T) {
	r := dispatch.NewRetrier(time.Second, -1, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := r.NextAttempt(now, 1); !got.Equal(now.Add(2 * time.Second)) {
		t.Fatalf("expected now+2s, got %s", got)
	}
}

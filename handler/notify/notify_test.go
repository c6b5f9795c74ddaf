package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/handler/notify"
)

func record(payload string) *event.Record {
	return event.NewRecord(event.Draft{
		Action:   event.ActionInternalNotification,
		Priority: event.P1,
		Payload:  json.RawMessage(payload),
	})
}

func TestSendDeadLetterAlert(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Errorf("expected /emails, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer re_key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	h := notify.New(notify.Config{APIKey: "re_key", BaseURL: srv.URL})
	res := h.Handle(context.Background(), record(`{"type":"dead_letter_alert","firstName":"Dana","failedAction":"sms.send","attemptCount":3,"lastError":"openphone 503"}`))

	if !res.OK || res.ExternalID != "email_1" {
		t.Fatalf("expected success with email_1, got %+v", res)
	}
	to, _ := got["to"].([]any)
	if len(to) != 1 || to[0] != notify.DefaultTeamEmail {
		t.Fatalf("expected team recipient, got %v", got["to"])
	}
	if got["from"] != notify.DefaultFrom {
		t.Fatalf("unexpected from: %v", got["from"])
	}
	if !strings.Contains(got["subject"].(string), "DEAD LETTER") {
		t.Fatalf("unexpected subject: %v", got["subject"])
	}
	html := got["html"].(string)
	for _, want := range []string{"sms.send", "openphone 503", ">3<"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html missing %q: %s", want, html)
		}
	}
}

func TestRenderEscapes(t *testing.T) {
	msg, err := notify.Render(context.Background(), "GraniteShield", notify.Fields{
		"type":      notify.TypeNoShow,
		"firstName": "<script>",
		"phone":     "207-210-3282",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatal("expected field values to be escaped")
	}
	if !strings.Contains(msg.HTML, `href="tel:207-210-3282"`) {
		t.Fatalf("expected tel link, got %s", msg.HTML)
	}
}

func TestRenderCustomAndFallback(t *testing.T) {
	msg, err := notify.Render(context.Background(), "GraniteShield", notify.Fields{
		"type": "weekly_digest", "subject": "Digest", "body": "<b>hi</b>",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Digest" || msg.HTML != "<b>hi</b>" {
		t.Fatalf("expected custom subject and body, got %+v", msg)
	}

	msg, err = notify.Render(context.Background(), "GraniteShield", notify.Fields{"type": "mystery", "n": 1})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "GraniteShield Alert: mystery" {
		t.Fatalf("unexpected fallback subject %q", msg.Subject)
	}
	if !strings.HasPrefix(msg.HTML, "<pre>") {
		t.Fatalf("expected JSON dump, got %s", msg.HTML)
	}
}

func TestStaleQuoteSubject(t *testing.T) {
	msg, err := notify.Render(context.Background(), "GraniteShield", notify.Fields{
		"type": notify.TypeStaleQuote, "firstName": "Sam", "estimatedPrice": "21000",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Subject, "Sam") || !strings.Contains(msg.Subject, "$21000") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

func TestMissingType(t *testing.T) {
	res := notify.New(notify.Config{APIKey: "k"}).Handle(context.Background(), record(`{"subject":"x"}`))
	if res.Reason != handler.ReasonInvalidPayload || res.Retryable {
		t.Fatalf("expected invalid_payload, got %+v", res)
	}
}

func TestNotConfigured(t *testing.T) {
	res := notify.New(notify.Config{}).Handle(context.Background(), record(`{"type":"no_show_alert"}`))
	if res.Reason != handler.ReasonNotConfigured {
		t.Fatalf("expected not_configured, got %+v", res)
	}
	res = notify.New(notify.Config{Simulate: true}).Handle(context.Background(), record(`{"type":"no_show_alert"}`))
	if !res.OK {
		t.Fatalf("expected simulated success, got %+v", res)
	}
}

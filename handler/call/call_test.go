package call_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/handler/call"
)

func record(payload string) *event.Record {
	r := event.NewRecord(event.Draft{
		Action:   event.ActionCallInitiate,
		Priority: event.P0,
		Payload:  json.RawMessage(payload),
		Metadata: map[string]string{"contact_id": "ghl_c1", "opportunity_id": "ghl_o1"},
	})
	return r
}

func TestCallRequest(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls" {
			t.Errorf("expected /calls, got %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"status":"success","call_id":"call_9"}`))
	}))
	defer srv.Close()

	h := call.New(call.Config{APIKey: "bk", BaseURL: srv.URL, PathwayID: "pw_1"})
	rec := record(`{"phone":"207-210-3282","firstName":"Dana","lastName":"Reed","address":"12 Shore Rd","city":"Portland","estimatedPrice":18500,"financingIntent":"yes"}`)
	res := h.Handle(context.Background(), rec)

	if !res.OK || res.ExternalID != "call_9" {
		t.Fatalf("expected success with call_9, got %+v", res)
	}
	if body["phone_number"] != "+12072103282" {
		t.Fatalf("expected E.164 number, got %v", body["phone_number"])
	}
	if body["voice"] != "mason" || body["model"] != "enhanced" {
		t.Fatalf("unexpected voice/model: %v / %v", body["voice"], body["model"])
	}
	first, _ := body["first_sentence"].(string)
	if !strings.Contains(first, "Hi Dana") || !strings.Contains(first, "on 12 Shore Rd") {
		t.Fatalf("unexpected first sentence: %q", first)
	}
	task, _ := body["task"].(string)
	for _, want := range []string{"Dana Reed", "12 Shore Rd, Portland", "around $18500", "financing options", "(207) 210-3282"} {
		if !strings.Contains(task, want) {
			t.Fatalf("task missing %q:\n%s", want, task)
		}
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["contactId"] != "ghl_c1" || meta["eventId"] != rec.ID.String() {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	if body["pathway_id"] != "pw_1" {
		t.Fatalf("expected pathway_id, got %v", body["pathway_id"])
	}
}

func TestCallWithoutAddress(t *testing.T) {
	h := call.New(call.Config{})
	got := h.FirstSentence(call.Payload{FirstName: "Sam"})
	want := "Hi Sam, this is Alex from GraniteShield Roofing. I'm calling about the roof quote you just requested for your home. Do you have a quick minute?"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if strings.Contains(h.Task(call.Payload{FirstName: "Sam"}), "property is at") {
		t.Fatal("task should omit the address line")
	}
}

func TestCallMissingFirstName(t *testing.T) {
	h := call.New(call.Config{APIKey: "bk", BaseURL: "http://127.0.0.1:1"})
	res := h.Handle(context.Background(), record(`{"phone":"2072103282"}`))
	if res.OK || res.Retryable || res.Reason != handler.ReasonInvalidPayload {
		t.Fatalf("expected invalid_payload, got %+v", res)
	}
}

func TestCallServerErrorRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := call.New(call.Config{APIKey: "bk", BaseURL: srv.URL})
	res := h.Handle(context.Background(), record(`{"phone":"2072103282","firstName":"Dana"}`))
	if !res.Retryable {
		t.Fatalf("expected retryable, got %+v", res)
	}
}

func TestCallSimulated(t *testing.T) {
	h := call.New(call.Config{Simulate: true})
	res := h.Handle(context.Background(), record(`{"phone":"2072103282","firstName":"Dana"}`))
	if !res.OK || res.ExternalID != "simulated" {
		t.Fatalf("expected simulated success, got %+v", res)
	}
}

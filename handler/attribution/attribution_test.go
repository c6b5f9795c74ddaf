package attribution_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/handler/attribution"
)

type platforms struct {
	mu         sync.Mutex
	metaBody   map[string]any
	googleBody map[string]any
	metaCode   int
	googleCode int
	googleHits int
}

func (p *platforms) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		p.mu.Lock()
		defer p.mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/events"):
			if r.URL.Query().Get("access_token") != "meta-token" {
				t.Errorf("expected access_token query, got %q", r.URL.RawQuery)
			}
			p.metaBody = body
			w.WriteHeader(orOK(p.metaCode))
			w.Write([]byte(`{"events_received":1,"fbtrace_id":"trace_1"}`))
		case strings.HasSuffix(r.URL.Path, ":uploadClickConversions"):
			if r.Header.Get("developer-token") != "dev" || r.Header.Get("Authorization") != "Bearer oauth" {
				t.Errorf("missing google auth headers")
			}
			p.googleHits++
			p.googleBody = body
			w.WriteHeader(orOK(p.googleCode))
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func orOK(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

func config(url string) attribution.Config {
	return attribution.Config{
		MetaPixelID:              "px1",
		MetaAccessToken:          "meta-token",
		MetaBaseURL:              url,
		GoogleCustomerID:         "123",
		GoogleConversionActionID: "456",
		GoogleDeveloperToken:     "dev",
		GoogleOAuthToken:         "oauth",
		GoogleBaseURL:            url,
	}
}

func record(payload string) *event.Record {
	return event.NewRecord(event.Draft{
		Action:         event.ActionAttributionPurchase,
		Priority:       event.P2,
		Payload:        json.RawMessage(payload),
		IdempotencyKey: "won:opp_1",
	})
}

var fixed = time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

func TestBothPlatforms(t *testing.T) {
	p := &platforms{}
	srv := p.server(t)

	h := attribution.New(config(srv.URL), attribution.WithClock(func() time.Time { return fixed }))
	res := h.Handle(context.Background(), record(`{"opportunityId":"opp_1","email":" Dana@Example.com ","phone":"(207) 210-3282","firstName":"Dana","value":"18500.50","gclid":"g1","fbclid":"f1"}`))
	if !res.OK {
		t.Fatalf("expected success, got %+v", res)
	}

	data, _ := p.metaBody["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected one meta event, got %v", p.metaBody)
	}
	ev := data[0].(map[string]any)
	dedup := attribution.DedupID("won:opp_1")
	if ev["event_name"] != "Purchase" || ev["event_id"] != dedup {
		t.Fatalf("unexpected meta event: %v", ev)
	}
	ud := ev["user_data"].(map[string]any)
	em := ud["em"].([]any)
	if em[0] != attribution.Hash("dana@example.com") {
		t.Fatalf("expected normalized email hash, got %v", em[0])
	}
	ph := ud["ph"].([]any)
	if ph[0] != attribution.Hash("12072103282") {
		t.Fatalf("expected phone hash of 12072103282, got %v", ph[0])
	}
	if !strings.HasPrefix(ud["fbc"].(string), "fb.1.") || !strings.HasSuffix(ud["fbc"].(string), ".f1") {
		t.Fatalf("unexpected fbc: %v", ud["fbc"])
	}
	cd := ev["custom_data"].(map[string]any)
	if cd["value"] != 18500.5 || cd["currency"] != "USD" {
		t.Fatalf("unexpected custom data: %v", cd)
	}

	convs := p.googleBody["conversions"].([]any)
	conv := convs[0].(map[string]any)
	if conv["orderId"] != dedup {
		t.Fatalf("expected order id %s, got %v", dedup, conv["orderId"])
	}
	if conv["conversionDateTime"] != "2026-03-04 15:30:00+00:00" {
		t.Fatalf("unexpected conversion time: %v", conv["conversionDateTime"])
	}
	if conv["conversionAction"] != "customers/123/conversionActions/456" {
		t.Fatalf("unexpected conversion action: %v", conv["conversionAction"])
	}
}

func TestGoogleSkippedWithoutGCLID(t *testing.T) {
	p := &platforms{}
	srv := p.server(t)

	h := attribution.New(config(srv.URL))
	res := h.Handle(context.Background(), record(`{"email":"a@b.co","value":100}`))
	if !res.OK {
		t.Fatalf("expected success from meta alone, got %+v", res)
	}
	if p.googleHits != 0 {
		t.Fatalf("expected google skipped, got %d hits", p.googleHits)
	}
}

func TestOnePlatformSuccessIsSuccess(t *testing.T) {
	p := &platforms{metaCode: http.StatusServiceUnavailable}
	srv := p.server(t)

	h := attribution.New(config(srv.URL))
	res := h.Handle(context.Background(), record(`{"email":"a@b.co","value":100,"gclid":"g"}`))
	if !res.OK {
		t.Fatalf("expected success when google accepted, got %+v", res)
	}
}

func TestAllFailedRetryable(t *testing.T) {
	p := &platforms{metaCode: http.StatusBadRequest, googleCode: http.StatusInternalServerError}
	srv := p.server(t)

	h := attribution.New(config(srv.URL))
	res := h.Handle(context.Background(), record(`{"email":"a@b.co","value":100,"gclid":"g"}`))
	if res.OK || !res.Retryable {
		t.Fatalf("expected retryable when any failure is retryable, got %+v", res)
	}
}

func TestAllFailedPermanent(t *testing.T) {
	p := &platforms{metaCode: http.StatusBadRequest, googleCode: http.StatusForbidden}
	srv := p.server(t)

	h := attribution.New(config(srv.URL))
	res := h.Handle(context.Background(), record(`{"email":"a@b.co","value":100,"gclid":"g"}`))
	if res.OK || res.Retryable {
		t.Fatalf("expected permanent failure, got %+v", res)
	}
}

func TestMissingIdentity(t *testing.T) {
	h := attribution.New(attribution.Config{})
	res := h.Handle(context.Background(), record(`{"value":100}`))
	if res.Reason != handler.ReasonInvalidPayload || res.Retryable {
		t.Fatalf("expected invalid_payload, got %+v", res)
	}
}

func TestNotConfigured(t *testing.T) {
	res := attribution.New(attribution.Config{}).Handle(context.Background(), record(`{"email":"a@b.co"}`))
	if res.Reason != handler.ReasonNotConfigured {
		t.Fatalf("expected not_configured, got %+v", res)
	}

	res = attribution.New(attribution.Config{Simulate: true}).Handle(context.Background(), record(`{"email":"a@b.co"}`))
	if !res.OK {
		t.Fatalf("expected simulated success, got %+v", res)
	}
}

func TestDedupIDStable(t *testing.T) {
	if attribution.DedupID("k") != attribution.DedupID("k") {
		t.Fatal("expected stable dedup id")
	}
	if attribution.DedupID("k1") == attribution.DedupID("k2") {
		t.Fatal("expected distinct dedup ids")
	}
}

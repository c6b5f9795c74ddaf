package api

import (
	"context"
	"net/http"
	"time"

	"github.com/graniteshield/outbox"
)

// Health check values.
const (
	checkConfigured = "configured"
	checkMissing    = "missing"
	checkOK         = "ok"
	checkFailing    = "failing"
)

// HealthResponse reports configuration and store reachability.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Endpoints map[string]string `json:"endpoints"`
}

func configured(ok bool) string {
	if ok {
		return checkConfigured
	}
	return checkMissing
}

// health builds the health report. The service is degraded when any
// provider credential is missing or the store cannot be read.
func health(ctx context.Context, o *outbox.Outbox) HealthResponse {
	cfg := o.Config()
	checks := map[string]string{
		"ghl_webhook_secret": configured(cfg.WebhookSecret != ""),
		"openphone_api_key":  configured(cfg.SMS.APIKey != ""),
		"bland_ai_api_key":   configured(cfg.Call.APIKey != ""),
		"resend_api_key":     configured(cfg.Notify.APIKey != ""),
		"meta_capi":          configured(cfg.Attribution.MetaPixelID != "" && cfg.Attribution.MetaAccessToken != ""),
		"google_ads": configured(cfg.Attribution.GoogleCustomerID != "" &&
			cfg.Attribution.GoogleDeveloperToken != "" && cfg.Attribution.GoogleOAuthToken != ""),
		"store": checkOK,
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := o.Store().Ping(ctx); err != nil {
		checks["store"] = checkFailing
	}

	status := "healthy"
	for _, v := range checks {
		if v != checkConfigured && v != checkOK {
			status = "degraded"
			break
		}
	}

	return HealthResponse{
		Status:    status,
		Service:   "GraniteShield Lead Engine",
		Timestamp: time.Now().UTC(),
		Checks:    checks,
		Endpoints: map[string]string{
			"automation": "/v1/automation",
			"health":     "/v1/health",
			"smsOptOut":  "/v1/sms/opt-out",
		},
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health(r.Context(), h.outbox))
}

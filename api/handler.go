// Package api provides the HTTP surface of the outbox: the CRM automation
// webhook, the inbound SMS keyword endpoint, health, and the admin routes for
// records, the dead letter queue, sweeps and stats.
//
// All routes live under /v1. Admin routes under /v1/outbox require either the
// webhook secret header or an HMAC signature over the request body.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/signature"
)

// Request headers.
const (
	HeaderWebhookSecret  = "X-GHL-Webhook-Secret"
	HeaderSignature      = "X-Outbox-Signature"
	HeaderTimestamp      = "X-Outbox-Timestamp"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// SignatureTolerance is how far a signed request's timestamp may drift from
// the server clock.
const SignatureTolerance = 5 * time.Minute

// Handler is the root HTTP handler.
type Handler struct {
	outbox *outbox.Outbox
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a handler serving o.
func NewHandler(o *outbox.Outbox, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		outbox: o,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// CRM webhook
	h.mux.HandleFunc("POST /v1/automation", h.automation)
	h.mux.HandleFunc("GET /v1/automation", h.automationHealth)

	// Inbound SMS keywords
	h.mux.HandleFunc("POST /v1/sms/opt-out", h.optOut)

	h.mux.HandleFunc("GET /v1/health", h.health)

	// Records
	h.mux.Handle("GET /v1/outbox/events", h.admin(h.listRecords))
	h.mux.Handle("GET /v1/outbox/events/{id}", h.admin(h.getRecord))

	// DLQ
	h.mux.Handle("GET /v1/outbox/dlq", h.admin(h.listDLQ))
	h.mux.Handle("GET /v1/outbox/dlq/{id}", h.admin(h.getDLQ))
	h.mux.Handle("POST /v1/outbox/dlq/{id}/replay", h.admin(h.replayDLQ))
	h.mux.Handle("POST /v1/outbox/dlq/replay", h.admin(h.replayBulkDLQ))

	h.mux.Handle("POST /v1/outbox/sweep", h.admin(h.sweep))
	h.mux.Handle("GET /v1/outbox/stats", h.admin(h.getStats))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// admin guards operator routes. A request passes with the webhook secret
// header, or with a timestamped HMAC signature of its body.
func (h *Handler) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.authorizeAdmin(r); err != nil {
			h.logger.Warn("admin request rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (h *Handler) authorizeAdmin(r *http.Request) error {
	if secret := r.Header.Get(HeaderWebhookSecret); secret != "" {
		return h.outbox.Authorize(secret)
	}

	sig := r.Header.Get(HeaderSignature)
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if sig == "" || err != nil {
		return outbox.ErrUnauthorized
	}
	body, err := readBody(r)
	if err != nil {
		return err
	}
	secret := h.outbox.Config().WebhookSecret
	if secret == "" || !signature.Verify(body, secret, ts, sig, time.Now(), SignatureTolerance) {
		return outbox.ErrUnauthorized
	}
	return nil
}

// readBody reads the request body and restores it for the next reader.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}

// writeStoreError maps outbox sentinel errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, outbox.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, outbox.ErrNotDeadLettered),
		errors.Is(err, outbox.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, outbox.ErrInvalidDraft),
		errors.Is(err, outbox.ErrPayloadValidationFailed),
		errors.Is(err, outbox.ErrHandlerNotRegistered):
		return http.StatusBadRequest
	case errors.Is(err, outbox.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}

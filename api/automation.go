package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/scope"
)

// AutomationRequest is the CRM workflow webhook body.
type AutomationRequest struct {
	Action         string              `json:"action"                   validate:"required"`
	Priority       string              `json:"priority"                 validate:"required"`
	ContactID      string              `json:"contactId"                validate:"required"`
	OpportunityID  string              `json:"opportunityId,omitempty"`
	PipelineID     string              `json:"pipelineId,omitempty"`
	StageID        string              `json:"stageId,omitempty"`
	IdempotencyKey string              `json:"idempotencyKey,omitempty"`
	Data           map[string]any      `json:"data"                     validate:"required"`
	Metadata       *AutomationMetadata `json:"metadata"                 validate:"required"`
}

// AutomationMetadata describes the workflow that fired the webhook.
type AutomationMetadata struct {
	WorkflowName string `json:"workflowName"            validate:"required"`
	TriggeredAt  string `json:"triggeredAt,omitempty"`
	LocationID   string `json:"ghlLocationId,omitempty"`
}

// AutomationResponse acknowledges an accepted webhook.
type AutomationResponse struct {
	Status       string         `json:"status"`
	EventID      string         `json:"eventId"`
	Action       event.Action   `json:"action"`
	Priority     event.Priority `json:"priority"`
	RecordStatus event.Status   `json:"recordStatus"`
	Duplicate    bool           `json:"duplicate"`
	Warning      string         `json:"warning,omitempty"`
	RequestID    string         `json:"requestId"`
}

// AutomationHealth is returned by GET /v1/automation.
type AutomationHealth struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Timestamp time.Time      `json:"timestamp"`
	Actions   []event.Action `json:"actions"`
}

var (
	requestValidateOnce sync.Once
	requestValidate     *validator.Validate
)

func requestValidator() *validator.Validate {
	requestValidateOnce.Do(func() {
		requestValidate = validator.New(validator.WithRequiredStructEnabled())
		requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			return name
		})
	})
	return requestValidate
}

// draft validates the request and converts it into a draft and the source
// to stamp on the record. headerKey is used when the body has no key.
func (req *AutomationRequest) draft(headerKey, requestID string) (event.Draft, scope.Source, error) {
	if err := requestValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return event.Draft{}, scope.Source{}, fmt.Errorf("%w: missing or invalid %q field",
				outbox.ErrInvalidDraft, fieldPath(verrs[0].Namespace()))
		}
		return event.Draft{}, scope.Source{}, fmt.Errorf("%w: %v", outbox.ErrInvalidDraft, err)
	}

	action, err := event.ParseAction(req.Action)
	if err != nil {
		return event.Draft{}, scope.Source{}, fmt.Errorf("%w: %v", outbox.ErrInvalidDraft, err)
	}
	priority, err := event.ParsePriority(req.Priority)
	if err != nil {
		return event.Draft{}, scope.Source{}, fmt.Errorf("%w: %v", outbox.ErrInvalidDraft, err)
	}

	// Handlers look for contact and opportunity inside the payload.
	data := make(map[string]any, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	if _, ok := data["contactId"]; !ok {
		data["contactId"] = req.ContactID
	}
	if _, ok := data["opportunityId"]; !ok && req.OpportunityID != "" {
		data["opportunityId"] = req.OpportunityID
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return event.Draft{}, scope.Source{}, fmt.Errorf("%w: %v", outbox.ErrInvalidDraft, err)
	}

	src := scope.Source{
		ContactID:     req.ContactID,
		OpportunityID: req.OpportunityID,
		PipelineID:    req.PipelineID,
		StageID:       req.StageID,
		WorkflowName:  req.Metadata.WorkflowName,
		LocationID:    req.Metadata.LocationID,
		RequestID:     requestID,
	}
	if t, err := time.Parse(time.RFC3339, req.Metadata.TriggeredAt); err == nil {
		src.TriggeredAt = t
	}

	key := req.IdempotencyKey
	if key == "" {
		key = headerKey
	}

	return event.Draft{
		Action:         action,
		Priority:       priority,
		Payload:        payload,
		IdempotencyKey: key,
	}, src, nil
}

// fieldPath turns "AutomationRequest.metadata.workflowName" into
// "metadata.workflowName".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func newRequestID() string {
	return id.NewRequestID().String()
}

func acceptedResponse(rec *event.Record, created bool, requestID string) AutomationResponse {
	resp := AutomationResponse{
		Status:       "enqueued",
		EventID:      rec.ID.String(),
		Action:       rec.Action,
		Priority:     rec.Priority,
		RecordStatus: rec.Status,
		Duplicate:    !created,
		RequestID:    requestID,
	}
	// The CRM must not retry; the outbox owns retries.
	if rec.Status == event.StatusFailedRetryable || rec.Status == event.StatusFailedDead {
		resp.Warning = rec.LastError
	}
	return resp
}

func automationHealth() AutomationHealth {
	return AutomationHealth{
		Status:    "healthy",
		Service:   "GraniteShield Automation Webhook",
		Timestamp: time.Now().UTC(),
		Actions:   event.Actions(),
	}
}

func (h *Handler) automation(w http.ResponseWriter, r *http.Request) {
	requestID := newRequestID()

	if err := h.outbox.Authorize(r.Header.Get(HeaderWebhookSecret)); err != nil {
		h.logger.Warn("webhook auth failed", "request_id", requestID)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"status": "error", "error": "invalid webhook secret", "requestId": requestID,
		})
		return
	}

	var req AutomationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "error": "invalid JSON body", "requestId": requestID,
		})
		return
	}

	draft, src, err := req.draft(r.Header.Get(HeaderIdempotencyKey), requestID)
	if err != nil {
		h.logger.Warn("webhook rejected", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "error": err.Error(), "requestId": requestID,
		})
		return
	}

	ctx := scope.WithSource(r.Context(), src)
	h.logger.InfoContext(ctx, "webhook accepted",
		"request_id", requestID,
		"action", draft.Action.String(),
		"priority", string(draft.Priority),
		"contact_id", src.ContactID,
		"workflow", src.WorkflowName,
	)

	rec, created, err := h.outbox.Enqueue(ctx, draft)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "enqueue failed", "request_id", requestID, "error", err)
		}
		writeJSON(w, status, map[string]string{
			"status": "error", "error": err.Error(), "requestId": requestID,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, acceptedResponse(rec, created, requestID))
}

func (h *Handler) automationHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, automationHealth())
}

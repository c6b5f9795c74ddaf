// Package sms sends text messages through the OpenPhone messages API.
//
// Every send honours the opt-out registry: a recipient who replied STOP is
// never messaged again, except for the compliance confirmation that answers
// the STOP itself.
package sms

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/internal/phone"
	"github.com/graniteshield/outbox/ratelimit"
)

// DefaultBaseURL is the OpenPhone API root.
const DefaultBaseURL = "https://api.openphone.com/v1"

const provider = "openphone"

// ReasonInvalidPhone is reported for a recipient that is not a dialable number.
const ReasonInvalidPhone = "invalid_phone"

// MetadataCompliance marks a record as the confirmation that answers an
// inbound STOP/HELP/START. Only the inbound keyword path sets it; payload
// fields never lift the opt-out check.
const MetadataCompliance = "sms_compliance"

// OptOuts is the subset of the opt-out registry the handler needs.
type OptOuts interface {
	IsOptedOut(ctx context.Context, phone string) (bool, error)
	MarkOptedOut(ctx context.Context, phone, signal string) error
}

// Config holds OpenPhone credentials.
type Config struct {
	APIKey        string `json:"api_key"         yaml:"api_key"         mapstructure:"api_key"`
	PhoneNumberID string `json:"phone_number_id" yaml:"phone_number_id" mapstructure:"phone_number_id"`
	BaseURL       string `json:"base_url"        yaml:"base_url"        mapstructure:"base_url"`

	// RatePerSecond caps outbound sends. Zero disables throttling.
	RatePerSecond int `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`

	// Simulate logs sends instead of failing when no API key is configured.
	Simulate bool `json:"simulate" yaml:"simulate" mapstructure:"simulate"`
}

// Payload is the sms.send record payload.
type Payload struct {
	To        string `json:"to,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Message   string `json:"message"`
	ContactID string `json:"contactId,omitempty"`
}

// Recipient returns the destination number, preferring To.
func (p Payload) Recipient() string {
	if p.To != "" {
		return p.To
	}
	return p.Phone
}

type sendRequest struct {
	Content string   `json:"content"`
	To      []string `json:"to"`
	From    string   `json:"from"`
}

type sendResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithOptOuts sets the opt-out registry.
func WithOptOuts(o OptOuts) Option { return func(h *Handler) { h.optouts = o } }

// WithLimiter sets the shared outbound limiter.
func WithLimiter(l *ratelimit.Limiter) Option { return func(h *Handler) { h.limiter = l } }

// WithClient sets the HTTP client.
func WithClient(c *handler.Client) Option { return func(h *Handler) { h.client = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// Handler implements handler.Handler for sms.send.
type Handler struct {
	cfg     Config
	client  *handler.Client
	optouts OptOuts
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

// New creates an SMS handler.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	h := &Handler{
		cfg:    cfg,
		client: handler.NewClient(30 * time.Second),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle sends one message.
func (h *Handler) Handle(ctx context.Context, rec *event.Record) handler.Result {
	var p Payload
	if err := rec.DecodePayload(&p); err != nil {
		return handler.Fail(handler.ReasonInvalidPayload)
	}
	if p.Recipient() == "" || strings.TrimSpace(p.Message) == "" {
		return handler.Fail(handler.ReasonInvalidPayload)
	}

	to, err := phone.E164(p.Recipient())
	if err != nil {
		return handler.Fail(ReasonInvalidPhone)
	}

	if !IsCompliance(rec) && h.optouts != nil {
		optedOut, err := h.optouts.IsOptedOut(ctx, to)
		if err != nil {
			return handler.Retry("opt-out lookup failed: " + err.Error())
		}
		if optedOut {
			h.logger.InfoContext(ctx, "sms suppressed for opted-out recipient",
				"event_id", rec.ID.String(), "phone", to)
			return handler.Fail(handler.ReasonOptedOut)
		}
	}

	if h.cfg.APIKey == "" {
		if h.cfg.Simulate {
			h.logger.WarnContext(ctx, "openphone not configured, simulating sms",
				"event_id", rec.ID.String(), "phone", to, "message", p.Message)
			return handler.Success("simulated")
		}
		return handler.Fail(handler.ReasonNotConfigured)
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, provider, h.cfg.RatePerSecond); err != nil {
			return handler.Retry(handler.ReasonTimeout)
		}
	}

	resp, err := h.client.PostJSON(ctx, h.cfg.BaseURL+"/messages",
		map[string]string{"Authorization": h.cfg.APIKey},
		sendRequest{Content: p.Message, To: []string{to}, From: h.cfg.PhoneNumberID},
	)
	res := handler.Classify(provider, resp, err)
	if !res.OK {
		if resp != nil && !res.Retryable && mentionsOptOut(resp.Body) {
			if h.optouts != nil {
				if merr := h.optouts.MarkOptedOut(ctx, to, "provider"); merr != nil {
					h.logger.WarnContext(ctx, "failed to record provider opt-out",
						"phone", to, "error", merr)
				}
			}
			return handler.Fail(handler.ReasonOptedOut)
		}
		return res
	}

	var out sendResponse
	_ = json.Unmarshal(resp.Body, &out)
	h.logger.InfoContext(ctx, "sms sent",
		"event_id", rec.ID.String(), "phone", to, "message_id", out.Data.ID)
	return handler.Success(out.Data.ID)
}

// IsCompliance reports whether rec is a compliance confirmation.
func IsCompliance(rec *event.Record) bool {
	return rec.Metadata[MetadataCompliance] == "true"
}

func mentionsOptOut(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "opted out") ||
		strings.Contains(s, "opt-out") ||
		strings.Contains(s, "opted-out") ||
		strings.Contains(s, "unsubscribed")
}

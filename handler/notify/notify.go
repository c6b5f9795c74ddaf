// Package notify emails the internal team through the Resend API: no-show
// and stale-quote alerts from the CRM, and dead-letter alerts raised by the
// dispatcher itself.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/ratelimit"
)

// DefaultBaseURL is the Resend API root.
const DefaultBaseURL = "https://api.resend.com"

// Default addresses.
const (
	DefaultTeamEmail = "justin@graniteshieldroofing.com"
	DefaultFrom      = "GraniteShield System <system@graniteshieldroofing.com>"
)

const provider = "resend"

// Config holds Resend credentials and the fixed recipient.
type Config struct {
	APIKey    string `json:"api_key"    yaml:"api_key"    mapstructure:"api_key"`
	TeamEmail string `json:"team_email" yaml:"team_email" mapstructure:"team_email"`
	From      string `json:"from"       yaml:"from"       mapstructure:"from"`
	BaseURL   string `json:"base_url"   yaml:"base_url"   mapstructure:"base_url"`
	Brand     string `json:"brand"      yaml:"brand"      mapstructure:"brand"`

	RatePerSecond int  `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Simulate      bool `json:"simulate"        yaml:"simulate"        mapstructure:"simulate"`
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type emailResponse struct {
	ID string `json:"id"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithLimiter sets the shared outbound limiter.
func WithLimiter(l *ratelimit.Limiter) Option { return func(h *Handler) { h.limiter = l } }

// WithClient sets the HTTP client.
func WithClient(c *handler.Client) Option { return func(h *Handler) { h.client = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// Handler implements handler.Handler for internal.notification.
type Handler struct {
	cfg     Config
	client  *handler.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

// New creates a notification handler.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TeamEmail == "" {
		cfg.TeamEmail = DefaultTeamEmail
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.Brand == "" {
		cfg.Brand = "GraniteShield"
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

// Handle renders and sends one team email.
func (h *Handler) Handle(ctx context.Context, rec *event.Record) handler.Result {
	var f Fields
	dec := json.NewDecoder(bytes.NewReader(rec.Payload))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil || f.Get("type") == "" {
		return handler.Fail(handler.ReasonInvalidPayload)
	}

	msg, err := Render(ctx, h.cfg.Brand, f)
	if err != nil {
		return handler.Fail(handler.ReasonInvalidPayload)
	}

	if h.cfg.APIKey == "" {
		if h.cfg.Simulate {
			h.logger.WarnContext(ctx, "resend not configured, simulating notification",
				"event_id", rec.ID.String(), "subject", msg.Subject)
			return handler.Success("simulated")
		}
		return handler.Fail(handler.ReasonNotConfigured)
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, provider, h.cfg.RatePerSecond); err != nil {
			return handler.Retry(handler.ReasonTimeout)
		}
	}

	resp, err := h.client.PostJSON(ctx, h.cfg.BaseURL+"/emails",
		map[string]string{"Authorization": "Bearer " + h.cfg.APIKey},
		emailRequest{From: h.cfg.From, To: []string{h.cfg.TeamEmail}, Subject: msg.Subject, HTML: msg.HTML},
	)
	res := handler.Classify(provider, resp, err)
	if !res.OK {
		return res
	}

	var out emailResponse
	_ = json.Unmarshal(resp.Body, &out)
	h.logger.InfoContext(ctx, "notification sent",
		"event_id", rec.ID.String(), "subject", msg.Subject, "email_id", out.ID)
	return handler.Success(out.ID)
}

// Package call starts AI voice calls to new leads through the Bland API.
//
// A successful result means the provider accepted the call request, not that
// the lead picked up.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/internal/phone"
	"github.com/graniteshield/outbox/ratelimit"
)

// DefaultBaseURL is the Bland API root.
const DefaultBaseURL = "https://api.bland.ai/v1"

const provider = "bland"

// Config holds Bland credentials and call settings.
type Config struct {
	APIKey    string `json:"api_key"    yaml:"api_key"    mapstructure:"api_key"`
	PathwayID string `json:"pathway_id" yaml:"pathway_id" mapstructure:"pathway_id"`
	BaseURL   string `json:"base_url"   yaml:"base_url"   mapstructure:"base_url"`

	Voice         string `json:"voice"          yaml:"voice"          mapstructure:"voice"`
	Model         string `json:"model"          yaml:"model"          mapstructure:"model"`
	MaxDuration   int    `json:"max_duration"   yaml:"max_duration"   mapstructure:"max_duration"`
	Company       string `json:"company"        yaml:"company"        mapstructure:"company"`
	Agent         string `json:"agent"          yaml:"agent"          mapstructure:"agent"`
	CallbackPhone string `json:"callback_phone" yaml:"callback_phone" mapstructure:"callback_phone"`

	RatePerSecond int  `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Simulate      bool `json:"simulate"        yaml:"simulate"        mapstructure:"simulate"`
}

// Payload is the call.initiate record payload. Numeric quote fields arrive
// either as strings or numbers from the CRM, so they are kept loose.
type Payload struct {
	Phone            string `json:"phone"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Address          string `json:"address"`
	City             string `json:"city"`
	SelectedMaterial string `json:"selectedMaterial"`
	EstimatedPrice   Loose  `json:"estimatedPrice"`
	RoofArea         Loose  `json:"roofArea"`
	FinancingIntent  Loose  `json:"financingIntent"`
	ContactID        string `json:"contactId"`
	OpportunityID    string `json:"opportunityId"`
}

// Loose is a JSON scalar decoded as its text form.
type Loose string

// UnmarshalJSON accepts strings, numbers and booleans.
func (l *Loose) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = Loose(s)
		return nil
	}
	if string(b) == "null" {
		*l = ""
		return nil
	}
	*l = Loose(strings.TrimSpace(string(b)))
	return nil
}

type callRequest struct {
	PhoneNumber     string            `json:"phone_number"`
	Task            string            `json:"task"`
	Voice           string            `json:"voice"`
	ReduceLatency   bool              `json:"reduce_latency"`
	WaitForGreeting bool              `json:"wait_for_greeting"`
	FirstSentence   string            `json:"first_sentence"`
	Model           string            `json:"model"`
	MaxDuration     int               `json:"max_duration"`
	Record          bool              `json:"record"`
	Metadata        map[string]string `json:"metadata"`
	PathwayID       string            `json:"pathway_id,omitempty"`
	PathwayParams   map[string]string `json:"pathway_params,omitempty"`
}

type callResponse struct {
	Status string `json:"status"`
	CallID string `json:"call_id"`
}

// Option configures a Handler.
type Option func(*Handler)

// WithLimiter sets the shared outbound limiter.
func WithLimiter(l *ratelimit.Limiter) Option { return func(h *Handler) { h.limiter = l } }

// WithClient sets the HTTP client.
func WithClient(c *handler.Client) Option { return func(h *Handler) { h.client = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// Handler implements handler.Handler for call.initiate.
type Handler struct {
	cfg     Config
	client  *handler.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

// New creates a call handler, filling unset call settings with defaults.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = "mason"
	}
	if cfg.Model == "" {
		cfg.Model = "enhanced"
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 5
	}
	if cfg.Company == "" {
		cfg.Company = "GraniteShield Roofing"
	}
	if cfg.Agent == "" {
		cfg.Agent = "Alex"
	}
	if cfg.CallbackPhone == "" {
		cfg.CallbackPhone = "(207) 210-3282"
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

// Handle requests one outbound call.
func (h *Handler) Handle(ctx context.Context, rec *event.Record) handler.Result {
	var p Payload
	if err := rec.DecodePayload(&p); err != nil {
		return handler.Fail(handler.ReasonInvalidPayload)
	}
	if p.Phone == "" || strings.TrimSpace(p.FirstName) == "" {
		return handler.Fail(handler.ReasonInvalidPayload)
	}
	to, err := phone.E164(p.Phone)
	if err != nil {
		return handler.Fail("invalid_phone")
	}

	if h.cfg.APIKey == "" {
		if h.cfg.Simulate {
			h.logger.WarnContext(ctx, "bland not configured, simulating call",
				"event_id", rec.ID.String(), "phone", to, "first_name", p.FirstName)
			return handler.Success("simulated")
		}
		return handler.Fail(handler.ReasonNotConfigured)
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, provider, h.cfg.RatePerSecond); err != nil {
			return handler.Retry(handler.ReasonTimeout)
		}
	}

	resp, err := h.client.PostJSON(ctx, h.cfg.BaseURL+"/calls",
		map[string]string{"Authorization": h.cfg.APIKey},
		h.buildRequest(rec, to, p),
	)
	res := handler.Classify(provider, resp, err)
	if !res.OK {
		return res
	}

	var out callResponse
	_ = json.Unmarshal(resp.Body, &out)
	h.logger.InfoContext(ctx, "call initiated",
		"event_id", rec.ID.String(), "phone", to, "call_id", out.CallID)
	return handler.Success(out.CallID)
}

// buildRequest assembles the provider request for a normalized number.
func (h *Handler) buildRequest(rec *event.Record, to string, p Payload) callRequest {
	req := callRequest{
		PhoneNumber:     to,
		Task:            h.Task(p),
		Voice:           h.cfg.Voice,
		ReduceLatency:   true,
		WaitForGreeting: true,
		FirstSentence:   h.FirstSentence(p),
		Model:           h.cfg.Model,
		MaxDuration:     h.cfg.MaxDuration,
		Record:          true,
		Metadata: map[string]string{
			"contactId":     firstNonEmpty(p.ContactID, rec.Metadata["contact_id"]),
			"opportunityId": firstNonEmpty(p.OpportunityID, rec.Metadata["opportunity_id"]),
			"eventId":       rec.ID.String(),
		},
	}
	if h.cfg.PathwayID != "" {
		req.PathwayID = h.cfg.PathwayID
		req.PathwayParams = map[string]string{
			"firstName":        p.FirstName,
			"lastName":         p.LastName,
			"address":          p.Address,
			"city":             p.City,
			"estimatedPrice":   string(p.EstimatedPrice),
			"selectedMaterial": p.SelectedMaterial,
			"roofArea":         string(p.RoofArea),
			"financingIntent":  string(p.FinancingIntent),
		}
	}
	return req
}

// FirstSentence is the agent's opening line.
func (h *Handler) FirstSentence(p Payload) string {
	where := ""
	if p.Address != "" {
		where = " on " + p.Address
	}
	return fmt.Sprintf("Hi %s, this is %s from %s. I'm calling about the roof quote you just requested for your home%s. Do you have a quick minute?",
		p.FirstName, h.cfg.Agent, h.cfg.Company, where)
}

// Task is the agent's instructions for one lead.
func (h *Handler) Task(p Payload) string {
	name := p.FirstName
	if p.LastName != "" {
		name += " " + p.LastName
	}

	lines := []string{
		fmt.Sprintf("You are %s, a friendly and professional sales representative for %s, a premium roofing company in Maine.", h.cfg.Agent, h.cfg.Company),
		fmt.Sprintf("You are calling %s who just submitted a quote request on the %s website.", name, strings.Fields(h.cfg.Company)[0]),
	}
	if p.Address != "" {
		addr := p.Address
		if p.City != "" {
			addr += ", " + p.City
		}
		lines = append(lines, fmt.Sprintf("Their property is at %s.", addr))
	}
	if p.SelectedMaterial != "" {
		lines = append(lines, fmt.Sprintf("They are interested in %s roofing.", p.SelectedMaterial))
	}
	if p.EstimatedPrice != "" {
		lines = append(lines, fmt.Sprintf("Their estimated quote is around $%s.", p.EstimatedPrice))
	}
	if p.RoofArea != "" {
		lines = append(lines, fmt.Sprintf("The estimated roof area is %s square feet.", p.RoofArea))
	}
	switch strings.ToLower(string(p.FinancingIntent)) {
	case "true", "yes":
		lines = append(lines, "They expressed interest in financing options.")
	}

	lines = append(lines,
		"Your goal is to:",
		"1. Confirm they received their quote and answer any immediate questions.",
		"2. Schedule a free in-person roof inspection at their convenience.",
		fmt.Sprintf("3. If they mention financing, let them know %s offers flexible monthly payment plans.", strings.Fields(h.cfg.Company)[0]),
		"4. Be warm, professional, and never pushy. If they are busy, offer to call back at a better time.",
		"5. End the call by confirming any next steps.",
		"",
		"Important: Never make up information. If you don't know something, say you'll have a specialist follow up.",
		fmt.Sprintf("The business phone number is %s if they want to call back.", h.cfg.CallbackPhone),
	)
	return strings.Join(lines, "\n")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

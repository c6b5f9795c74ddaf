// Package attribution reports won deals back to the ad platforms so campaign
// optimization sees real revenue: a Purchase event to the Meta Conversions
// API and a click conversion upload to Google Ads.
//
// Both platforms are called concurrently. The record succeeds when at least
// one platform accepted the conversion. Platform-side deduplication keys are
// derived from the record's idempotency key, so a retried record never
// double-counts revenue.
package attribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
	"github.com/graniteshield/outbox/internal/phone"
	"github.com/graniteshield/outbox/ratelimit"
)

// Default API roots.
const (
	DefaultMetaBaseURL   = "https://graph.facebook.com/v19.0"
	DefaultGoogleBaseURL = "https://googleads.googleapis.com/v16"
)

// Config holds ad-platform credentials.
type Config struct {
	MetaPixelID     string `json:"meta_pixel_id"     yaml:"meta_pixel_id"     mapstructure:"meta_pixel_id"`
	MetaAccessToken string `json:"meta_access_token" yaml:"meta_access_token" mapstructure:"meta_access_token"`
	MetaBaseURL     string `json:"meta_base_url"     yaml:"meta_base_url"     mapstructure:"meta_base_url"`

	GoogleCustomerID         string `json:"google_customer_id"          yaml:"google_customer_id"          mapstructure:"google_customer_id"`
	GoogleConversionActionID string `json:"google_conversion_action_id" yaml:"google_conversion_action_id" mapstructure:"google_conversion_action_id"`
	GoogleDeveloperToken     string `json:"google_developer_token"      yaml:"google_developer_token"      mapstructure:"google_developer_token"`
	GoogleOAuthToken         string `json:"google_oauth_token"          yaml:"google_oauth_token"          mapstructure:"google_oauth_token"`
	GoogleBaseURL            string `json:"google_base_url"             yaml:"google_base_url"             mapstructure:"google_base_url"`

	// Region is the two-letter state hashed into Meta user data.
	Region string `json:"region" yaml:"region" mapstructure:"region"`

	RatePerSecond int  `json:"rate_per_second" yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Simulate      bool `json:"simulate"        yaml:"simulate"        mapstructure:"simulate"`
}

func (c Config) metaConfigured() bool {
	return c.MetaPixelID != "" && c.MetaAccessToken != ""
}

func (c Config) googleConfigured() bool {
	return c.GoogleCustomerID != "" && c.GoogleDeveloperToken != "" && c.GoogleConversionActionID != ""
}

// Payload is the attribution.purchase_event record payload.
type Payload struct {
	OpportunityID string          `json:"opportunityId"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone"`
	FirstName     string          `json:"firstName"`
	LastName      string          `json:"lastName"`
	Value         decimal.Decimal `json:"value"`
	MonetaryValue decimal.Decimal `json:"monetaryValue"`
	Currency      string          `json:"currency"`
	FBCLID        string          `json:"fbclid"`
	GCLID         string          `json:"gclid"`
	LeadEngineID  string          `json:"leadEngineId"`
	QuoteID       string          `json:"quoteId"`
}

// Amount returns the deal value, accepting the CRM's monetaryValue field.
func (p Payload) Amount() decimal.Decimal {
	if !p.Value.IsZero() {
		return p.Value
	}
	return p.MonetaryValue
}

// CurrencyCode returns the ISO currency, USD when unset.
func (p Payload) CurrencyCode() string {
	if p.Currency == "" {
		return "USD"
	}
	return strings.ToUpper(p.Currency)
}

// outcome is one platform's contribution to the record result.
type outcome struct {
	platform string
	skipped  bool
	result   handler.Result
}

// Option configures a Handler.
type Option func(*Handler)

// WithLimiter sets the shared outbound limiter.
func WithLimiter(l *ratelimit.Limiter) Option { return func(h *Handler) { h.limiter = l } }

// WithClient sets the HTTP client.
func WithClient(c *handler.Client) Option { return func(h *Handler) { h.client = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// Handler implements handler.Handler for attribution.purchase_event.
type Handler struct {
	cfg     Config
	client  *handler.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

var _ handler.Handler = (*Handler)(nil)

// New creates an attribution handler.
func New(cfg Config, opts ...Option) *Handler {
	if cfg.MetaBaseURL == "" {
		cfg.MetaBaseURL = DefaultMetaBaseURL
	}
	if cfg.GoogleBaseURL == "" {
		cfg.GoogleBaseURL = DefaultGoogleBaseURL
	}
	if cfg.Region == "" {
		cfg.Region = "me"
	}
	h := &Handler{
		cfg:    cfg,
		client: handler.NewClient(30 * time.Second),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle reports one purchase to every configured platform.
func (h *Handler) Handle(ctx context.Context, rec *event.Record) handler.Result {
	var p Payload
	if err := rec.DecodePayload(&p); err != nil {
		return handler.Fail(handler.ReasonInvalidPayload)
	}
	if strings.TrimSpace(p.Email) == "" && strings.TrimSpace(p.Phone) == "" {
		return handler.Fail(handler.ReasonInvalidPayload)
	}
	if p.OpportunityID == "" {
		p.OpportunityID = rec.Metadata["opportunity_id"]
	}

	dedup := DedupID(rec.IdempotencyKey)
	now := h.now().UTC()

	outcomes := make([]outcome, 2)
	var g errgroup.Group
	g.Go(func() error {
		outcomes[0] = h.sendMeta(ctx, p, dedup, now)
		return nil
	})
	g.Go(func() error {
		outcomes[1] = h.sendGoogle(ctx, p, dedup, now)
		return nil
	})
	_ = g.Wait()

	return h.combine(ctx, rec, outcomes)
}

func (h *Handler) combine(ctx context.Context, rec *event.Record, outcomes []outcome) handler.Result {
	var (
		accepted  []string
		reasons   []string
		attempted bool
		retryable bool
	)
	for _, o := range outcomes {
		if o.skipped {
			continue
		}
		attempted = true
		if o.result.OK {
			accepted = append(accepted, o.platform+":"+o.result.ExternalID)
			continue
		}
		reasons = append(reasons, o.platform+": "+o.result.Reason)
		retryable = retryable || o.result.Retryable
	}

	switch {
	case len(accepted) > 0:
		if len(reasons) > 0 {
			h.logger.WarnContext(ctx, "attribution partially delivered",
				"event_id", rec.ID.String(), "errors", strings.Join(reasons, "; "))
		}
		return handler.Success(strings.Join(accepted, ","))
	case !attempted:
		if h.cfg.Simulate {
			h.logger.WarnContext(ctx, "ad platforms not configured, simulating attribution",
				"event_id", rec.ID.String())
			return handler.Success("simulated")
		}
		return handler.Fail(handler.ReasonNotConfigured)
	case retryable:
		return handler.Retry(strings.Join(reasons, "; "))
	default:
		return handler.Fail(strings.Join(reasons, "; "))
	}
}

func (h *Handler) wait(ctx context.Context, key string) error {
	if h.limiter == nil {
		return nil
	}
	return h.limiter.Wait(ctx, key, h.cfg.RatePerSecond)
}

// DedupID derives the platform deduplication id from an idempotency key.
func DedupID(idempotencyKey string) string {
	sum := sha256.Sum256([]byte(idempotencyKey))
	return "purchase_" + hex.EncodeToString(sum[:16])
}

// Hash returns the lowercase hex SHA-256 of a trimmed, lowercased value, the
// normalization both platforms require for user data.
func Hash(v string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(v))))
	return hex.EncodeToString(sum[:])
}

// HashPhone hashes a phone number in country-code-plus-digits form.
func HashPhone(raw string) string {
	return Hash(phone.HashDigits(raw))
}

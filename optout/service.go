package optout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/graniteshield/outbox/internal/entity"
	"github.com/graniteshield/outbox/internal/phone"
)

// Kind classifies an inbound message.
type Kind string

const (
	KindNone   Kind = ""
	KindOptOut Kind = "opt_out"
	KindHelp   Kind = "help"
	KindOptIn  Kind = "re_opt_in"
)

var keywords = map[string]Kind{
	"stop":        KindOptOut,
	"unsubscribe": KindOptOut,
	"cancel":      KindOptOut,
	"end":         KindOptOut,
	"quit":        KindOptOut,
	"help":        KindHelp,
	"info":        KindHelp,
	"start":       KindOptIn,
	"yes":         KindOptIn,
	"unstop":      KindOptIn,
}

// DetectKeyword classifies a message body. Only a body consisting of a single
// keyword (any case, surrounding whitespace and punctuation ignored) counts.
func DetectKeyword(body string) Kind {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(body), ".!?"))
	return keywords[word]
}

// Config holds the business details quoted in compliance replies.
type Config struct {
	Company      string
	SupportPhone string
	SupportEmail string
}

// DefaultConfig returns the production reply settings.
func DefaultConfig() Config {
	return Config{
		Company:      "GraniteShield Roofing",
		SupportPhone: "(207) 210-3282",
		SupportEmail: "info@graniteshieldroofing.com",
	}
}

// Inbound is one message received from a recipient.
type Inbound struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	MessageID string `json:"messageId"`
}

// Reply is the compliance response to an inbound keyword.
type Reply struct {
	Kind    Kind   `json:"kind"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Service manages the opt-out registry.
type Service struct {
	store  Store
	config Config
	logger *slog.Logger
}

// NewService creates an opt-out service.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Company == "" {
		cfg = DefaultConfig()
	}
	return &Service{store: store, config: cfg, logger: logger}
}

// IsOptedOut reports whether raw has opted out. Unknown numbers have not.
func (svc *Service) IsOptedOut(ctx context.Context, raw string) (bool, error) {
	num, err := phone.E164(raw)
	if err != nil {
		return false, err
	}
	e, err := svc.store.GetOptOut(ctx, num)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return e.OptedOut, nil
}

// MarkOptedOut records an opt-out reported by the provider rather than by
// an inbound keyword.
func (svc *Service) MarkOptedOut(ctx context.Context, raw, signal string) error {
	num, err := phone.E164(raw)
	if err != nil {
		return err
	}
	return svc.set(ctx, num, true, signal, "")
}

// HandleInbound applies an inbound keyword and returns the reply to send.
// Messages without a keyword return a reply of KindNone and change nothing.
func (svc *Service) HandleInbound(ctx context.Context, in Inbound) (Reply, error) {
	if in.From == "" || in.Body == "" {
		return Reply{}, errors.New("optout: from and body are required")
	}
	num, err := phone.E164(in.From)
	if err != nil {
		return Reply{}, fmt.Errorf("optout: %w", err)
	}

	kind := DetectKeyword(in.Body)
	reply := Reply{Kind: kind, Phone: num}

	switch kind {
	case KindOptOut:
		err = svc.set(ctx, num, true, strings.ToLower(strings.TrimSpace(in.Body)), in.MessageID)
	case KindOptIn:
		err = svc.set(ctx, num, false, strings.ToLower(strings.TrimSpace(in.Body)), in.MessageID)
	case KindHelp, KindNone:
	}
	if err != nil {
		return Reply{}, err
	}

	reply.Message = svc.message(kind)
	if kind != KindNone {
		svc.logger.InfoContext(ctx, "sms keyword processed",
			"kind", string(kind), "phone", num, "message_id", in.MessageID)
	}
	return reply, nil
}

func (svc *Service) set(ctx context.Context, num string, optedOut bool, keyword, messageID string) error {
	e := &Entry{
		Entity:    entity.New(),
		Phone:     num,
		OptedOut:  optedOut,
		Keyword:   keyword,
		MessageID: messageID,
	}
	if existing, err := svc.store.GetOptOut(ctx, num); err == nil {
		e.CreatedAt = existing.CreatedAt
	}
	if err := svc.store.SetOptOut(ctx, e); err != nil {
		return fmt.Errorf("optout: save %s: %w", num, err)
	}
	return nil
}

func (svc *Service) message(kind Kind) string {
	c := svc.config
	switch kind {
	case KindOptOut:
		return fmt.Sprintf("You have been unsubscribed from %s messages. Reply START to re-subscribe. For help, call %s.", c.Company, c.SupportPhone)
	case KindHelp:
		return fmt.Sprintf("%s: For support, call %s or email %s. Reply STOP to unsubscribe.", c.Company, c.SupportPhone, c.SupportEmail)
	case KindOptIn:
		return fmt.Sprintf("You have been re-subscribed to %s messages. Reply STOP to unsubscribe. Reply HELP for help.", c.Company)
	default:
		return ""
	}
}

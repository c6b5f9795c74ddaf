package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/graniteshield/outbox/internal/entity"
	"github.com/graniteshield/outbox/optout"
)

// optOutModel is the JSON representation stored in Redis.
type optOutModel struct {
	Phone     string    `json:"phone"`
	OptedOut  bool      `json:"opted_out"`
	Keyword   string    `json:"keyword"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) SetOptOut(ctx context.Context, e *optout.Entry) error {
	key := entityKey(prefixOptOut, e.Phone)

	m := optOutModel{
		Phone:     e.Phone,
		OptedOut:  e.OptedOut,
		Keyword:   e.Keyword,
		MessageID: e.MessageID,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}

	var prev optOutModel
	if err := s.getEntity(ctx, key, &prev); err == nil {
		m.CreatedAt = prev.CreatedAt
	} else if !isNotFound(err) {
		return fmt.Errorf("outbox/redis: set opt-out: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}

	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("outbox/redis: set opt-out: %w", err)
	}
	return nil
}

func (s *Store) GetOptOut(ctx context.Context, phone string) (*optout.Entry, error) {
	var m optOutModel
	if err := s.getEntity(ctx, entityKey(prefixOptOut, phone), &m); err != nil {
		if isNotFound(err) {
			return nil, optout.ErrNotFound
		}
		return nil, fmt.Errorf("outbox/redis: get opt-out: %w", err)
	}
	return &optout.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Phone:     m.Phone,
		OptedOut:  m.OptedOut,
		Keyword:   m.Keyword,
		MessageID: m.MessageID,
	}, nil
}

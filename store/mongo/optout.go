package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/graniteshield/outbox/optout"
)

// SetOptOut upserts the opt-out state for a phone number. The first write
// fixes created_at.
func (s *Store) SetOptOut(ctx context.Context, e *optout.Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = now()
	}

	_, err := s.mdb.NewUpdate((*optOutModel)(nil)).
		Filter(bson.M{"_id": e.Phone}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"opted_out":  e.OptedOut,
				"keyword":    e.Keyword,
				"message_id": e.MessageID,
				"updated_at": e.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": created},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/mongo: set opt-out: %w", err)
	}

	return nil
}

// GetOptOut returns the opt-out state for a phone number.
func (s *Store) GetOptOut(ctx context.Context, phone string) (*optout.Entry, error) {
	var m optOutModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": phone}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, optout.ErrNotFound
		}

		return nil, fmt.Errorf("outbox/mongo: get opt-out: %w", err)
	}

	return fromOptOutModel(&m), nil
}

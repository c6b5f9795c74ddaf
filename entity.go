package outbox

import "github.com/graniteshield/outbox/internal/entity"

// Entity is the timestamp pair embedded by persisted outbox records.
type Entity = entity.Entity

// NewEntity returns an Entity with both timestamps set to the current UTC time.
func NewEntity() Entity {
	return entity.New()
}

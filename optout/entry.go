// Package optout tracks which recipients have opted out of SMS and turns
// inbound STOP/HELP/START messages into registry updates and replies.
package optout

import (
	"github.com/graniteshield/outbox/internal/entity"
)

// Entry is the opt-out state of one phone number.
type Entry struct {
	entity.Entity

	// Phone is the E.164 number.
	Phone string `json:"phone"`

	// OptedOut is true while the recipient must not be messaged.
	OptedOut bool `json:"opted_out"`

	// Keyword is the inbound word or provider signal that set the state.
	Keyword string `json:"keyword"`

	// MessageID is the provider id of the inbound message, if any.
	MessageID string `json:"message_id,omitempty"`
}

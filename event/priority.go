package event

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the latency tier of a record. Lower tiers are more urgent.
type Priority string

const (
	// P0 must be dispatched within two seconds (lead-confirmation SMS).
	P0 Priority = "P0"

	// P1 must be dispatched within thirty seconds.
	P1 Priority = "P1"

	// P2 must be dispatched within five minutes.
	P2 Priority = "P2"

	// P3 must be dispatched within an hour (nightly rollups).
	P3 Priority = "P3"
)

// Priorities lists all tiers from most to least urgent.
var Priorities = []Priority{P0, P1, P2, P3}

// ParsePriority decodes a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("outbox: unknown priority %q", s)
	}
	return p, nil
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	switch p {
	case P0, P1, P2, P3:
		return true
	}
	return false
}

// Rank orders priorities: 0 for P0 through 3 for P3, 4 for anything else.
func (p Priority) Rank() int {
	for i, q := range Priorities {
		if p == q {
			return i
		}
	}
	return len(Priorities)
}

// SLA returns the dispatch latency target for the tier.
func (p Priority) SLA() time.Duration {
	switch p {
	case P0:
		return 2 * time.Second
	case P1:
		return 30 * time.Second
	case P2:
		return 5 * time.Minute
	default:
		return time.Hour
	}
}

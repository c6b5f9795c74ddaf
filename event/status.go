package event

// Status is the lifecycle state of a record.
type Status string

const (
	// StatusPending is the initial state of a freshly created record.
	StatusPending Status = "pending"

	// StatusInFlight means a handler call is outstanding.
	StatusInFlight Status = "in_flight"

	// StatusSucceeded is terminal: the side effect was accepted.
	StatusSucceeded Status = "succeeded"

	// StatusFailedRetryable waits for the retry sweep.
	StatusFailedRetryable Status = "failed_retryable"

	// StatusFailedDead is terminal: the record is parked in the dead letter queue.
	StatusFailedDead Status = "failed_dead"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusInFlight,
	StatusSucceeded,
	StatusFailedRetryable,
	StatusFailedDead,
}

var transitions = map[Status][]Status{
	StatusPending:         {StatusInFlight},
	StatusInFlight:        {StatusSucceeded, StatusFailedRetryable, StatusFailedDead},
	StatusFailedRetryable: {StatusInFlight},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedDead
}

// Dispatchable reports whether a record in s may start a new attempt.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusFailedRetryable
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/handler"
)

// Default backoff settings.
const (
	DefaultBaseDelay = time.Second
	DefaultJitter    = 0.2
	DefaultMaxDelay  = 15 * time.Minute
)

// Retrier decides what status an attempt leaves a record in and when a
// retryable record becomes due again.
type Retrier struct {
	base   time.Duration
	jitter float64
	max    time.Duration
}

// NewRetrier creates a retrier. Zero values select the defaults; a negative
// jitter disables randomization.
func NewRetrier(base time.Duration, jitter float64, maxDelay time.Duration) *Retrier {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if jitter == 0 {
		jitter = DefaultJitter
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Retrier{base: base, jitter: jitter, max: maxDelay}
}

// Decide maps a handler result on a record that has just used an attempt
// to the record's next status.
//
// Decision matrix:
//   - ok → succeeded
//   - retryable, attempts remaining → failed_retryable
//   - retryable, attempts exhausted → failed_dead
//   - not retryable → failed_dead
func (r *Retrier) Decide(res handler.Result, rec *event.Record) event.Status {
	switch {
	case res.OK:
		return event.StatusSucceeded
	case res.Retryable && !rec.Exhausted():
		return event.StatusFailedRetryable
	default:
		return event.StatusFailedDead
	}
}

// Delay returns base × 2^attempt, randomized by ±jitter and capped at the
// maximum delay.
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.base,
		RandomizationFactor: r.jitter,
		Multiplier:          2,
		MaxInterval:         r.max,
	}
	b.Reset()

	var d time.Duration
	for range attempt + 1 {
		d = b.NextBackOff()
	}
	// MaxInterval caps the interval before randomization.
	return min(d, r.max)
}

// NextAttempt returns when a record that has used attempt attempts is due.
func (r *Retrier) NextAttempt(now time.Time, attempt int) time.Time {
	return now.Add(r.Delay(attempt))
}

// Package handler defines the contract between the dispatcher and the
// per-provider adapters, plus the registry that maps actions to adapters.
//
// A handler translates one outbox record into one external API call and
// classifies the outcome. It never returns an error: failures are encoded
// in the Result so the dispatcher can decide between retry and dead letter.
package handler

import (
	"context"

	"github.com/graniteshield/outbox/event"
)

// Handler executes the side effect requested by a record.
type Handler interface {
	Handle(ctx context.Context, rec *event.Record) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, rec *event.Record) Result

// Handle calls f(ctx, rec).
func (f HandlerFunc) Handle(ctx context.Context, rec *event.Record) Result {
	return f(ctx, rec)
}

// Result is the outcome of one handler invocation.
type Result struct {
	OK         bool   `json:"ok"`
	ExternalID string `json:"external_id,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Success reports an accepted side effect.
func Success(externalID string) Result {
	return Result{OK: true, ExternalID: externalID}
}

// Retry reports a transient failure worth another attempt.
func Retry(reason string) Result {
	return Result{Retryable: true, Reason: reason}
}

// Fail reports a failure that retrying cannot fix.
func Fail(reason string) Result {
	return Result{Reason: reason}
}

// Common failure reasons.
const (
	ReasonInvalidPayload = "invalid_payload"
	ReasonNotConfigured  = "not_configured"
	ReasonOptedOut       = "opted_out"
	ReasonTimeout        = "timeout"
)

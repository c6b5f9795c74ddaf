package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/graniteshield/outbox"

// Tracer provides OpenTelemetry tracing for dispatch attempts.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new outbox tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartAttemptSpan starts a new span for one dispatch attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, eventID, action, priority string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "outbox.dispatch",
		trace.WithAttributes(
			attribute.String("outbox.event_id", eventID),
			attribute.String("outbox.action", action),
			attribute.String("outbox.priority", priority),
			attribute.Int("outbox.attempt", attempt),
		),
	)
}

// EndAttemptSpan ends an attempt span with result attributes.
func (t *Tracer) EndAttemptSpan(span trace.Span, status string, latencyMs int, reason string) {
	span.SetAttributes(
		attribute.String("outbox.status", status),
		attribute.Int("outbox.latency_ms", latencyMs),
	)
	if reason != "" {
		span.SetAttributes(attribute.String("outbox.error", reason))
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

// StartSweepSpan starts a span around one retry sweep.
func (t *Tracer) StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "outbox.sweep")
}

package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/careops/dispatch"

// Tracer provides OpenTelemetry tracing for dispatcher operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new dispatcher tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, subscriptionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "dispatch.delivery",
		trace.WithAttributes(
			attribute.String("dispatch.delivery_id", deliveryID),
			attribute.String("dispatch.event_id", eventID),
			attribute.String("dispatch.subscription_id", subscriptionID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, durationMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("dispatch.duration_ms", durationMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("dispatch.error", err))
	}
	span.End()
}

package bus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink turns published events into zero-duration OpenTelemetry
// spans, one per event, so a tracing backend can correlate bus
// activity with the rest of a traced request. Events whose Payload
// carries a "severity" of "error"/"critical" are recorded as span
// errors; the event's Type is not consulted for this.
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink wraps tracer for use as an event-bus subscriber.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Handle implements Handler.
func (s *OTelSink) Handle(ctx context.Context, event Event) error {
	_, span := s.tracer.Start(ctx, event.Type)
	defer span.End()

	span.SetAttributes(
		attribute.String("evoseal.source", event.Source),
		attribute.String("evoseal.event_type", event.Type),
	)
	for k, v := range event.Context {
		if sv, ok := v.(string); ok {
			span.SetAttributes(attribute.String("evoseal.ctx."+k, sv))
		}
	}

	if severity, ok := event.Payload["severity"].(string); ok && (severity == "error" || severity == "critical") {
		span.SetStatus(codes.Error, event.Type)
		if msg, ok := event.Payload["message"].(string); ok {
			span.RecordError(errString(msg))
		}
	}
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/listiq/internal/domain"
)

// TracingEventLog wraps a domain.EventLog with OpenTelemetry tracing.
type TracingEventLog struct {
	next   domain.EventLog
	tracer trace.Tracer
}

// Compile-time check: TracingEventLog implements domain.EventLog.
var _ domain.EventLog = (*TracingEventLog)(nil)

// NewTracingEventLog creates a tracing decorator around the given event log.
func NewTracingEventLog(next domain.EventLog) *TracingEventLog {
	return &TracingEventLog{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (l *TracingEventLog) Write(ctx context.Context, topic domain.Topic, stream string, event domain.Event) (domain.Ack, error) {
	ctx, span := l.tracer.Start(ctx, "EventLog.Write",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.topic", string(topic)),
			attribute.String("event.stream", stream),
			attribute.String("list.id", event.ListID),
			attribute.String("recipient.id", event.RecipientID),
		),
	)
	defer span.End()

	ack, err := l.next.Write(ctx, topic, stream, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ack, err
}

func (l *TracingEventLog) BatchWrite(ctx context.Context, topic domain.Topic, stream string, events []domain.Event) (domain.Ack, error) {
	ctx, span := l.tracer.Start(ctx, "EventLog.BatchWrite",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.topic", string(topic)),
			attribute.String("event.stream", stream),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	ack, err := l.next.BatchWrite(ctx, topic, stream, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ack, err
}

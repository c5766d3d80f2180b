package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Instrument names reported by the projection decorators.
const (
	metricProjectionDuration  = "listiq.projection.duration"
	metricProjectionFailures  = "listiq.projection.failures"
	metricProjectionAbandoned = "listiq.projection.abandoned"
	metricImportRecipients    = "listiq.import.recipients"
	metricImportFinished      = "listiq.import.finished"
)

// Projector is the projection side of both event log backends.
type Projector interface {
	Project(ctx context.Context, topic domain.Topic, events []domain.Event) error
	Abandon(ctx context.Context, topic domain.Topic, events []domain.Event, cause error) error
}

// TracingProjector wraps a Projector with a consumer span per run of events
// and counts failed and abandoned projections by topic.
type TracingProjector struct {
	next      Projector
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	failures  metric.Int64Counter
	abandoned metric.Int64Counter
}

var _ Projector = (*TracingProjector)(nil)

// NewTracingProjector creates the decorator. Instruments come from the
// global meter provider, so Setup must run first.
func NewTracingProjector(next Projector) (*TracingProjector, error) {
	meter := otel.Meter(tracerName)

	duration, err := meter.Float64Histogram(metricProjectionDuration,
		metric.WithDescription("Time spent projecting one run of events."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(metricProjectionFailures,
		metric.WithDescription("Projection attempts that returned an error."),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}
	abandoned, err := meter.Int64Counter(metricProjectionAbandoned,
		metric.WithDescription("Events given up on after the last projection attempt."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	return &TracingProjector{
		next:      next,
		tracer:    otel.Tracer(tracerName),
		duration:  duration,
		failures:  failures,
		abandoned: abandoned,
	}, nil
}

func (p *TracingProjector) Project(ctx context.Context, topic domain.Topic, events []domain.Event) error {
	ctx, span := p.tracer.Start(ctx, "Projector.Project",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.topic", string(topic)),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	topicAttr := metric.WithAttributes(attribute.String("event.topic", string(topic)))
	start := time.Now()
	err := p.next.Project(ctx, topic, events)
	p.duration.Record(ctx, time.Since(start).Seconds(), topicAttr)
	if err != nil {
		p.failures.Add(ctx, 1, topicAttr)
		record(span, err)
	}
	return err
}

func (p *TracingProjector) Abandon(ctx context.Context, topic domain.Topic, events []domain.Event, cause error) error {
	ctx, span := p.tracer.Start(ctx, "Projector.Abandon",
		trace.WithAttributes(
			attribute.String("event.topic", string(topic)),
			attribute.Int("event.count", len(events)),
			attribute.String("abandon.cause", cause.Error()),
		),
	)
	defer span.End()

	p.abandoned.Add(ctx, int64(len(events)),
		metric.WithAttributes(attribute.String("event.topic", string(topic))))
	err := p.next.Abandon(ctx, topic, events, cause)
	record(span, err)
	return err
}

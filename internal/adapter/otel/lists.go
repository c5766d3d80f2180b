package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/listiq/internal/domain"
)

// TracingListAggregator wraps a domain.ListAggregator with spans and import
// progress metrics: recipients aggregated per list, and imports reaching a
// terminal state.
type TracingListAggregator struct {
	next       domain.ListAggregator
	tracer     trace.Tracer
	recipients metric.Int64Counter
	finished   metric.Int64Counter
}

var _ domain.ListAggregator = (*TracingListAggregator)(nil)

func NewTracingListAggregator(next domain.ListAggregator) (*TracingListAggregator, error) {
	meter := otel.Meter(tracerName)

	recipients, err := meter.Int64Counter(metricImportRecipients,
		metric.WithDescription("Imported recipients counted towards their job's progress."),
		metric.WithUnit("{recipient}"),
	)
	if err != nil {
		return nil, err
	}
	finished, err := meter.Int64Counter(metricImportFinished,
		metric.WithDescription("Import jobs that reached a terminal state."),
		metric.WithUnit("{import}"),
	)
	if err != nil {
		return nil, err
	}

	return &TracingListAggregator{
		next:       next,
		tracer:     otel.Tracer(tracerName),
		recipients: recipients,
		finished:   finished,
	}, nil
}

func (a *TracingListAggregator) UpdateMetadataAttrsAndImportStatusFromEvents(ctx context.Context, events []domain.Event) ([]domain.ListImportStatus, error) {
	ctx, span := a.tracer.Start(ctx, "ListAggregator.UpdateMetadataAttrsAndImportStatusFromEvents",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	statuses, err := a.next.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, events)
	if err != nil {
		record(span, err)
		return statuses, err
	}

	perList := make(map[string]int64)
	for _, e := range events {
		if e.Topic == domain.TopicRecipientImported {
			perList[e.ListID]++
		}
	}
	for listID, n := range perList {
		a.recipients.Add(ctx, n, metric.WithAttributes(attribute.String("list.id", listID)))
	}
	for _, s := range statuses {
		if s.State == domain.ImportCompleted {
			a.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("import.state", string(s.State))))
		}
	}
	span.SetAttributes(attribute.Int("import.count", len(statuses)))
	return statuses, nil
}

func (a *TracingListAggregator) MarkImportFailed(ctx context.Context, listID, importID string, total int, reason string) (domain.ListImportStatus, error) {
	ctx, span := a.tracer.Start(ctx, "ListAggregator.MarkImportFailed",
		trace.WithAttributes(
			attribute.String("list.id", listID),
			attribute.String("import.id", importID),
			attribute.Int("import.total", total),
		),
	)
	defer span.End()

	status, err := a.next.MarkImportFailed(ctx, listID, importID, total, reason)
	if err != nil {
		record(span, err)
		return status, err
	}
	a.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("import.state", string(domain.ImportFailed))))
	return status, nil
}

func (a *TracingListAggregator) GetImportStatus(ctx context.Context, listID, importID string) (domain.ListImportStatus, error) {
	ctx, span := a.tracer.Start(ctx, "ListAggregator.GetImportStatus",
		trace.WithAttributes(
			attribute.String("list.id", listID),
			attribute.String("import.id", importID),
		),
	)
	defer span.End()

	status, err := a.next.GetImportStatus(ctx, listID, importID)
	record(span, err)
	return status, err
}

func (a *TracingListAggregator) All(ctx context.Context) ([]domain.List, error) {
	ctx, span := a.tracer.Start(ctx, "ListAggregator.All")
	defer span.End()

	lists, err := a.next.All(ctx)
	if err != nil {
		record(span, err)
		return lists, err
	}
	span.SetAttributes(attribute.Int("list.count", len(lists)))
	return lists, nil
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neomorfeo/listiq/internal/domain"
)

const tracerName = "github.com/neomorfeo/listiq/internal/adapter/otel"

// TracingRecipientStore wraps a domain.RecipientStore with OpenTelemetry tracing.
// Each method creates a span with semantic attributes and records errors.
type TracingRecipientStore struct {
	next   domain.RecipientStore
	tracer trace.Tracer
}

// Compile-time check: TracingRecipientStore implements domain.RecipientStore.
var _ domain.RecipientStore = (*TracingRecipientStore)(nil)

// NewTracingRecipientStore creates a tracing decorator around the given store.
func NewTracingRecipientStore(next domain.RecipientStore) *TracingRecipientStore {
	return &TracingRecipientStore{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (s *TracingRecipientStore) CreateBatchFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	ctx, span := s.start(ctx, "RecipientStore.CreateBatchFromEvents", events)
	defer span.End()

	out, err := s.next.CreateBatchFromEvents(ctx, events)
	record(span, err)
	return out, err
}

func (s *TracingRecipientStore) UpdateBatchFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	ctx, span := s.start(ctx, "RecipientStore.UpdateBatchFromEvents", events)
	defer span.End()

	out, err := s.next.UpdateBatchFromEvents(ctx, events)
	record(span, err)
	return out, err
}

func (s *TracingRecipientStore) ImportFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	ctx, span := s.start(ctx, "RecipientStore.ImportFromEvents", events)
	defer span.End()

	out, err := s.next.ImportFromEvents(ctx, events)
	record(span, err)
	return out, err
}

func (s *TracingRecipientStore) DeleteFromEvents(ctx context.Context, events []domain.Event) ([]domain.Recipient, error) {
	ctx, span := s.start(ctx, "RecipientStore.DeleteFromEvents", events)
	defer span.End()

	out, err := s.next.DeleteFromEvents(ctx, events)
	record(span, err)
	return out, err
}

func (s *TracingRecipientStore) Find(ctx context.Context, listID, recipientID string) (domain.Recipient, error) {
	ctx, span := s.tracer.Start(ctx, "RecipientStore.Find",
		trace.WithAttributes(
			attribute.String("list.id", listID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	r, err := s.next.Find(ctx, listID, recipientID)
	record(span, err)
	return r, err
}

func (s *TracingRecipientStore) start(ctx context.Context, name string, events []domain.Event) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("event.count", len(events))))
}

// TracingSearchIndex wraps a domain.SearchIndex with OpenTelemetry tracing.
type TracingSearchIndex struct {
	next   domain.SearchIndex
	tracer trace.Tracer
}

var _ domain.SearchIndex = (*TracingSearchIndex)(nil)

func NewTracingSearchIndex(next domain.SearchIndex) *TracingSearchIndex {
	return &TracingSearchIndex{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (x *TracingSearchIndex) Index(ctx context.Context, recipient domain.Recipient) error {
	ctx, span := x.tracer.Start(ctx, "SearchIndex.Index",
		trace.WithAttributes(attribute.String("recipient.global_id", recipient.GlobalID())),
	)
	defer span.End()

	err := x.next.Index(ctx, recipient)
	record(span, err)
	return err
}

func (x *TracingSearchIndex) Remove(ctx context.Context, globalID string) error {
	ctx, span := x.tracer.Start(ctx, "SearchIndex.Remove",
		trace.WithAttributes(attribute.String("recipient.global_id", globalID)),
	)
	defer span.End()

	err := x.next.Remove(ctx, globalID)
	record(span, err)
	return err
}

func (x *TracingSearchIndex) Search(ctx context.Context, listID string, conditions domain.Conditions, options domain.SearchOptions) (domain.SearchResult, error) {
	ctx, span := x.tracer.Start(ctx, "SearchIndex.Search",
		trace.WithAttributes(
			attribute.String("list.id", listID),
			attribute.String("search.status", string(conditions.Status)),
		),
	)
	defer span.End()

	res, err := x.next.Search(ctx, listID, conditions, options)
	if err != nil {
		record(span, err)
		return res, err
	}
	span.SetAttributes(attribute.Int("search.total", res.Total))
	return res, nil
}

func record(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

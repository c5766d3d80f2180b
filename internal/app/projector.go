package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Projector routes events read back from the log to the projection operations.
type Projector struct {
	svc      *RecipientService
	listener domain.ImportStatusListener
}

// NewProjector creates a projector. listener may be nil.
func NewProjector(svc *RecipientService, listener domain.ImportStatusListener) *Projector {
	return &Projector{svc: svc, listener: listener}
}

// Project applies a run of events that share one topic.
func (p *Projector) Project(ctx context.Context, topic domain.Topic, events []domain.Event) error {
	switch topic {
	case domain.TopicRecipientCreated:
		return p.svc.CreateRecipientsBatch(ctx, events)
	case domain.TopicRecipientUpdated:
		return p.svc.UpdateRecipientsBatch(ctx, events)
	case domain.TopicRecipientDeleted:
		return p.svc.DeleteRecipientsBatch(ctx, events)
	case domain.TopicRecipientImported:
		return p.svc.ImportRecipientsBatch(ctx, events, p.listener)
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
}

// Abandon is called when events could not be projected and will not be
// retried. Imports they belong to are marked failed.
func (p *Projector) Abandon(ctx context.Context, topic domain.Topic, events []domain.Event, cause error) error {
	if topic != domain.TopicRecipientImported {
		return nil
	}

	type key struct{ listID, importID string }
	var order []key
	totals := make(map[key]int)
	for _, e := range events {
		k := key{e.ListID, e.ImportID}
		if _, ok := totals[k]; !ok {
			order = append(order, k)
		}
		totals[k] = max(totals[k], e.Total)
	}

	for _, k := range order {
		slog.ErrorContext(ctx, "abandoning import",
			"list_id", k.listID,
			"import_id", k.importID,
			"error", cause,
		)
		if err := p.svc.MarkImportFailed(ctx, k.listID, k.importID, totals[k], cause.Error(), p.listener); err != nil {
			return fmt.Errorf("marking import %s failed: %w", k.importID, err)
		}
	}
	return nil
}

// LogListener reports import progress to the structured log.
type LogListener struct{}

var _ domain.ImportStatusListener = LogListener{}

func (LogListener) OnStatusUpdated(ctx context.Context, status domain.ListImportStatus) error {
	slog.InfoContext(ctx, "import progress",
		"list_id", status.ListID,
		"import_id", status.ImportID,
		"processed", status.Processed,
		"total", status.Total,
		"state", status.State,
	)
	return nil
}

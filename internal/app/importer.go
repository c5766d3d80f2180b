package app

import (
	"context"
	"log/slog"

	"github.com/neomorfeo/listiq/internal/domain"
)

// PublishRecipientImported validates every recipient of the batch and, only if
// all of them are valid, appends the whole batch to the stream in one write.
func (s *RecipientService) PublishRecipientImported(ctx context.Context, batch domain.ImportBatch) (domain.Ack, error) {
	results := s.builder.BuildRecipientImported(ctx, batch)

	events := make([]domain.Event, 0, len(results))
	var failures []domain.IndexedError
	for i, r := range results {
		if !r.Valid() {
			failures = append(failures, domain.IndexedError{
				RecipientIndex: batch.BatchFirstIndex + i,
				Err:            r.Err(),
			})
			continue
		}
		events = append(events, r.Value())
	}
	if len(failures) > 0 {
		return domain.Ack{}, &domain.ImportValidationError{
			ImportID:        batch.ImportID,
			BatchFirstIndex: batch.BatchFirstIndex,
			Failures:        failures,
		}
	}

	stream := s.cfg.StreamName
	if len(events) == 0 {
		return domain.Ack{Stream: stream}, nil
	}

	ack, err := s.log.BatchWrite(ctx, domain.TopicRecipientImported, stream, events)
	if err != nil {
		return domain.Ack{}, &domain.LogWriteError{Topic: domain.TopicRecipientImported, Stream: stream, Err: err}
	}
	return ack, nil
}

// ImportRecipientsBatch projects imported events: records first, then the
// search index, then list metadata and import progress. Each step runs only
// after the previous one succeeded. listener may be nil; its failures are
// logged and never returned.
func (s *RecipientService) ImportRecipientsBatch(ctx context.Context, events []domain.Event, listener domain.ImportStatusListener) error {
	if len(events) == 0 {
		return nil
	}

	recipients, err := s.store.ImportFromEvents(ctx, events)
	if err != nil {
		return &domain.ProjectionError{Stage: domain.StageRecords, Err: err}
	}
	if err := s.indexAll(ctx, recipients); err != nil {
		return err
	}

	statuses, err := s.lists.UpdateMetadataAttrsAndImportStatusFromEvents(ctx, events)
	if err != nil {
		return &domain.ProjectionError{Stage: domain.StageListMetadata, Err: err}
	}

	notify(ctx, listener, statuses)
	return nil
}

// MarkImportFailed records a terminal failure for an import job of total
// recipients.
func (s *RecipientService) MarkImportFailed(ctx context.Context, listID, importID string, total int, reason string, listener domain.ImportStatusListener) error {
	status, err := s.lists.MarkImportFailed(ctx, listID, importID, total, reason)
	if err != nil {
		return &domain.ProjectionError{Stage: domain.StageListMetadata, Err: err}
	}
	notify(ctx, listener, []domain.ListImportStatus{status})
	return nil
}

func notify(ctx context.Context, listener domain.ImportStatusListener, statuses []domain.ListImportStatus) {
	if listener == nil {
		return
	}
	for _, status := range statuses {
		if err := listener.OnStatusUpdated(ctx, status); err != nil {
			slog.WarnContext(ctx, "import status listener failed",
				"list_id", status.ListID,
				"import_id", status.ImportID,
				"state", status.State,
				"error", err,
			)
		}
	}
}

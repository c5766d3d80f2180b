package app

import (
	"context"
	"errors"

	"github.com/neomorfeo/listiq/internal/domain"
)

// CreateRecipientsBatch stores created recipients and indexes them.
func (s *RecipientService) CreateRecipientsBatch(ctx context.Context, events []domain.Event) error {
	recipients, err := s.store.CreateBatchFromEvents(ctx, events)
	if err != nil {
		return &domain.ProjectionError{Stage: domain.StageRecords, Err: err}
	}
	return s.indexAll(ctx, recipients)
}

// UpdateRecipientsBatch applies updates to stored recipients and re-indexes
// the ones that exist.
func (s *RecipientService) UpdateRecipientsBatch(ctx context.Context, events []domain.Event) error {
	recipients, err := s.store.UpdateBatchFromEvents(ctx, events)
	if err != nil {
		return &domain.ProjectionError{Stage: domain.StageRecords, Err: err}
	}
	for _, r := range recipients {
		if err := s.UpdateRecipientIndex(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecipientsBatch removes recipients from the store and the index.
// The index follows the store after the delete: replays clean up documents
// whose records are already gone, and a delete the store ignored as stale
// leaves the recipient indexed.
func (s *RecipientService) DeleteRecipientsBatch(ctx context.Context, events []domain.Event) error {
	if _, err := s.store.DeleteFromEvents(ctx, events); err != nil {
		return &domain.ProjectionError{Stage: domain.StageRecords, Err: err}
	}
	for _, e := range events {
		current, err := s.store.Find(ctx, e.ListID, e.RecipientID)
		switch {
		case err == nil:
			err = s.UpdateRecipientIndex(ctx, current)
		case errors.Is(err, domain.ErrRecipientNotFound):
			err = s.DeleteRecipientIndex(ctx, domain.Recipient{ID: e.RecipientID, ListID: e.ListID})
		default:
			err = &domain.ProjectionError{Stage: domain.StageRecords, Err: err}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateRecipientIndex adds a recipient document to the search index.
func (s *RecipientService) CreateRecipientIndex(ctx context.Context, recipient domain.Recipient) error {
	if err := s.index.Index(ctx, recipient); err != nil {
		return &domain.ProjectionError{Stage: domain.StageSearchIndex, Err: err}
	}
	return nil
}

// UpdateRecipientIndex replaces a recipient document in the search index.
func (s *RecipientService) UpdateRecipientIndex(ctx context.Context, recipient domain.Recipient) error {
	return s.CreateRecipientIndex(ctx, recipient)
}

// DeleteRecipientIndex removes a recipient document from the search index.
func (s *RecipientService) DeleteRecipientIndex(ctx context.Context, recipient domain.Recipient) error {
	if err := s.index.Remove(ctx, recipient.GlobalID()); err != nil {
		return &domain.ProjectionError{Stage: domain.StageSearchIndex, Err: err}
	}
	return nil
}

func (s *RecipientService) indexAll(ctx context.Context, recipients []domain.Recipient) error {
	for _, r := range recipients {
		if err := s.CreateRecipientIndex(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

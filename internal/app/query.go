package app

import (
	"context"
	"fmt"

	"github.com/neomorfeo/listiq/internal/domain"
)

// ListRecipients searches the recipients of a list. Empty option values are
// dropped before they reach the index.
func (s *RecipientService) ListRecipients(ctx context.Context, listID string, conditions domain.Conditions, options domain.SearchOptions) (domain.SearchResult, error) {
	result, err := s.index.Search(ctx, listID, conditions, domain.OmitEmpty(options))
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("searching recipients: %w", err)
	}
	return result, nil
}

// GetRecipient returns a single recipient or domain.ErrRecipientNotFound.
func (s *RecipientService) GetRecipient(ctx context.Context, listID, recipientID string) (domain.Recipient, error) {
	r, err := s.store.Find(ctx, listID, recipientID)
	if err != nil {
		return domain.Recipient{}, fmt.Errorf("getting recipient: %w", err)
	}
	return r, nil
}

// AllLists returns every known list.
func (s *RecipientService) AllLists(ctx context.Context) ([]domain.List, error) {
	lists, err := s.lists.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing lists: %w", err)
	}
	return lists, nil
}

// GetImportStatus returns the progress of an import job or domain.ErrImportNotFound.
func (s *RecipientService) GetImportStatus(ctx context.Context, listID, importID string) (domain.ListImportStatus, error) {
	status, err := s.lists.GetImportStatus(ctx, listID, importID)
	if err != nil {
		return domain.ListImportStatus{}, fmt.Errorf("getting import status: %w", err)
	}
	return status, nil
}

// MapCSVToRecipients parses an uploaded recipients file.
func (s *RecipientService) MapCSVToRecipients(ctx context.Context, data string) ([]domain.RecipientInput, error) {
	inputs, err := s.parser.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("mapping csv: %w", err)
	}
	return inputs, nil
}

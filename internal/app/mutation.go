package app

import (
	"context"
	"fmt"

	"github.com/neomorfeo/listiq/internal/domain"
)

// PublishRecipientCreated validates the new recipient and appends a single
// created event to the recipient stream.
func (s *RecipientService) PublishRecipientCreated(ctx context.Context, cmd domain.CreateRecipient) (domain.Ack, error) {
	event, err := s.builder.BuildRecipientCreated(ctx, cmd)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("building created event: %w", err)
	}
	return s.write(ctx, domain.TopicRecipientCreated, event)
}

// PublishRecipientUpdated validates the changes and appends a single updated event.
func (s *RecipientService) PublishRecipientUpdated(ctx context.Context, cmd domain.UpdateRecipient) (domain.Ack, error) {
	event, err := s.builder.BuildRecipientUpdated(ctx, cmd)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("building updated event: %w", err)
	}
	return s.write(ctx, domain.TopicRecipientUpdated, event)
}

// PublishRecipientDeleted appends a single deleted event.
func (s *RecipientService) PublishRecipientDeleted(ctx context.Context, cmd domain.DeleteRecipient) (domain.Ack, error) {
	event, err := s.builder.BuildRecipientDeleted(ctx, cmd)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("building deleted event: %w", err)
	}
	return s.write(ctx, domain.TopicRecipientDeleted, event)
}

func (s *RecipientService) write(ctx context.Context, topic domain.Topic, event domain.Event) (domain.Ack, error) {
	stream := s.cfg.StreamName
	ack, err := s.log.Write(ctx, topic, stream, event)
	if err != nil {
		return domain.Ack{}, &domain.LogWriteError{Topic: topic, Stream: stream, Err: err}
	}
	return ack, nil
}

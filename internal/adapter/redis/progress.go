package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: ProgressPublisher implements domain.ImportStatusListener.
var _ domain.ImportStatusListener = (*ProgressPublisher)(nil)

// ProgressUpdate is the message published for every import status change.
type ProgressUpdate struct {
	ListID        string     `json:"listId"`
	ImportID      string     `json:"importId"`
	Total         int        `json:"total"`
	Processed     int        `json:"processed"`
	State         string     `json:"state"`
	FailureReason string     `json:"failureReason,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// ProgressPublisher publishes import progress on a per-list pub/sub channel.
type ProgressPublisher struct {
	client  *redis.Client
	channel string
}

// NewProgressPublisher creates a publisher. Updates for list L go to
// "{channel}:L".
func NewProgressPublisher(client *redis.Client, channel string) *ProgressPublisher {
	return &ProgressPublisher{client: client, channel: channel}
}

// Channel returns the channel progress of listID is published on.
func (p *ProgressPublisher) Channel(listID string) string {
	return p.channel + ":" + listID
}

func (p *ProgressPublisher) OnStatusUpdated(ctx context.Context, status domain.ListImportStatus) error {
	payload, err := json.Marshal(ProgressUpdate{
		ListID:        status.ListID,
		ImportID:      status.ImportID,
		Total:         status.Total,
		Processed:     status.Processed,
		State:         string(status.State),
		FailureReason: status.FailureReason,
		UpdatedAt:     status.UpdatedAt,
		FinishedAt:    status.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(status.ListID), payload).Err(); err != nil {
		return fmt.Errorf("publishing progress of %s: %w", status.ImportID, err)
	}
	return nil
}

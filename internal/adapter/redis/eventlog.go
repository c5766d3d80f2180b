// Package redis implements the recipient event log, its consumer, the
// recipient search index and import progress publishing on Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: EventLog implements domain.EventLog.
var _ domain.EventLog = (*EventLog)(nil)

// Stream entry fields.
const (
	fieldTopic = "topic"
	fieldEvent = "event"
)

// EventLog appends recipient events to Redis Streams.
type EventLog struct {
	client *redis.Client
}

// NewEventLog creates an event log on the given client.
func NewEventLog(client *redis.Client) *EventLog {
	return &EventLog{client: client}
}

func (l *EventLog) Write(ctx context.Context, topic domain.Topic, stream string, event domain.Event) (domain.Ack, error) {
	args, err := xaddArgs(topic, stream, event)
	if err != nil {
		return domain.Ack{}, err
	}
	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return domain.Ack{}, fmt.Errorf("xadd (stream=%s): %w", stream, err)
	}
	return domain.Ack{Stream: stream, IDs: []string{id}}, nil
}

// BatchWrite appends all events inside MULTI/EXEC, so the entries land
// contiguously and in order, or not at all.
func (l *EventLog) BatchWrite(ctx context.Context, topic domain.Topic, stream string, events []domain.Event) (domain.Ack, error) {
	if len(events) == 0 {
		return domain.Ack{Stream: stream}, nil
	}

	all := make([]*redis.XAddArgs, len(events))
	for i, e := range events {
		args, err := xaddArgs(topic, stream, e)
		if err != nil {
			return domain.Ack{}, err
		}
		all[i] = args
	}

	cmds := make([]*redis.StringCmd, len(all))
	if _, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, args := range all {
			cmds[i] = pipe.XAdd(ctx, args)
		}
		return nil
	}); err != nil {
		return domain.Ack{}, fmt.Errorf("xadd batch of %d (stream=%s): %w", len(events), stream, err)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return domain.Ack{Stream: stream, IDs: ids}, nil
}

func xaddArgs(topic domain.Topic, stream string, event domain.Event) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event %s: %w", event.ID, err)
	}
	return &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			fieldTopic: string(topic),
			fieldEvent: string(payload),
		},
	}, nil
}

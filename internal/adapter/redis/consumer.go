package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Projector applies logged events to the read models.
type Projector interface {
	Project(ctx context.Context, topic domain.Topic, events []domain.Event) error
	Abandon(ctx context.Context, topic domain.Topic, events []domain.Event, cause error) error
}

// ConsumerConfig configures a stream consumer.
type ConsumerConfig struct {
	Stream     string        // Redis stream name
	Group      string        // Redis consumer group name
	Consumer   string        // Redis consumer name
	BatchSize  int64         // Number of entries to read per batch
	Block      time.Duration // How long to block for new entries; negative does not block
	RetryDelay time.Duration // Pause after a failed projection before redriving
	// MaxDeliveries caps how often a run is projected before it is
	// abandoned and moved to DeadLetterStream. Zero retries forever.
	MaxDeliveries    int
	DeadLetterStream string // Stream abandoned entries are copied to; empty drops them
}

// Message is one decoded stream entry.
type Message struct {
	ID    string
	Topic domain.Topic
	Event domain.Event
	raw   string
}

// Consumer reads recipient events through a consumer group and projects
// them. Entries are acknowledged only after projection succeeds; a failure
// leaves them pending, and the next batch redrives this consumer's pending
// entries before reading new ones. Delivery counts live in the consumer and
// start over when it is recreated.
type Consumer struct {
	client     *redis.Client
	cfg        ConsumerConfig
	redrive    bool
	deliveries map[string]int // keyed by the first entry id of a failed run
}

// NewConsumer creates a consumer and its group if needed.
func NewConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*Consumer, error) {
	c := &Consumer{client: client, cfg: cfg, redrive: true, deliveries: make(map[string]int)}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" instead of "$" means a recreated group sees every entry already logged.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Read returns up to BatchSize entries. With pending set it returns entries
// already delivered to this consumer but not acknowledged; otherwise new ones.
func (c *Consumer) Read(ctx context.Context, pending bool) ([]Message, error) {
	id, block := ">", c.cfg.Block
	if pending {
		id, block = "0", -1
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "dropping unreadable stream entry",
					"error", parseErr,
					"entry_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, msg.ID)
				continue
			}
			messages = append(messages, parsed)
		}
	}
	return messages, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	return nil
}

// ProcessBatch reads one batch and projects it run by run, where a run is a
// maximal sequence of consecutive entries with the same topic. It returns
// the number of entries acknowledged.
func (c *Consumer) ProcessBatch(ctx context.Context, projector Projector) (int, error) {
	messages, err := c.Read(ctx, c.redrive)
	if err != nil {
		return 0, err
	}
	if c.redrive && len(messages) == 0 {
		c.redrive = false
		if messages, err = c.Read(ctx, false); err != nil {
			return 0, err
		}
	}

	acked := 0
	for _, run := range runs(messages) {
		events := make([]domain.Event, len(run))
		ids := make([]string, len(run))
		for i, m := range run {
			events[i], ids[i] = m.Event, m.ID
		}

		if err := projector.Project(ctx, run[0].Topic, events); err != nil {
			c.deliveries[ids[0]]++
			if c.cfg.MaxDeliveries <= 0 || c.deliveries[ids[0]] < c.cfg.MaxDeliveries {
				c.redrive = true
				return acked, fmt.Errorf("projecting %d %s entries: %w", len(run), run[0].Topic, err)
			}
			if dlqErr := c.deadLetter(ctx, projector, run, events, err); dlqErr != nil {
				c.redrive = true
				return acked, dlqErr
			}
			delete(c.deliveries, ids[0])
			acked += len(run)
			continue
		}
		delete(c.deliveries, ids[0])
		if err := c.Ack(ctx, ids...); err != nil {
			c.redrive = true
			return acked, err
		}
		acked += len(run)
	}
	return acked, nil
}

// deadLetter gives up on a run: the projector abandons its events, the
// entries are copied to the dead letter stream and then acknowledged.
func (c *Consumer) deadLetter(ctx context.Context, projector Projector, run []Message, events []domain.Event, cause error) error {
	topic := run[0].Topic
	if err := projector.Abandon(ctx, topic, events, cause); err != nil {
		slog.ErrorContext(ctx, "abandoning entries failed",
			"stream", c.cfg.Stream,
			"topic", topic,
			"error", err)
	}

	ids := make([]string, len(run))
	for i, m := range run {
		ids[i] = m.ID
	}
	if c.cfg.DeadLetterStream != "" {
		if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range run {
				pipe.XAdd(ctx, &redis.XAddArgs{
					Stream: c.cfg.DeadLetterStream,
					Values: map[string]any{
						fieldTopic: string(topic),
						fieldEvent: m.raw,
						"entry_id": m.ID,
						"error":    cause.Error(),
					},
				})
			}
			return nil
		}); err != nil {
			return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DeadLetterStream, err)
		}
	}

	if err := c.Ack(ctx, ids...); err != nil {
		return err
	}
	slog.ErrorContext(ctx, "entries sent to dead letter stream",
		"stream", c.cfg.Stream,
		"dlq_stream", c.cfg.DeadLetterStream,
		"topic", topic,
		"count", len(run),
		"final_error", cause)
	return nil
}

// Run processes batches until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, projector Projector) error {
	slog.InfoContext(ctx, "stream consumer started",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.Consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := c.ProcessBatch(ctx, projector); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.ErrorContext(ctx, "stream batch failed", "stream", c.cfg.Stream, "error", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}
}

func runs(messages []Message) [][]Message {
	var out [][]Message
	for i, m := range messages {
		if i == 0 || m.Topic != messages[i-1].Topic {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], m)
	}
	return out
}

// ParseMessage decodes a stream entry written by EventLog.
func ParseMessage(msg redis.XMessage) (Message, error) {
	topic, ok := msg.Values[fieldTopic].(string)
	if !ok || !domain.Topic(topic).Valid() {
		return Message{}, fmt.Errorf("entry %s: missing or unknown topic %v", msg.ID, msg.Values[fieldTopic])
	}
	raw, ok := msg.Values[fieldEvent].(string)
	if !ok {
		return Message{}, fmt.Errorf("entry %s: missing event", msg.ID)
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Message{}, fmt.Errorf("entry %s: decoding event: %w", msg.ID, err)
	}
	position, err := entryPosition(msg.ID)
	if err != nil {
		return Message{}, err
	}
	event.Position = position
	return Message{ID: msg.ID, Topic: domain.Topic(topic), Event: event, raw: raw}, nil
}

// entryPosition pads both halves of a "ms-seq" entry id so positions
// compare as strings in stream order.
func entryPosition(id string) (string, error) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("entry %s: malformed id", id)
	}
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return "", fmt.Errorf("entry %s: malformed id: %w", id, err)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return "", fmt.Errorf("entry %s: malformed id: %w", id, err)
	}
	return fmt.Sprintf("%020d-%020d", ms, seq), nil
}

package river

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Compile-time check: EventLog implements domain.EventLog.
var _ domain.EventLog = (*EventLog)(nil)

// RecipientEventArgs is one logged recipient event. River serializes it as
// JSON into its job table, so the job row is the durable log entry and the
// worker never needs to read anything else to project it.
type RecipientEventArgs struct {
	Topic domain.Topic `json:"topic"`
	Event domain.Event `json:"event"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (RecipientEventArgs) Kind() string { return "recipient.event" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// EventLog appends recipient events as River jobs. The stream name is the
// River queue the jobs are inserted into.
type EventLog struct {
	client      *Client
	db          *sql.DB
	maxAttempts int
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithMaxAttempts caps how many times River runs an event job. The worker
// retries in place, so further runs only follow an interrupted one, such as
// a job cancelled by shutdown. Zero keeps River's default.
func WithMaxAttempts(n int) EventLogOption {
	return func(l *EventLog) { l.maxAttempts = n }
}

// NewEventLog creates an event log backed by the given River client. db must
// be the database the client was set up with; batch writes run in one of
// its transactions.
func NewEventLog(client *Client, db *sql.DB, opts ...EventLogOption) *EventLog {
	l := &EventLog{client: client, db: db}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *EventLog) Write(ctx context.Context, topic domain.Topic, stream string, event domain.Event) (domain.Ack, error) {
	res, err := l.client.Insert(ctx, RecipientEventArgs{Topic: topic, Event: event}, l.insertOpts(stream))
	if err != nil {
		return domain.Ack{}, fmt.Errorf("enqueuing event job: %w", err)
	}
	return domain.Ack{Stream: stream, IDs: []string{strconv.FormatInt(res.Job.ID, 10)}}, nil
}

// BatchWrite inserts every event in one transaction, so either all jobs
// exist afterwards or none do.
func (l *EventLog) BatchWrite(ctx context.Context, topic domain.Topic, stream string, events []domain.Event) (domain.Ack, error) {
	if len(events) == 0 {
		return domain.Ack{Stream: stream}, nil
	}

	params := make([]river.InsertManyParams, len(events))
	for i, e := range events {
		params[i] = river.InsertManyParams{
			Args:       RecipientEventArgs{Topic: topic, Event: e},
			InsertOpts: l.insertOpts(stream),
		}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	results, err := l.client.InsertManyTx(ctx, tx, params)
	if err != nil {
		return domain.Ack{}, fmt.Errorf("enqueuing %d event jobs: %w", len(events), err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Ack{}, fmt.Errorf("committing event jobs: %w", err)
	}

	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = strconv.FormatInt(res.Job.ID, 10)
	}
	return domain.Ack{Stream: stream, IDs: ids}, nil
}

func (l *EventLog) insertOpts(stream string) *river.InsertOpts {
	return &river.InsertOpts{Queue: stream, MaxAttempts: l.maxAttempts}
}

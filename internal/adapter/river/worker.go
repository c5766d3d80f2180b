package river

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/listiq/internal/domain"
)

// Projector applies logged events to the read models.
type Projector interface {
	Project(ctx context.Context, topic domain.Topic, events []domain.Event) error
	Abandon(ctx context.Context, topic domain.Topic, events []domain.Event, cause error) error
}

const defaultProjectionAttempts = 10

// RecipientEventWorker projects one logged recipient event per job.
//
// A failed projection is retried inside the job instead of being handed back
// to River: a rescheduled job would let later jobs of the same queue overtake
// it. Once the attempts are used up the projector abandons the event and the
// job is cancelled.
type RecipientEventWorker struct {
	river.WorkerDefaults[RecipientEventArgs]
	projector Projector
	attempts  int
	backoff   func(attempt int) time.Duration
}

// WorkerOption configures a RecipientEventWorker.
type WorkerOption func(*RecipientEventWorker)

// WithProjectionAttempts sets how many times an event is projected before it
// is abandoned.
func WithProjectionAttempts(n int) WorkerOption {
	return func(w *RecipientEventWorker) { w.attempts = n }
}

// WithBackoff sets the pause after the given failed attempt.
func WithBackoff(backoff func(attempt int) time.Duration) WorkerOption {
	return func(w *RecipientEventWorker) { w.backoff = backoff }
}

// NewRecipientEventWorker creates a worker that hands events to projector.
func NewRecipientEventWorker(projector Projector, opts ...WorkerOption) *RecipientEventWorker {
	w := &RecipientEventWorker{
		projector: projector,
		attempts:  defaultProjectionAttempts,
		backoff:   exponentialBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func exponentialBackoff(attempt int) time.Duration {
	return min(time.Second<<min(attempt-1, 6), time.Minute)
}

// Timeout disables River's job timeout; retries in place can outlast it.
func (w *RecipientEventWorker) Timeout(*river.Job[RecipientEventArgs]) time.Duration {
	return -1
}

// Work projects a single event job.
func (w *RecipientEventWorker) Work(ctx context.Context, job *river.Job[RecipientEventArgs]) error {
	topic, event := job.Args.Topic, job.Args.Event
	if !topic.Valid() {
		return river.JobCancel(fmt.Errorf("unknown topic %q", topic))
	}
	event.Position = jobPosition(job.ID)
	events := []domain.Event{event}

	for attempt := 1; ; attempt++ {
		slog.InfoContext(ctx, "projecting event",
			"topic", topic,
			"list_id", event.ListID,
			"recipient_id", event.RecipientID,
			"job_id", job.ID,
			"attempt", attempt,
		)

		err := w.projector.Project(ctx, topic, events)
		if err == nil {
			return nil
		}

		if attempt >= w.attempts {
			if abandonErr := w.projector.Abandon(ctx, topic, events, err); abandonErr != nil {
				slog.ErrorContext(ctx, "abandoning event failed",
					"topic", topic,
					"job_id", job.ID,
					"error", abandonErr,
				)
			}
			return river.JobCancel(err)
		}

		slog.WarnContext(ctx, "projection failed, retrying",
			"topic", topic,
			"job_id", job.ID,
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(w.backoff(attempt)):
		}
	}
}

// jobPosition pads job ids so positions compare as strings in insert order.
func jobPosition(id int64) string {
	return fmt.Sprintf("%020d", id)
}

package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"
)

// Setup creates a River client that works the given stream queue with the
// recipient event worker, and runs River's internal migrations. The caller
// must call client.Start() to begin processing jobs and client.Stop() for
// graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, stream string, projector Projector, opts ...WorkerOption) (*Client, error) {
	driver := riversqlite.New(db)

	// River's own tables are migrated separately from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewRecipientEventWorker(projector, opts...))

	// One worker per stream, retrying in place, keeps projection in append order.
	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			stream: {MaxWorkers: 1},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}

package otel

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/neomorfeo/listiq/internal/adapter/sqlite"
)

// OpenDB opens and migrates the listiq SQLite database behind otelsql. Every
// statement is traced and pool metrics are reported under the database path.
func OpenDB(path string) (*sql.DB, error) {
	attrs := otelsql.WithAttributes(
		semconv.DBSystemSqlite,
		attribute.String("db.path", path),
	)

	db, err := otelsql.Open("sqlite", path, attrs,
		// One span per statement.
		otelsql.WithSpanOptions(otelsql.SpanOptions{
			OmitConnResetSession: true,
			OmitRows:             true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("opening instrumented database: %w", err)
	}

	if err := sqlite.Prepare(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := otelsql.RegisterDBStatsMetrics(db, attrs); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering db stats metrics: %w", err)
	}

	return db, nil
}

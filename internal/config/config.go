// Package config loads listiq settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Event log backends.
const (
	BackendRiver = "river"
	BackendRedis = "redis"
)

// Config is the process configuration.
type Config struct {
	Port         string `env:"PORT"                       envDefault:"8080"`
	DatabasePath string `env:"DATABASE_PATH"              envDefault:"listiq.db"`
	StreamName   string `env:"LIST_RECIPIENT_STREAM_NAME" envDefault:"list-recipients"`
	Backend      string `env:"EVENT_LOG_BACKEND"          envDefault:"river"`

	// ProjectionAttempts is how often a logged event is projected before its
	// import is marked failed and the event is set aside.
	ProjectionAttempts int `env:"PROJECTION_ATTEMPTS" envDefault:"10"`

	River River
	Redis Redis
	OTel  OTel
}

// River configures the river backend.
type River struct {
	MaxAttempts int `env:"RIVER_MAX_ATTEMPTS" envDefault:"25"`
}

// Redis configures the search index, progress channel and, with the redis
// backend, the event stream consumer.
type Redis struct {
	URL             string `env:"REDIS_URL"               envDefault:"redis://localhost:6379/0"`
	ConsumerGroup   string `env:"REDIS_CONSUMER_GROUP"    envDefault:"listiq-projector"`
	ConsumerName    string `env:"REDIS_CONSUMER_NAME"     envDefault:"listiq-1"`
	BatchSize       int64  `env:"REDIS_BATCH_SIZE"        envDefault:"100"`
	IndexPrefix     string `env:"SEARCH_INDEX_PREFIX"     envDefault:"listiq:recipients"`
	ProgressChannel string `env:"IMPORT_PROGRESS_CHANNEL" envDefault:"listiq:imports"`
	DeadLetter      string `env:"REDIS_DEAD_LETTER_STREAM" envDefault:"list-recipients:dlq"`
}

type OTel struct {
	ServiceName    string `env:"OTEL_SERVICE_NAME"    envDefault:"listiq"`
	ServiceVersion string `env:"OTEL_SERVICE_VERSION" envDefault:"0.1.0"`
	Environment    string `env:"OTEL_ENVIRONMENT"     envDefault:"development"`
	Exporter       string `env:"OTEL_EXPORTER"        envDefault:"stdout"`
}

// IsDevelopment reports whether telemetry runs against a local collector.
func (o OTel) IsDevelopment() bool {
	return o.Environment == "development"
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Backend {
	case BackendRiver, BackendRedis:
	default:
		return Config{}, fmt.Errorf("parse env: EVENT_LOG_BACKEND %q (use %q or %q)", cfg.Backend, BackendRiver, BackendRedis)
	}
	if cfg.ProjectionAttempts < 1 {
		return Config{}, fmt.Errorf("parse env: PROJECTION_ATTEMPTS must be at least 1, got %d", cfg.ProjectionAttempts)
	}
	return cfg, nil
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/listiq/internal/adapter/builder"
	csvadapter "github.com/neomorfeo/listiq/internal/adapter/csv"
	"github.com/neomorfeo/listiq/internal/adapter/fsm"
	handler "github.com/neomorfeo/listiq/internal/adapter/http"
	oteladapter "github.com/neomorfeo/listiq/internal/adapter/otel"
	redisadapter "github.com/neomorfeo/listiq/internal/adapter/redis"
	riveradapter "github.com/neomorfeo/listiq/internal/adapter/river"
	"github.com/neomorfeo/listiq/internal/adapter/sqlite"
	"github.com/neomorfeo/listiq/internal/app"
	"github.com/neomorfeo/listiq/internal/config"
	"github.com/neomorfeo/listiq/internal/domain"
)

func main() {
	if err := run(); err != nil {
		slog.Error("listiq stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(oteladapter.NewLogger(os.Stdout, cfg.OTel.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := oteladapter.Setup(ctx, oteladapter.Config{
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.OTel.ServiceVersion,
		Environment:    cfg.OTel.Environment,
		Exporter:       cfg.OTel.Exporter,
		Insecure:       cfg.OTel.IsDevelopment(),
		Backend:        cfg.Backend,
		Stream:         cfg.StreamName,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := oteladapter.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	a, err := build(ctx, cfg, db, rdb)
	if err != nil {
		return err
	}

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := a.start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listiq listening", "port", cfg.Port, "backend", cfg.Backend, "stream", cfg.StreamName)
		slog.Info("API docs", "url", "http://localhost:"+cfg.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := a.stop(shutdownCtx); err != nil {
		slog.Error("projection shutdown", "error", err)
	}

	slog.Info("stopped")
	return nil
}

// application is the wired service: the HTTP router plus the background
// projection of the event log.
type application struct {
	router http.Handler
	start  func(ctx context.Context) error
	stop   func(ctx context.Context) error
}

// build wires the adapters around the recipient service for the configured
// event log backend.
func build(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client) (*application, error) {
	lists, err := oteladapter.NewTracingListAggregator(sqlite.NewListRepository(db, fsm.New()))
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	deps := app.Dependencies{
		Builder: builder.New(),
		Store:   oteladapter.NewTracingRecipientStore(sqlite.NewRecipientRepository(db)),
		Index:   oteladapter.NewTracingSearchIndex(redisadapter.NewSearchIndex(rdb, cfg.Redis.IndexPrefix)),
		Lists:   lists,
		Parser:  csvadapter.NewParser(),
	}
	appCfg := app.Config{StreamName: cfg.StreamName}

	var listener domain.ImportStatusListener = redisadapter.NewProgressPublisher(rdb, cfg.Redis.ProgressChannel)

	// Projection never appends to the log, so the projector's service is
	// built before the log exists.
	projector, err := oteladapter.NewTracingProjector(app.NewProjector(app.NewRecipientService(appCfg, deps), listener))
	if err != nil {
		return nil, fmt.Errorf("projection metrics: %w", err)
	}

	a := &application{}
	switch cfg.Backend {
	case config.BackendRedis:
		consumer, err := redisadapter.NewConsumer(ctx, rdb, redisadapter.ConsumerConfig{
			Stream:     cfg.StreamName,
			Group:      cfg.Redis.ConsumerGroup,
			Consumer:   cfg.Redis.ConsumerName,
			BatchSize:  cfg.Redis.BatchSize,
			Block:      2 * time.Second,
			RetryDelay: time.Second,

			MaxDeliveries:    cfg.ProjectionAttempts,
			DeadLetterStream: cfg.Redis.DeadLetter,
		})
		if err != nil {
			return nil, fmt.Errorf("redis consumer: %w", err)
		}
		deps.Log = redisadapter.NewEventLog(rdb)

		done := make(chan struct{})
		var cancel context.CancelFunc = func() {}
		a.start = func(ctx context.Context) error {
			ctx, cancel = context.WithCancel(ctx)
			go func() {
				defer close(done)
				_ = consumer.Run(ctx, projector)
			}()
			return nil
		}
		a.stop = func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	default:
		client, err := riveradapter.Setup(ctx, db, cfg.StreamName, projector,
			riveradapter.WithProjectionAttempts(cfg.ProjectionAttempts))
		if err != nil {
			return nil, fmt.Errorf("river: %w", err)
		}
		deps.Log = riveradapter.NewEventLog(client, db, riveradapter.WithMaxAttempts(cfg.River.MaxAttempts))

		a.start = client.Start
		a.stop = func(ctx context.Context) error {
			softCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := client.Stop(softCtx); err == nil {
				return nil
			}
			// A job still backing off between projection attempts is cancelled.
			return client.StopAndCancel(ctx)
		}
	}
	deps.Log = oteladapter.NewTracingEventLog(deps.Log)

	svc := app.NewRecipientService(appCfg, deps)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware(cfg.OTel.ServiceName, otelchi.WithChiRoutes(router)))
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	api := humachi.New(router, huma.DefaultConfig("listiq", cfg.OTel.ServiceVersion))
	handler.Register(api, svc)

	a.router = router
	return a, nil
}

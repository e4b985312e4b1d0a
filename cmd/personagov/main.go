// Command personagov runs the persona governance layer: it owns the
// connections to PostgreSQL, NATS and the optional graph store, applies the
// schema migrations, reacts to counter reset triggers and serves the
// operational endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/adapter/graph"
	pghttp "github.com/Strob0t/personagov/internal/adapter/http"
	natsqueue "github.com/Strob0t/personagov/internal/adapter/nats"
	"github.com/Strob0t/personagov/internal/adapter/natskv"
	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/adapter/postgres"
	"github.com/Strob0t/personagov/internal/adapter/ristretto"
	"github.com/Strob0t/personagov/internal/adapter/tiered"
	"github.com/Strob0t/personagov/internal/config"
	"github.com/Strob0t/personagov/internal/logger"
	"github.com/Strob0t/personagov/internal/service"
)

// l1Expire bounds how long a type stays in process memory before it is
// re-read from the shared KV tier.
const l1Expire = time.Minute

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// app holds everything run builds, so admin commands can reuse the wiring.
type app struct {
	cfg       *config.Config
	db        *datastore.Manager
	store     *postgres.Store
	queue     *natsqueue.Queue
	instances *service.InstanceService
	ledger    *service.SpendLedger
	scheduler *service.CapacityScheduler
}

// bootstrap opens every store and builds the services on top of them.
// The caller owns the returned app and must call close.
func bootstrap(ctx context.Context, cfg *config.Config, log *slog.Logger, metrics *govotel.Metrics) (*app, error) {
	db := datastore.New(cfg, log, datastore.WithMetrics(metrics))
	if err := db.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize stores: %w", err)
	}

	a := &app{cfg: cfg, db: db, store: postgres.NewStore(db)}
	fail := func(err error) (*app, error) {
		a.close(context.Background())
		return nil, err
	}

	nc, js, err := db.NATS()
	if err != nil {
		return fail(fmt.Errorf("nats: %w", err))
	}
	a.queue, err = natsqueue.NewQueue(ctx, nc, js, cfg.NATS.Stream)
	if err != nil {
		return fail(fmt.Errorf("event stream: %w", err))
	}

	counters, err := counterRunner(ctx, db, cfg)
	if err != nil {
		return fail(err)
	}
	tasks := natskv.NewTaskCounter(counters)

	typeCache, err := newTypeCache(ctx, db, cfg.Cache)
	if err != nil {
		return fail(err)
	}

	a.instances = service.NewInstanceService(a.store, a.queue, tasks)
	a.instances.SetTypeCache(typeCache, cfg.Cache.L2TTL)
	if db.GraphEnabled() {
		a.instances.SetLinker(graph.NewLinker(db))
	}

	a.ledger = service.NewSpendLedger(a.store, a.queue, cfg.Spend)
	a.ledger.SetMetrics(metrics)

	a.scheduler = service.NewCapacityScheduler(a.store, a.ledger, tasks, cfg.Scheduler)
	a.scheduler.SetMetrics(metrics)
	return a, nil
}

// counterRunner returns the KV runner holding active task counts. Counts live
// in the default bucket unless a dedicated one is configured.
func counterRunner(ctx context.Context, db *datastore.Manager, cfg *config.Config) (datastore.KVRunner, error) {
	if cfg.Scheduler.CounterBucket == "" || cfg.Scheduler.CounterBucket == cfg.NATS.KVBucket {
		return db.KV, nil
	}
	kv, err := db.Bucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Scheduler.CounterBucket,
		Description: "active task counts per persona instance",
	})
	if err != nil {
		return nil, fmt.Errorf("counter bucket: %w", err)
	}
	return db.Bound(kv), nil
}

// newTypeCache stacks an in-process ristretto tier over a shared KV bucket.
func newTypeCache(ctx context.Context, db *datastore.Manager, cfg config.Cache) (*tiered.Cache, error) {
	l1, err := ristretto.NewMB(cfg.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	kv, err := db.Bucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.L2Bucket,
		Description: "persona type cache",
		TTL:         cfg.L2TTL,
	})
	if err != nil {
		l1.Close()
		return nil, fmt.Errorf("l2 cache bucket: %w", err)
	}
	return tiered.New(l1, natskv.New(db.Bound(kv)), l1Expire), nil
}

func (a *app) close(ctx context.Context) {
	if a.queue != nil {
		if err := a.queue.Drain(); err != nil {
			slog.Warn("drain event queue", "error", err)
		}
	}
	if err := a.db.Close(ctx); err != nil {
		slog.Warn("close stores", "error", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx := context.Background()

	shutdownTelemetry, err := govotel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	metrics, err := govotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	a, err := bootstrap(ctx, cfg, log, metrics)
	if err != nil {
		return err
	}

	maintenance := service.NewMaintenance(a.ledger, a.queue)
	stopMaintenance, err := maintenance.Start(ctx)
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("start maintenance: %w", err)
	}

	r := pghttp.NewRouter(&pghttp.Handlers{Stores: a.db}, cfg.Telemetry.ServiceName)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	stopMaintenance()
	a.close(shutdownCtx)
	return err
}

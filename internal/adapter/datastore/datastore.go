// Package datastore owns the process-wide connections to the relational
// store (PostgreSQL), the KV store and broker (NATS JetStream) and the
// optional graph store (Neo4j).
//
// A Manager is created once at startup, opened with Initialize and shared by
// every repository and service. Connections are leased per statement or per
// transaction; there is no global lock.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/config"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/resilience"
)

// Store names used in health maps, metrics and logs.
const (
	StorePostgres = "postgres"
	StoreNATS     = "nats"
	StoreGraph    = "graph"
)

// ErrNotInitialized is returned by calls made before Initialize succeeded or
// after Close.
var ErrNotInitialized = errors.New("datastore: not initialized")

// Manager is the connection manager shared by all repositories.
type Manager struct {
	cfg     config.Config
	log     *slog.Logger
	dial    Dialers
	now     func() time.Time
	metrics *govotel.Metrics
	onRetry func(store string, err error, next time.Duration)

	mu          sync.RWMutex
	initialized bool
	closed      bool
	pool        *pgxpool.Pool
	nc          *nats.Conn
	js          jetstream.JetStream
	kv          jetstream.KeyValue
	graph       GraphRunner

	breaker *resilience.Breaker
	slow    *slowLog
	leases  sync.Map // *pgx.Conn -> *atomic.Int64, for the per-connection query cap

	pgCounters    counters
	natsCounters  counters
	graphCounters counters
}

type counters struct {
	ok     atomic.Int64
	failed atomic.Int64
}

func (c *counters) record(err error) {
	if err != nil {
		c.failed.Add(1)
		return
	}
	c.ok.Add(1)
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialers replaces the functions used to open the stores.
func WithDialers(d Dialers) Option {
	return func(m *Manager) { m.dial = d }
}

// WithClock replaces the wall clock used for slow-query timing.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRetryNotify registers fn to observe each failed connection attempt
// that will be retried, with the delay before the next one.
func WithRetryNotify(fn func(store string, err error, next time.Duration)) Option {
	return func(m *Manager) { m.onRetry = fn }
}

// WithMetrics attaches OpenTelemetry instruments.
func WithMetrics(metrics *govotel.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// New creates a Manager. Nothing is opened until Initialize.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:  *cfg,
		log:  log.With("component", "datastore"),
		dial: DefaultDialers(),
		now:  time.Now,
		slow: newSlowLog(cfg.Store.SlowQueryLogSize),
	}
	m.breaker = resilience.NewBreaker(StoreGraph, cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	m.breaker.OnStateChange(func(name string, from, to resilience.State) {
		m.log.Warn("circuit breaker state change", "store", name, "from", from.String(), "to", to.String())
	})
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize opens every configured store. PostgreSQL and NATS are required:
// each is retried under its own budget and an exhausted budget fails with
// domain.ErrConnection. The graph store is optional: failure to reach it is
// logged and the graph is left disabled. Calling Initialize again after it
// succeeded is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if m.closed {
		return fmt.Errorf("datastore: initialize after close: %w", ErrNotInitialized)
	}

	pool, err := m.openPostgres(ctx)
	if err != nil {
		return err
	}

	nc, js, kv, err := m.openNATS(ctx)
	if err != nil {
		pool.Close()
		return err
	}

	m.pool, m.nc, m.js, m.kv = pool, nc, js, kv
	m.graph = m.openGraph(ctx)
	m.initialized = true

	m.log.Info("datastore initialized",
		"postgres_min_conns", m.cfg.Postgres.MinConns,
		"postgres_max_conns", m.cfg.Postgres.MaxConns,
		"nats_bucket", m.cfg.NATS.KVBucket,
		"graph_enabled", m.graph != nil,
	)
	return nil
}

func (m *Manager) openPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	pcfg, err := m.poolConfig()
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}

	var pool *pgxpool.Pool
	err = m.retry(StorePostgres, m.cfg.Postgres.Retry).Do(ctx, func(ctx context.Context) error {
		p, err := m.dial.Postgres(ctx, pcfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %w", domain.ErrConnection, err)
	}
	return pool, nil
}

func (m *Manager) openNATS(ctx context.Context) (*nats.Conn, jetstream.JetStream, jetstream.KeyValue, error) {
	var h NATSHandle
	err := m.retry(StoreNATS, m.cfg.NATS.Retry).Do(ctx, func(ctx context.Context) error {
		got, err := m.dial.NATS(ctx, m.cfg.NATS)
		if err != nil {
			return err
		}
		h = got
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: nats: %w", domain.ErrConnection, err)
	}
	return h.Conn, h.JetStream, h.KV, nil
}

func (m *Manager) openGraph(ctx context.Context) GraphRunner {
	if !m.cfg.Graph.Enabled {
		return nil
	}
	g, err := m.dial.Graph(ctx, m.cfg.Graph)
	if err != nil {
		m.log.Warn("graph store unavailable, continuing without it", "uri", m.cfg.Graph.URI, "error", err)
		return nil
	}
	return g
}

func (m *Manager) retry(store string, r config.Retry) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Delay:       r.Delay,
		Backoff:     r.Backoff,
		Notify: func(err error, next time.Duration) {
			m.log.Warn("store connection attempt failed, retrying", "store", store, "retry_in", next, "error", err)
			if m.metrics != nil {
				m.metrics.StoreRetries.Add(context.Background(), 1, govotel.StoreAttr(store))
			}
			if m.onRetry != nil {
				m.onRetry(store, err, next)
			}
		},
	}
}

// Close releases every connection. It is safe to call more than once and
// on a Manager that was never initialized.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.initialized = false

	var errs []error
	if m.graph != nil {
		if err := m.graph.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graph close: %w", err))
		}
		m.graph = nil
	}
	if m.nc != nil {
		if err := m.nc.Drain(); err != nil {
			m.nc.Close()
		}
		m.nc, m.js, m.kv = nil, nil, nil
	}
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}

	m.log.Info("datastore closed")
	return errors.Join(errs...)
}

// Pool returns the PostgreSQL pool, or nil before Initialize.
func (m *Manager) Pool() *pgxpool.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool
}

// NATS returns the broker connection and its JetStream context.
func (m *Manager) NATS() (*nats.Conn, jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.nc == nil {
		return nil, nil, ErrNotInitialized
	}
	return m.nc, m.js, nil
}

// GraphEnabled reports whether the graph store is connected.
func (m *Manager) GraphEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph != nil
}

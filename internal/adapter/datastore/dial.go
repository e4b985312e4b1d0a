package datastore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Strob0t/personagov/internal/config"
)

// NATSHandle bundles an open broker connection with its JetStream context
// and KV bucket.
type NATSHandle struct {
	Conn      *nats.Conn
	JetStream jetstream.JetStream
	KV        jetstream.KeyValue
}

// GraphRunner executes Cypher against the graph store.
type GraphRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Verify(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialers open the individual stores. Each dialer must verify its store
// with a round trip before returning.
type Dialers struct {
	Postgres func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error)
	NATS     func(ctx context.Context, cfg config.NATS) (NATSHandle, error)
	Graph    func(ctx context.Context, cfg config.Graph) (GraphRunner, error)
}

// DefaultDialers returns dialers backed by pgx, nats.go and the Neo4j driver.
func DefaultDialers() Dialers {
	return Dialers{
		Postgres: dialPostgres,
		NATS:     dialNATS,
		Graph:    dialNeo4j,
	}
}

// poolConfig maps config.Postgres onto pgxpool settings. The per-connection
// query cap is enforced here: every lease is counted in AfterRelease and a
// connection that reached the cap is destroyed instead of being returned.
func (m *Manager) poolConfig() (*pgxpool.Config, error) {
	pc := m.cfg.Postgres
	cfg, err := pgxpool.ParseConfig(pc.DSN)
	if err != nil {
		return nil, err
	}

	cfg.MinConns = pc.MinConns
	cfg.MaxConns = pc.MaxConns
	cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.HealthCheck > 0 {
		cfg.HealthCheckPeriod = pc.HealthCheck
	}

	if limit := int64(pc.MaxQueriesPerConn); limit > 0 {
		cfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
			m.leases.Store(conn, new(atomic.Int64))
			return nil
		}
		cfg.AfterRelease = func(conn *pgx.Conn) bool {
			v, ok := m.leases.Load(conn)
			if !ok {
				return true
			}
			return v.(*atomic.Int64).Add(1) < limit
		}
		cfg.BeforeClose = func(conn *pgx.Conn) {
			m.leases.Delete(conn)
		}
	}
	return cfg, nil
}

func dialPostgres(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func dialNATS(ctx context.Context, cfg config.NATS) (NATSHandle, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("personagov"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return NATSHandle{}, fmt.Errorf("connect: %w", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := nc.FlushWithContext(flushCtx); err != nil {
		nc.Close()
		return NATSHandle{}, fmt.Errorf("round trip: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return NATSHandle{}, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.KVBucket,
		History: 1,
	})
	if err != nil {
		nc.Close()
		return NATSHandle{}, fmt.Errorf("kv bucket %s: %w", cfg.KVBucket, err)
	}

	return NATSHandle{Conn: nc, JetStream: js, KV: kv}, nil
}

type neo4jRunner struct {
	driver neo4j.DriverWithContext
}

func dialNeo4j(ctx context.Context, cfg config.Graph) (GraphRunner, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
			c.MaxConnectionLifetime = cfg.MaxConnLifetime
			c.ConnectionAcquisitionTimeout = cfg.ConnectTimeout
			c.SocketConnectTimeout = cfg.ConnectTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}

	r := &neo4jRunner{driver: driver}
	verifyCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := r.Verify(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *neo4jRunner) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	res, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, rec.AsMap())
	}
	return out, nil
}

func (r *neo4jRunner) Verify(ctx context.Context) error {
	if err := r.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j verify: %w", err)
	}
	return nil
}

func (r *neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// staticTimeout bounds ctx by d unless ctx already has an earlier deadline.
func staticTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= d {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

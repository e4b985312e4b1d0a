// Package config provides hierarchical configuration loading for personagov.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the governance service.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Graph     Graph     `yaml:"graph"`
	Store     Store     `yaml:"store"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Cache     Cache     `yaml:"cache"`
	Telemetry Telemetry `yaml:"telemetry"`
	Spend     Spend     `yaml:"spend"`
	Scheduler Scheduler `yaml:"scheduler"`
}

// Server holds the operational HTTP listener configuration.
type Server struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Retry is a bounded exponential retry budget for opening a store.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Backoff     float64       `yaml:"backoff"`
}

// Postgres holds the relational pool configuration.
type Postgres struct {
	DSN               string        `yaml:"dsn"`
	MinConns          int32         `yaml:"min_conns"`
	MaxConns          int32         `yaml:"max_conns"`
	MaxQueriesPerConn int           `yaml:"max_queries_per_conn"` // 0 = unlimited
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	HealthCheck       time.Duration `yaml:"health_check"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	Retry             Retry         `yaml:"retry"`
}

// NATS holds the broker and KV bucket configuration.
type NATS struct {
	URL      string        `yaml:"url"`
	Stream   string        `yaml:"stream"`
	KVBucket string        `yaml:"kv_bucket"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    Retry         `yaml:"retry"`
}

// Graph holds the optional graph store configuration.
type Graph struct {
	Enabled         bool          `yaml:"enabled"`
	URI             string        `yaml:"uri"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxPoolSize     int           `yaml:"max_pool_size"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// Store holds cross-store instrumentation settings.
type Store struct {
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
	SlowQueryLogSize   int           `yaml:"slow_query_log_size"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for the graph store.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the tiered persona-type cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	L2Bucket    string        `yaml:"l2_bucket"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
}

// Telemetry holds OpenTelemetry exporter configuration.
type Telemetry struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Spend holds ledger policy configuration. The threshold is a decimal
// string so it compares exactly against ledger percentages.
type Spend struct {
	WarningThresholdPct string `yaml:"warning_threshold_pct"`
}

// WarningThreshold parses WarningThresholdPct.
func (s Spend) WarningThreshold() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s.WarningThresholdPct))
}

// Scheduler holds admission control configuration.
type Scheduler struct {
	Parallelism   int    `yaml:"parallelism"` // concurrent task-count lookups
	CounterBucket string `yaml:"counter_bucket"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8081",
			ShutdownTimeout: 10 * time.Second,
		},
		Postgres: Postgres{
			DSN:               "postgres://orchestrator_user@localhost:5434/ai_orchestrator?sslmode=disable",
			MinConns:          10,
			MaxConns:          20,
			MaxQueriesPerConn: 50000,
			MaxConnIdleTime:   300 * time.Second,
			MaxConnLifetime:   time.Hour,
			HealthCheck:       time.Minute,
			CommandTimeout:    60 * time.Second,
			AcquireTimeout:    10 * time.Second,
			Retry:             Retry{MaxAttempts: 3, Delay: time.Second, Backoff: 2},
		},
		NATS: NATS{
			URL:      "nats://localhost:4222",
			Stream:   "PERSONAGOV",
			KVBucket: "personagov",
			Timeout:  5 * time.Second,
			Retry:    Retry{MaxAttempts: 3, Delay: time.Second, Backoff: 2},
		},
		Graph: Graph{
			Enabled:         false,
			URI:             "bolt://localhost:7687",
			Username:        "neo4j",
			Password:        "password",
			MaxPoolSize:     50,
			MaxConnLifetime: time.Hour,
			ConnectTimeout:  60 * time.Second,
		},
		Store: Store{
			SlowQueryThreshold: time.Second,
			SlowQueryLogSize:   1000,
		},
		Logging: Logging{
			Level:   "info",
			Service: "personagov",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			L2Bucket:    "personagov-cache",
			L2TTL:       10 * time.Minute,
		},
		Telemetry: Telemetry{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "personagov",
			SampleRate:  1.0,
		},
		Spend: Spend{
			WarningThresholdPct: "80",
		},
		Scheduler: Scheduler{
			Parallelism:   8,
			CounterBucket: "personagov-tasks",
		},
	}
}

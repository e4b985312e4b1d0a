package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "personagov.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PERSONAGOV_PORT")
	setDuration(&cfg.Server.ShutdownTimeout, "PERSONAGOV_SHUTDOWN_TIMEOUT")

	// Postgres
	setPostgresParts(&cfg.Postgres.DSN)
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MinConns, "DB_POOL_MIN_SIZE")
	setInt32(&cfg.Postgres.MaxConns, "DB_POOL_MAX_SIZE")
	setInt(&cfg.Postgres.MaxQueriesPerConn, "DB_POOL_MAX_QUERIES")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DB_POOL_MAX_INACTIVE_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.HealthCheck, "DB_HEALTH_CHECK")
	setDuration(&cfg.Postgres.CommandTimeout, "DB_COMMAND_TIMEOUT")
	setDuration(&cfg.Postgres.AcquireTimeout, "DB_ACQUIRE_TIMEOUT")
	setInt(&cfg.Postgres.Retry.MaxAttempts, "DB_MAX_RETRIES")
	setDuration(&cfg.Postgres.Retry.Delay, "DB_RETRY_DELAY")
	setFloat64(&cfg.Postgres.Retry.Backoff, "DB_RETRY_BACKOFF")

	// NATS
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "NATS_STREAM")
	setString(&cfg.NATS.KVBucket, "NATS_KV_BUCKET")
	setDuration(&cfg.NATS.Timeout, "NATS_TIMEOUT")
	setInt(&cfg.NATS.Retry.MaxAttempts, "NATS_MAX_RETRIES")
	setDuration(&cfg.NATS.Retry.Delay, "NATS_RETRY_DELAY")
	setFloat64(&cfg.NATS.Retry.Backoff, "NATS_RETRY_BACKOFF")

	// Graph
	setBool(&cfg.Graph.Enabled, "NEO4J_ENABLED")
	setString(&cfg.Graph.URI, "NEO4J_URI")
	setAuth(&cfg.Graph.Username, &cfg.Graph.Password, "NEO4J_AUTH")
	setInt(&cfg.Graph.MaxPoolSize, "NEO4J_MAX_POOL_SIZE")
	setDuration(&cfg.Graph.MaxConnLifetime, "NEO4J_MAX_CONNECTION_LIFETIME")
	setDuration(&cfg.Graph.ConnectTimeout, "NEO4J_CONNECTION_TIMEOUT")

	setDuration(&cfg.Store.SlowQueryThreshold, "PERSONAGOV_SLOW_QUERY_THRESHOLD")
	setInt(&cfg.Store.SlowQueryLogSize, "PERSONAGOV_SLOW_QUERY_LOG_SIZE")

	setString(&cfg.Logging.Level, "PERSONAGOV_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PERSONAGOV_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PERSONAGOV_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "PERSONAGOV_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PERSONAGOV_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "PERSONAGOV_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "PERSONAGOV_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "PERSONAGOV_CACHE_L2_TTL")

	// Telemetry
	setBool(&cfg.Telemetry.Enabled, "PERSONAGOV_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "PERSONAGOV_OTEL_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "PERSONAGOV_OTEL_INSECURE")
	setString(&cfg.Telemetry.ServiceName, "PERSONAGOV_OTEL_SERVICE_NAME")
	setFloat64(&cfg.Telemetry.SampleRate, "PERSONAGOV_OTEL_SAMPLE_RATE")

	setString(&cfg.Spend.WarningThresholdPct, "PERSONAGOV_SPEND_WARNING_PCT")

	setInt(&cfg.Scheduler.Parallelism, "PERSONAGOV_SCHEDULER_PARALLELISM")
	setString(&cfg.Scheduler.CounterBucket, "PERSONAGOV_SCHEDULER_COUNTER_BUCKET")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.NATS.KVBucket == "" {
		return errors.New("nats.kv_bucket is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Postgres.MinConns < 0 || cfg.Postgres.MinConns > cfg.Postgres.MaxConns {
		return errors.New("postgres.min_conns must be within [0, max_conns]")
	}
	if cfg.Postgres.MaxQueriesPerConn < 0 {
		return errors.New("postgres.max_queries_per_conn must be >= 0")
	}
	if err := validateRetry("postgres.retry", cfg.Postgres.Retry); err != nil {
		return err
	}
	if err := validateRetry("nats.retry", cfg.NATS.Retry); err != nil {
		return err
	}
	if cfg.Graph.Enabled && cfg.Graph.URI == "" {
		return errors.New("graph.uri is required when graph is enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Store.SlowQueryLogSize < 1 {
		return errors.New("store.slow_query_log_size must be >= 1")
	}
	if err := validateThreshold(cfg.Spend); err != nil {
		return err
	}
	if cfg.Scheduler.Parallelism < 1 {
		return errors.New("scheduler.parallelism must be >= 1")
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

func validateThreshold(s Spend) error {
	pct, err := s.WarningThreshold()
	if err != nil {
		return fmt.Errorf("spend.warning_threshold_pct %q is not a decimal", s.WarningThresholdPct)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return errors.New("spend.warning_threshold_pct must be within [0, 100]")
	}
	return nil
}

func validateRetry(name string, r Retry) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be >= 1", name)
	}
	if r.Delay < 0 {
		return fmt.Errorf("%s.delay must be >= 0", name)
	}
	if r.Backoff < 1 {
		return fmt.Errorf("%s.backoff must be >= 1", name)
	}
	return nil
}

// setPostgresParts builds a DSN from POSTGRES_HOST and friends when the host
// is set. DATABASE_URL still takes precedence because it is applied after.
func setPostgresParts(dst *string) {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return
	}
	port := envOr("POSTGRES_PORT", "5434")
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + envOr("POSTGRES_DB", "ai_orchestrator"),
		RawQuery: "sslmode=" + envOr("POSTGRES_SSLMODE", "disable"),
	}
	user := envOr("POSTGRES_USER", "orchestrator_user")
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	*dst = u.String()
}

// setAuth splits a "user/password" pair.
func setAuth(user, password *string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	u, p, ok := strings.Cut(v, "/")
	if !ok {
		return
	}
	*user = u
	*password = p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go duration syntax or a bare number of seconds
// ("300", "1.5").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		*dst = time.Duration(secs * float64(time.Second))
	}
}

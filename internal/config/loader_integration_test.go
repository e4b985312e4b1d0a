package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// These exercise the full LoadFrom pipeline: defaults < YAML < environment.

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFrom_FullHierarchy(t *testing.T) {
	path := writeYAML(t, `
postgres:
  command_timeout: 30s
logging:
  level: "debug"
`)
	t.Setenv("DB_COMMAND_TIMEOUT", "5")
	t.Setenv("PERSONAGOV_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Postgres.CommandTimeout != 5*time.Second {
		t.Errorf("env should override YAML: got %v, want 5s", cfg.Postgres.CommandTimeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML: got level %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadFrom_YAMLPartialOverride(t *testing.T) {
	path := writeYAML(t, `
nats:
  kv_bucket: "fleet"
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.NATS.KVBucket != "fleet" {
		t.Errorf("got bucket %q, want fleet", cfg.NATS.KVBucket)
	}
	if cfg.NATS.Stream != "PERSONAGOV" {
		t.Errorf("default stream should survive, got %q", cfg.NATS.Stream)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("default max_conns should survive, got %d", cfg.Postgres.MaxConns)
	}
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	path := writeYAML(t, "postgres: [unclosed")

	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "config yaml") {
		t.Errorf("expected config yaml prefix, got %v", err)
	}
}

func TestLoadFrom_ValidationFailure(t *testing.T) {
	path := writeYAML(t, `
postgres:
  max_conns: 0
`)

	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "config validate") {
		t.Errorf("expected config validate prefix, got %v", err)
	}
}

func TestLoadFrom_EnvMakesInvalid(t *testing.T) {
	t.Setenv("NEO4J_ENABLED", "true")
	t.Setenv("NEO4J_URI", "")
	path := writeYAML(t, `
graph:
  uri: ""
`)

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected graph.uri validation error")
	}
}

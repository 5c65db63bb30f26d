package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/workflows"
)

const baseConfig = `
shutdown_timeout = "30s"
version = "0.1.0"

[server]
host = "0.0.0.0"
port = 8080

[database]
host = "localhost"
port = 5432
name = "concord"
user = "concord"
password = "concord"

[api]
base_path = "/api"

[api.pagination]
default_page_size = 25
max_page_size = 50

[engine]
store = "postgres"
default_threshold = 0.8
default_min_reviewers = 2

[events]
buffer_size = 512

[events.kafka]
brokers = ["localhost:9092"]
topic = "concord.events"

[deadlines]
schedule = "@every 5m"
`

const overlayConfig = `
[server]
port = 9090

[database]
host = "prodhost"

[engine]
default_min_reviewers = 4
`

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	t.Chdir(dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "concord" {
		t.Errorf("db name: got %s, want concord", cfg.Database.Name)
	}
	if cfg.API.Pagination.DefaultPageSize != 25 {
		t.Errorf("pagination default_page_size: got %d, want 25", cfg.API.Pagination.DefaultPageSize)
	}
	if cfg.Engine.DefaultThreshold != 0.8 {
		t.Errorf("engine threshold: got %v, want 0.8", cfg.Engine.DefaultThreshold)
	}
	if cfg.Engine.DefaultMinReviewers != 2 {
		t.Errorf("engine min reviewers: got %d, want 2", cfg.Engine.DefaultMinReviewers)
	}
	if cfg.Events.BufferSize != 512 {
		t.Errorf("events buffer: got %d, want 512", cfg.Events.BufferSize)
	}
	if !cfg.Events.Kafka.Enabled() {
		t.Error("kafka sink should be enabled")
	}
	if cfg.Events.AMQP.Enabled() || cfg.Events.Redis.Enabled() {
		t.Error("amqp and redis sinks should be disabled")
	}
	if cfg.Storage.Enabled() {
		t.Error("storage should be disabled without a connection string")
	}
	if cfg.Deadlines.Schedule != "@every 5m" {
		t.Errorf("deadline schedule: got %s, want @every 5m", cfg.Deadlines.Schedule)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics path: got %s, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoadWithOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	writeConfig(t, dir, "config.staging.toml", overlayConfig)
	t.Chdir(dir)

	t.Setenv("CONCORD_ENV", "staging")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port: got %d, want 9090 (from overlay)", cfg.Server.Port)
	}
	if cfg.Database.Host != "prodhost" {
		t.Errorf("db host: got %s, want prodhost (from overlay)", cfg.Database.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("db port: got %d, want 5432 (from base)", cfg.Database.Port)
	}
	if cfg.Engine.DefaultMinReviewers != 4 {
		t.Errorf("engine min reviewers: got %d, want 4 (from overlay)", cfg.Engine.DefaultMinReviewers)
	}
	if cfg.Engine.DefaultThreshold != 0.8 {
		t.Errorf("engine threshold: got %v, want 0.8 (from base)", cfg.Engine.DefaultThreshold)
	}
}

func TestLoadEnvVarOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", baseConfig)
	t.Chdir(dir)

	t.Setenv("CONCORD_VERSION", "2.0.0")
	t.Setenv("CONCORD_SERVER_PORT", "3000")
	t.Setenv("CONCORD_ENGINE_DEFAULT_THRESHOLD", "0.65")
	t.Setenv("CONCORD_REDIS_ADDR", "localhost:6379")
	t.Setenv("CONCORD_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version: got %s, want 2.0.0", cfg.Version)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("server port: got %d, want 3000", cfg.Server.Port)
	}
	if cfg.Engine.DefaultThreshold != 0.65 {
		t.Errorf("engine threshold: got %v, want 0.65", cfg.Engine.DefaultThreshold)
	}
	if !cfg.Events.Redis.Enabled() {
		t.Error("redis sink should be enabled from env")
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", cfg.Level())
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("CONCORD_DB_NAME", "testdb")
	t.Setenv("CONCORD_DB_USER", "testuser")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load without config.toml failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port default: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.Store != workflows.DriverPostgres {
		t.Errorf("engine store default: got %s, want postgres", cfg.Engine.Store)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("db name from env: got %s, want testdb", cfg.Database.Name)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("log format default: got %s, want text", cfg.LogFormat)
	}
}

func TestLoadMemoryStoreSkipsDatabase(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("CONCORD_ENGINE_STORE", "memory")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Engine.Store != workflows.DriverMemory {
		t.Errorf("engine store: got %s, want memory", cfg.Engine.Store)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.toml", `[server`)
	t.Chdir(dir)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestEnv(t *testing.T) {
	cfg := &config.Config{}

	if cfg.Env() != "local" {
		t.Errorf("env: got %s, want local", cfg.Env())
	}

	t.Setenv("CONCORD_ENV", "production")
	if cfg.Env() != "production" {
		t.Errorf("env: got %s, want production", cfg.Env())
	}
}

func TestShutdownTimeoutDuration(t *testing.T) {
	cfg := &config.Config{ShutdownTimeout: "45s"}
	if got := cfg.ShutdownTimeoutDuration(); got != 45*time.Second {
		t.Errorf("shutdown timeout: got %v, want 45s", got)
	}
}

func TestServerAddr(t *testing.T) {
	cfg := &config.ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("addr: got %s, want 127.0.0.1:9000", got)
	}
}

const memoryEngine = "[engine]\nstore = \"memory\"\n"

func TestServerDefaultsAndOverrides(t *testing.T) {
	t.Setenv("CONCORD_SERVER_IDLE_TIMEOUT", "5m")

	cfg := &config.ServerConfig{WriteTimeout: "45s"}
	cfg.Merge(&config.ServerConfig{ReadHeaderTimeout: "3s"})
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if got := cfg.ReadTimeoutDuration(); got != 30*time.Second {
		t.Errorf("read timeout default: got %v, want 30s", got)
	}
	if got := cfg.ReadHeaderTimeoutDuration(); got != 3*time.Second {
		t.Errorf("read header timeout: got %v, want 3s (from overlay)", got)
	}
	if got := cfg.WriteTimeoutDuration(); got != 45*time.Second {
		t.Errorf("write timeout: got %v, want 45s", got)
	}
	if got := cfg.IdleTimeoutDuration(); got != 5*time.Minute {
		t.Errorf("idle timeout: got %v, want 5m (from env)", got)
	}
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid shutdown timeout", "shutdown_timeout = \"soon\"\n" + memoryEngine},
		{"invalid log level", "log_level = \"loud\"\n" + memoryEngine},
		{"invalid log format", "log_format = \"xml\"\n" + memoryEngine},
		{"invalid server port", "[server]\nport = 70000\n" + memoryEngine},
		{"non-positive idle timeout", "[server]\nidle_timeout = \"0s\"\n" + memoryEngine},
		{"invalid base path", "[api]\nbase_path = \"api/\"\n" + memoryEngine},
		{"invalid metrics path", "[metrics]\npath = \"metrics\"\n" + memoryEngine},
		{"invalid schedule", "[deadlines]\nschedule = \"whenever\"\n" + memoryEngine},
		{"invalid store", "[engine]\nstore = \"sqlite\""},
		{"invalid threshold", memoryEngine + "default_threshold = 1.5"},
		{"missing database name", "[engine]\nstore = \"postgres\"\n[database]\nuser = \"concord\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte(tt.content))
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if err := cfg.Finalize(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := &config.Config{
		Version:  "1.0.0",
		LogLevel: "info",
		Metrics:  config.MetricsConfig{Path: "/metrics"},
	}
	base.Merge(&config.Config{
		LogLevel: "warn",
		Metrics:  config.MetricsConfig{Disabled: true},
	})

	if base.Version != "1.0.0" {
		t.Errorf("version: got %s, want 1.0.0", base.Version)
	}
	if base.LogLevel != "warn" {
		t.Errorf("log level: got %s, want warn", base.LogLevel)
	}
	if !base.Metrics.Disabled || base.Metrics.Path != "/metrics" {
		t.Errorf("metrics: got %+v", base.Metrics)
	}
}

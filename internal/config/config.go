// Package config loads the service configuration from config.toml, an
// optional config.<CONCORD_ENV>.toml overlay, and CONCORD_* environment
// variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/concord/internal/deadlines"
	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/internal/workflows"
	"github.com/JaimeStill/concord/pkg/database"
	"github.com/JaimeStill/concord/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvConcordEnv             = "CONCORD_ENV"
	EnvConcordShutdownTimeout = "CONCORD_SHUTDOWN_TIMEOUT"
	EnvConcordVersion         = "CONCORD_VERSION"
	EnvConcordLogLevel        = "CONCORD_LOG_LEVEL"
	EnvConcordLogFormat       = "CONCORD_LOG_FORMAT"
)

var databaseEnv = &database.Env{
	Host:            "CONCORD_DB_HOST",
	Port:            "CONCORD_DB_PORT",
	Name:            "CONCORD_DB_NAME",
	User:            "CONCORD_DB_USER",
	Password:        "CONCORD_DB_PASSWORD",
	SSLMode:         "CONCORD_DB_SSL_MODE",
	MaxOpenConns:    "CONCORD_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "CONCORD_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "CONCORD_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "CONCORD_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "CONCORD_STORAGE_CONTAINER_NAME",
	ConnectionString: "CONCORD_STORAGE_CONNECTION_STRING",
}

var engineEnv = &workflows.Env{
	Store:                 "CONCORD_ENGINE_STORE",
	DefaultThreshold:      "CONCORD_ENGINE_DEFAULT_THRESHOLD",
	DefaultMinReviewers:   "CONCORD_ENGINE_DEFAULT_MIN_REVIEWERS",
	AutoAssignConcurrency: "CONCORD_ENGINE_AUTO_ASSIGN_CONCURRENCY",
}

var eventsEnv = &events.Env{
	BufferSize:    "CONCORD_EVENTS_BUFFER_SIZE",
	Workers:       "CONCORD_EVENTS_WORKERS",
	MaxRetries:    "CONCORD_EVENTS_MAX_RETRIES",
	KafkaBrokers:  "CONCORD_KAFKA_BROKERS",
	KafkaTopic:    "CONCORD_KAFKA_TOPIC",
	AMQPURL:       "CONCORD_AMQP_URL",
	AMQPExchange:  "CONCORD_AMQP_EXCHANGE",
	RedisAddr:     "CONCORD_REDIS_ADDR",
	RedisPassword: "CONCORD_REDIS_PASSWORD",
	RedisDB:       "CONCORD_REDIS_DB",
	RedisChannel:  "CONCORD_REDIS_CHANNEL",
}

var deadlinesEnv = &deadlines.Env{
	Disabled: "CONCORD_DEADLINES_DISABLED",
	Schedule: "CONCORD_DEADLINES_SCHEDULE",
	Timeout:  "CONCORD_DEADLINES_TIMEOUT",
}

// Config is the root configuration for the Concord service.
type Config struct {
	Server          ServerConfig     `toml:"server"`
	Database        database.Config  `toml:"database"`
	Storage         storage.Config   `toml:"storage"`
	API             APIConfig        `toml:"api"`
	Engine          workflows.Config `toml:"engine"`
	Events          events.Config    `toml:"events"`
	Deadlines       deadlines.Config `toml:"deadlines"`
	Metrics         MetricsConfig    `toml:"metrics"`
	ShutdownTimeout string           `toml:"shutdown_timeout"`
	Version         string           `toml:"version"`
	LogLevel        string           `toml:"log_level"`
	LogFormat       string           `toml:"log_format"`
}

// Env returns the CONCORD_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvConcordEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout)
}

// Level returns LogLevel as a slog.Level.
func (c *Config) Level() slog.Level {
	var level slog.Level
	level.UnmarshalText([]byte(c.LogLevel))
	return level
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Parse decodes TOML configuration without finalizing it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != "" {
		c.LogFormat = overlay.LogFormat
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.API.Merge(&overlay.API)
	c.Engine.Merge(&overlay.Engine)
	c.Events.Merge(&overlay.Events)
	c.Deadlines.Merge(&overlay.Deadlines)
	c.Metrics.Merge(&overlay.Metrics)
}

// Finalize applies defaults, environment overrides, and validation to
// every section.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Engine.Finalize(engineEnv); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.Store == workflows.DriverPostgres {
		if err := c.Database.Finalize(databaseEnv); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Events.Finalize(eventsEnv); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := c.Deadlines.Finalize(deadlinesEnv); err != nil {
		return fmt.Errorf("deadlines: %w", err)
	}
	if err := c.Metrics.Finalize(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvConcordShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvConcordVersion); v != "" {
		c.Version = v
	}
	if v := os.Getenv(EnvConcordLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvConcordLogFormat); v != "" {
		c.LogFormat = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be text or json", c.LogFormat)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func overlayPath() string {
	if env := os.Getenv(EnvConcordEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Package infrastructure provides core service initialization for application startup.
// It assembles common dependencies (logging, persistence, storage, metrics, and
// event delivery) that the review engine requires.
package infrastructure

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/events"
	"github.com/JaimeStill/concord/internal/metrics"
	"github.com/JaimeStill/concord/internal/workflows"
	"github.com/JaimeStill/concord/pkg/database"
	"github.com/JaimeStill/concord/pkg/lifecycle"
	"github.com/JaimeStill/concord/pkg/storage"
)

// Infrastructure holds the core systems required by the domain.
// Database is nil when the engine runs on the memory store, and Storage is
// nil when no connection string is configured. Metrics is nil when disabled.
type Infrastructure struct {
	Lifecycle  *lifecycle.Coordinator
	Logger     *slog.Logger
	Database   database.System
	Storage    storage.System
	Metrics    *metrics.Metrics
	Store      workflows.Store
	Dispatcher *events.Dispatcher
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
// Broker connections for the AMQP sink are dialed here so that a bad URL
// fails fast.
func New(cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{
		Lifecycle: lifecycle.New(),
		Logger:    newLogger(cfg),
	}

	if !cfg.Metrics.Disabled {
		infra.Metrics = metrics.New()
	}

	switch cfg.Engine.Store {
	case workflows.DriverPostgres:
		db, err := database.New(&cfg.Database, infra.Logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		infra.Database = db
		infra.Store = workflows.NewPostgresStore(db.Connection())
	default:
		infra.Store = workflows.NewMemoryStore()
	}

	if cfg.Storage.Enabled() {
		store, err := storage.New(&cfg.Storage, infra.Logger)
		if err != nil {
			return nil, fmt.Errorf("storage init failed: %w", err)
		}
		infra.Storage = store
	}

	dispatcher, err := newDispatcher(&cfg.Events, infra)
	if err != nil {
		return nil, fmt.Errorf("events init failed: %w", err)
	}
	infra.Dispatcher = dispatcher

	return infra, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator.
func (i *Infrastructure) Start() error {
	if i.Database != nil {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	}
	if i.Storage != nil {
		if err := i.Storage.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("storage start failed: %w", err)
		}
	}
	i.Dispatcher.Start(i.Lifecycle)
	return nil
}

// Ready reports whether startup has completed and the database, if any,
// answered its ping.
func (i *Infrastructure) Ready() bool {
	if !i.Lifecycle.Ready() {
		return false
	}
	if i.Database != nil && !i.Database.Ready() {
		return false
	}
	return true
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newDispatcher(cfg *events.Config, infra *Infrastructure) (*events.Dispatcher, error) {
	sinks := []events.Sink{events.NewLogSink(infra.Logger)}
	var closers []func() error

	if cfg.Kafka.Enabled() {
		w := events.NewKafkaWriter(&cfg.Kafka)
		sinks = append(sinks, events.NewKafkaSink(w))
		closers = append(closers, w.Close)
	}

	if cfg.AMQP.Enabled() {
		conn, ch, err := events.DialAMQP(&cfg.AMQP)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.NewAMQPSink(ch, cfg.AMQP.Exchange))
		closers = append(closers, ch.Close, conn.Close)
	}

	if cfg.Redis.Enabled() {
		client := events.NewRedisClient(&cfg.Redis)
		sinks = append(sinks, events.NewRedisSink(client, cfg.Redis.Channel, cfg.Redis.DiscussionTTLDuration()))
		closers = append(closers, client.Close)
	}

	if infra.Storage != nil {
		sinks = append(sinks, events.NewArchiveSink(infra.Storage))
	}

	var observer events.Observer
	if infra.Metrics != nil {
		observer = infra.Metrics
	}

	d := events.NewDispatcher(cfg, infra.Logger, observer, sinks...)
	for _, fn := range closers {
		d.OnClose(fn)
	}
	return d, nil
}

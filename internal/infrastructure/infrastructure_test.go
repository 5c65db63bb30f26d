package infrastructure_test

import (
	"testing"
	"time"

	"github.com/JaimeStill/concord/internal/config"
	"github.com/JaimeStill/concord/internal/infrastructure"
	"github.com/JaimeStill/concord/pkg/database"
	"github.com/JaimeStill/concord/pkg/storage"
)

const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=concordstore;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/concordstore;"

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("[engine]\nstore = \"memory\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return cfg
}

func TestNewMemory(t *testing.T) {
	infra, err := infrastructure.New(memoryConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if infra.Lifecycle == nil {
		t.Error("Lifecycle is nil")
	}
	if infra.Logger == nil {
		t.Error("Logger is nil")
	}
	if infra.Store == nil {
		t.Error("Store is nil")
	}
	if infra.Metrics == nil {
		t.Error("Metrics is nil")
	}
	if infra.Database != nil {
		t.Error("Database should be nil for the memory store")
	}
	if infra.Storage != nil {
		t.Error("Storage should be nil without a connection string")
	}

	sinks := infra.Dispatcher.Sinks()
	if len(sinks) != 1 || sinks[0] != "log" {
		t.Errorf("sinks: got %v, want [log]", sinks)
	}
}

func TestNewMetricsDisabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Metrics.Disabled = true

	infra, err := infrastructure.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if infra.Metrics != nil {
		t.Error("Metrics should be nil when disabled")
	}
}

func TestNewPostgres(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Engine.Store = "postgres"
	cfg.Database = database.Config{
		Host:            "localhost",
		Port:            5432,
		Name:            "concord",
		User:            "concord",
		Password:        "concord",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: "15m",
		ConnTimeout:     "5s",
	}

	infra, err := infrastructure.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if infra.Database == nil {
		t.Fatal("Database is nil")
	}
	infra.Database.Connection().Close()
}

func TestNewStorageArchiveSink(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage = storage.Config{
		ContainerName:    "decisions",
		ConnectionString: azuriteConnString,
	}

	infra, err := infrastructure.New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if infra.Storage == nil {
		t.Fatal("Storage is nil")
	}

	sinks := infra.Dispatcher.Sinks()
	if len(sinks) != 2 || sinks[1] != "archive" {
		t.Errorf("sinks: got %v, want [log archive]", sinks)
	}
}

func TestNewInvalidStorageConfig(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.ConnectionString = "not-a-connection-string"

	if _, err := infrastructure.New(cfg); err == nil {
		t.Fatal("expected error for invalid storage connection string")
	}
}

func TestStartAndShutdown(t *testing.T) {
	infra, err := infrastructure.New(memoryConfig(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if infra.Ready() {
		t.Error("should not be ready before startup")
	}
	if err := infra.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	infra.Lifecycle.WaitForStartup()

	if !infra.Ready() {
		t.Error("should be ready after startup")
	}
	if err := infra.Lifecycle.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

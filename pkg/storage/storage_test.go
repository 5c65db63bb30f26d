package storage_test

import (
	"errors"
	"testing"

	"github.com/JaimeStill/concord/pkg/storage"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{"valid", "decisions/abc/def.json", nil},
		{"empty", "", storage.ErrEmptyKey},
		{"traversal", "decisions/../secrets", storage.ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storage.ValidateKey(tt.key); !errors.Is(got, tt.want) {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestConfigFinalize(t *testing.T) {
	t.Setenv("TEST_STORAGE_CONN", "UseDevelopmentStorage=true")

	cfg := storage.Config{}
	if err := cfg.Finalize(&storage.Env{ConnectionString: "TEST_STORAGE_CONN"}); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.ContainerName != "decisions" {
		t.Errorf("ContainerName = %q, want decisions", cfg.ContainerName)
	}
	if !cfg.Enabled() {
		t.Error("storage should be enabled when a connection string is set")
	}
}

func TestConfigDisabledWithoutConnectionString(t *testing.T) {
	cfg := storage.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if cfg.Enabled() {
		t.Error("storage should be disabled without a connection string")
	}
}

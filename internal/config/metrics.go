package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvMetricsDisabled = "CONCORD_METRICS_DISABLED"
	EnvMetricsPath     = "CONCORD_METRICS_PATH"
)

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Disabled bool   `toml:"disabled"`
	Path     string `toml:"path"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *MetricsConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *MetricsConfig) Merge(overlay *MetricsConfig) {
	if overlay.Disabled {
		c.Disabled = true
	}
	if overlay.Path != "" {
		c.Path = overlay.Path
	}
}

func (c *MetricsConfig) loadDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c *MetricsConfig) loadEnv() {
	if v := os.Getenv(EnvMetricsDisabled); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Disabled = b
		}
	}
	if v := os.Getenv(EnvMetricsPath); v != "" {
		c.Path = v
	}
}

func (c *MetricsConfig) validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path must start with /, got %q", c.Path)
	}
	return nil
}

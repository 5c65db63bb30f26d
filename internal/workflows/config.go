package workflows

import (
	"fmt"
	"os"
	"strconv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds engine defaults applied to new workflows.
type Config struct {
	Store                 string  `toml:"store"`
	DefaultThreshold      float64 `toml:"default_threshold"`
	DefaultMinReviewers   int     `toml:"default_min_reviewers"`
	AutoAssignConcurrency int     `toml:"auto_assign_concurrency"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Store                 string
	DefaultThreshold      string
	DefaultMinReviewers   string
	AutoAssignConcurrency string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Store != "" {
		c.Store = overlay.Store
	}
	if overlay.DefaultThreshold > 0 {
		c.DefaultThreshold = overlay.DefaultThreshold
	}
	if overlay.DefaultMinReviewers > 0 {
		c.DefaultMinReviewers = overlay.DefaultMinReviewers
	}
	if overlay.AutoAssignConcurrency > 0 {
		c.AutoAssignConcurrency = overlay.AutoAssignConcurrency
	}
}

func (c *Config) loadDefaults() {
	if c.Store == "" {
		c.Store = DriverPostgres
	}
	if c.DefaultThreshold == 0 {
		c.DefaultThreshold = 0.7
	}
	if c.DefaultMinReviewers == 0 {
		c.DefaultMinReviewers = 3
	}
	if c.AutoAssignConcurrency == 0 {
		c.AutoAssignConcurrency = 8
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Store != "" {
		if v := os.Getenv(env.Store); v != "" {
			c.Store = v
		}
	}
	if env.DefaultThreshold != "" {
		if v := os.Getenv(env.DefaultThreshold); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.DefaultThreshold = f
			}
		}
	}
	if env.DefaultMinReviewers != "" {
		if v := os.Getenv(env.DefaultMinReviewers); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.DefaultMinReviewers = n
			}
		}
	}
	if env.AutoAssignConcurrency != "" {
		if v := os.Getenv(env.AutoAssignConcurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.AutoAssignConcurrency = n
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Store != DriverPostgres && c.Store != DriverMemory {
		return fmt.Errorf("store must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Store)
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("default_threshold must be within [0,1]")
	}
	if c.DefaultMinReviewers < 1 {
		return fmt.Errorf("default_min_reviewers must be at least 1")
	}
	if c.AutoAssignConcurrency < 1 {
		return fmt.Errorf("auto_assign_concurrency must be at least 1")
	}
	return nil
}

package events

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds dispatcher tuning and optional sink connections.
type Config struct {
	BufferSize      int         `toml:"buffer_size"`
	Workers         int         `toml:"workers"`
	MaxRetries      int         `toml:"max_retries"`
	RetryInterval   string      `toml:"retry_interval"`
	MaxInterval     string      `toml:"max_interval"`
	BreakerFailures int         `toml:"breaker_failures"`
	BreakerTimeout  string      `toml:"breaker_timeout"`
	DrainTimeout    string      `toml:"drain_timeout"`
	Kafka           KafkaConfig `toml:"kafka"`
	AMQP            AMQPConfig  `toml:"amqp"`
	Redis           RedisConfig `toml:"redis"`
}

// KafkaConfig enables the Kafka sink when brokers are set.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// AMQPConfig enables the AMQP sink when a URL is set.
type AMQPConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// RedisConfig enables the Redis sink when an address is set.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	Channel       string `toml:"channel"`
	DiscussionTTL string `toml:"discussion_ttl"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	BufferSize    string
	Workers       string
	MaxRetries    string
	KafkaBrokers  string
	KafkaTopic    string
	AMQPURL       string
	AMQPExchange  string
	RedisAddr     string
	RedisPassword string
	RedisDB       string
	RedisChannel  string
}

// Enabled reports whether the Kafka sink is configured.
func (c *KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// Enabled reports whether the AMQP sink is configured.
func (c *AMQPConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether the Redis sink is configured.
func (c *RedisConfig) Enabled() bool { return c.Addr != "" }

// RetryIntervalDuration parses RetryInterval.
func (c *Config) RetryIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryInterval)
	return d
}

// MaxIntervalDuration parses MaxInterval.
func (c *Config) MaxIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.MaxInterval)
	return d
}

// BreakerTimeoutDuration parses BreakerTimeout.
func (c *Config) BreakerTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.BreakerTimeout)
	return d
}

// DrainTimeoutDuration parses DrainTimeout.
func (c *Config) DrainTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.DrainTimeout)
	return d
}

// DiscussionTTLDuration parses DiscussionTTL.
func (c *RedisConfig) DiscussionTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.DiscussionTTL)
	return d
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
	if overlay.BufferSize > 0 {
		c.BufferSize = overlay.BufferSize
	}
	if overlay.Workers > 0 {
		c.Workers = overlay.Workers
	}
	if overlay.MaxRetries > 0 {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryInterval != "" {
		c.RetryInterval = overlay.RetryInterval
	}
	if overlay.MaxInterval != "" {
		c.MaxInterval = overlay.MaxInterval
	}
	if overlay.BreakerFailures > 0 {
		c.BreakerFailures = overlay.BreakerFailures
	}
	if overlay.BreakerTimeout != "" {
		c.BreakerTimeout = overlay.BreakerTimeout
	}
	if overlay.DrainTimeout != "" {
		c.DrainTimeout = overlay.DrainTimeout
	}
	if overlay.Kafka.Brokers != nil {
		c.Kafka.Brokers = overlay.Kafka.Brokers
	}
	if overlay.Kafka.Topic != "" {
		c.Kafka.Topic = overlay.Kafka.Topic
	}
	if overlay.AMQP.URL != "" {
		c.AMQP.URL = overlay.AMQP.URL
	}
	if overlay.AMQP.Exchange != "" {
		c.AMQP.Exchange = overlay.AMQP.Exchange
	}
	if overlay.Redis.Addr != "" {
		c.Redis.Addr = overlay.Redis.Addr
	}
	if overlay.Redis.Password != "" {
		c.Redis.Password = overlay.Redis.Password
	}
	if overlay.Redis.DB > 0 {
		c.Redis.DB = overlay.Redis.DB
	}
	if overlay.Redis.Channel != "" {
		c.Redis.Channel = overlay.Redis.Channel
	}
	if overlay.Redis.DiscussionTTL != "" {
		c.Redis.DiscussionTTL = overlay.Redis.DiscussionTTL
	}
}

func (c *Config) loadDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval == "" {
		c.RetryInterval = "200ms"
	}
	if c.MaxInterval == "" {
		c.MaxInterval = "5s"
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout == "" {
		c.BreakerTimeout = "30s"
	}
	if c.DrainTimeout == "" {
		c.DrainTimeout = "5s"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "concord.events"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "concord.events"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "concord:events"
	}
	if c.Redis.DiscussionTTL == "" {
		c.Redis.DiscussionTTL = "168h"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.BufferSize != "" {
		if v := os.Getenv(env.BufferSize); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.BufferSize = n
			}
		}
	}
	if env.Workers != "" {
		if v := os.Getenv(env.Workers); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Workers = n
			}
		}
	}
	if env.MaxRetries != "" {
		if v := os.Getenv(env.MaxRetries); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxRetries = n
			}
		}
	}
	if env.KafkaBrokers != "" {
		if v := os.Getenv(env.KafkaBrokers); v != "" {
			c.Kafka.Brokers = nil
			for _, b := range strings.Split(v, ",") {
				if trimmed := strings.TrimSpace(b); trimmed != "" {
					c.Kafka.Brokers = append(c.Kafka.Brokers, trimmed)
				}
			}
		}
	}
	if env.KafkaTopic != "" {
		if v := os.Getenv(env.KafkaTopic); v != "" {
			c.Kafka.Topic = v
		}
	}
	if env.AMQPURL != "" {
		if v := os.Getenv(env.AMQPURL); v != "" {
			c.AMQP.URL = v
		}
	}
	if env.AMQPExchange != "" {
		if v := os.Getenv(env.AMQPExchange); v != "" {
			c.AMQP.Exchange = v
		}
	}
	if env.RedisAddr != "" {
		if v := os.Getenv(env.RedisAddr); v != "" {
			c.Redis.Addr = v
		}
	}
	if env.RedisPassword != "" {
		if v := os.Getenv(env.RedisPassword); v != "" {
			c.Redis.Password = v
		}
	}
	if env.RedisDB != "" {
		if v := os.Getenv(env.RedisDB); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.Redis.DB = n
			}
		}
	}
	if env.RedisChannel != "" {
		if v := os.Getenv(env.RedisChannel); v != "" {
			c.Redis.Channel = v
		}
	}
}

func (c *Config) validate() error {
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	durations := []struct {
		name  string
		value string
	}{
		{"retry_interval", c.RetryInterval},
		{"max_interval", c.MaxInterval},
		{"breaker_timeout", c.BreakerTimeout},
		{"drain_timeout", c.DrainTimeout},
		{"redis.discussion_ttl", c.Redis.DiscussionTTL},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic required when brokers are set")
	}
	return nil
}

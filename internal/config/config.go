// Package config loads forwarder configuration from the environment.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
//  1. Environment variables
//  2. An optional YAML overlay file (FORWARDER_CONFIG_FILE)
//  3. Defaults
//
// Every field is optional; DefaultConfig alone produces a runnable
// configuration pointed at local dev infrastructure.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the analytics delivery path.
type Mode string

const (
	ModeJSON Mode = "json"
	ModeCSV  Mode = "csv"
)

// Config is the complete forwarder configuration.
type Config struct {
	Bus   BusConfig   `yaml:"bus"`
	Sink  SinkConfig  `yaml:"sink"`
	Batch BatchConfig `yaml:"batch"`
	Redis RedisConfig `yaml:"redis"`

	MetricsPort int    `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
}

// BusConfig describes how to reach the Kafka-compatible bus.
type BusConfig struct {
	BootstrapServers []string `yaml:"bootstrap_servers"`
	CustomerTopic    string   `yaml:"customer_topic"`
	InventoryTopic   string   `yaml:"inventory_topic"`
	DLQTopic         string   `yaml:"dlq_topic"`
	ConsumerGroup    string   `yaml:"consumer_group"`
}

// SinkConfig describes the outbound analytics HTTP sink.
type SinkConfig struct {
	URL             string  `yaml:"url"`
	Mode            Mode    `yaml:"mode"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"` // 0 = unlimited
}

// BatchConfig tunes the CSV-mode batcher.
type BatchConfig struct {
	MaxSize      int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RedisConfig describes the idempotency store connection.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	IdempTTL   time.Duration `yaml:"idemp_ttl"`
}

// DefaultConfig returns a config with sensible defaults, matching the
// defaults documented in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			BootstrapServers: []string{"localhost:29092"},
			CustomerTopic:    "customer_data",
			InventoryTopic:   "inventory_data",
			DLQTopic:         "analytics_dlq",
			ConsumerGroup:    "analytics-consumers",
		},
		Sink: SinkConfig{
			URL:  "http://localhost:8000/analytics/data",
			Mode: ModeJSON,
		},
		Batch: BatchConfig{
			MaxSize:       50,
			FlushInterval: 10 * time.Second,
		},
		Redis: RedisConfig{
			URL:      "redis://localhost:6379/0",
			IdempTTL: 86400 * time.Second,
		},
		MetricsPort: 9108,
		LogLevel:    "info",
	}
}

// FromEnv loads configuration starting from DefaultConfig, overlaying
// an optional YAML file named by FORWARDER_CONFIG_FILE, then
// overlaying environment variables (spec.md §6), which always take
// precedence.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("FORWARDER_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); v != "" {
		cfg.Bus.BootstrapServers = strings.Split(v, ",")
	}
	if v := os.Getenv("CUSTOMER_TOPIC"); v != "" {
		cfg.Bus.CustomerTopic = v
	}
	if v := os.Getenv("INVENTORY_TOPIC"); v != "" {
		cfg.Bus.InventoryTopic = v
	}
	if v := os.Getenv("ANALYTICS_DLQ_TOPIC"); v != "" {
		cfg.Bus.DLQTopic = v
	}
	if v := os.Getenv("CONSUMER_GROUP"); v != "" {
		cfg.Bus.ConsumerGroup = v
	}

	if v := os.Getenv("ANALYTICS_URL"); v != "" {
		cfg.Sink.URL = v
	}
	if v := os.Getenv("ANALYTICS_MODE"); v != "" {
		mode := Mode(strings.ToLower(v))
		if mode != ModeJSON && mode != ModeCSV {
			return nil, fmt.Errorf("invalid ANALYTICS_MODE %q: must be json or csv", v)
		}
		cfg.Sink.Mode = mode
	}
	if v := os.Getenv("ANALYTICS_RATE_LIMIT_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ANALYTICS_RATE_LIMIT_PER_SEC %q: %w", v, err)
		}
		cfg.Sink.RateLimitPerSec = f
	}

	if v := os.Getenv("BATCH_MAX_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BATCH_MAX_SIZE %q: %w", v, err)
		}
		cfg.Batch.MaxSize = n
	}
	if v := os.Getenv("FLUSH_INTERVAL_SECS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FLUSH_INTERVAL_SECS %q: %w", v, err)
		}
		cfg.Batch.FlushInterval = time.Duration(f * float64(time.Second))
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("IDEMP_TTL_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IDEMP_TTL_SECONDS %q: %w", v, err)
		}
		cfg.Redis.IdempTTL = time.Duration(n) * time.Second
	}

	if v := os.Getenv("METRICS_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS_PORT %q: %w", v, err)
		}
		cfg.MetricsPort = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if len(c.Bus.BootstrapServers) == 0 {
		return fmt.Errorf("bus.bootstrap_servers is required")
	}
	if c.Bus.CustomerTopic == "" || c.Bus.InventoryTopic == "" {
		return fmt.Errorf("bus.customer_topic and bus.inventory_topic are required")
	}
	if c.Sink.URL == "" {
		return fmt.Errorf("sink.url is required")
	}
	if c.Sink.Mode != ModeJSON && c.Sink.Mode != ModeCSV {
		return fmt.Errorf("sink.mode must be json or csv, got %q", c.Sink.Mode)
	}
	if c.Batch.MaxSize <= 0 {
		return fmt.Errorf("batch.max_size must be positive")
	}
	return nil
}

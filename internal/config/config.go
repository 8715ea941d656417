// Package config loads the wal-server configuration: defaults, overlaid by
// config.yml and config.local.yml, then validated.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Logging       LoggingConfig        `yaml:"logging"`
	Broker        BrokerConfig         `yaml:"broker"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Metrics       MetricsConfig        `yaml:"metrics"`
}

// BrokerConfig configures the message-broker client layer.
type BrokerConfig struct {
	// URL is the NATS server address.
	URL string `yaml:"url"`

	// Stream is the backend stream all topics live under.
	Stream string `yaml:"stream"`

	FlowControl FlowControlConfig `yaml:"flow_control"`
	Retry       RetryConfig       `yaml:"retry"`

	// PublishTimeout is the default retry budget per publish call.
	PublishTimeout Duration `yaml:"publish_timeout"`

	// AckWait is the backend ack deadline per delivery.
	AckWait Duration `yaml:"ack_wait"`

	// ShutdownGrace bounds subscriber draining at shutdown.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// FlowControlConfig bounds in-flight work per subscription.
type FlowControlConfig struct {
	MaxMessages      int      `yaml:"max_messages"`
	MaxBytes         int64    `yaml:"max_bytes"`
	MaxLeaseDuration Duration `yaml:"max_lease_duration"`
}

// RetryConfig configures the publish retry backoff.
type RetryConfig struct {
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
}

// SubscriptionConfig declares one subscription the daemon consumes.
type SubscriptionConfig struct {
	// ID is the durable subscription name.
	ID string `yaml:"id"`

	// Topic is the topic the subscription is bound to.
	Topic string `yaml:"topic"`

	// Kind selects the registered worker for this subscription's envelopes.
	Kind string `yaml:"kind"`

	// WebhookURL, when set, routes envelopes to an HTTP endpoint.
	WebhookURL string `yaml:"webhook_url"`

	// Secret signs webhook payloads. Optional.
	Secret string `yaml:"secret"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: DefaultLoggingConfig(),
		Broker: BrokerConfig{
			URL:    "nats://127.0.0.1:4222",
			Stream: "WAL",
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// LoadConfig loads configuration from files.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults -> Validate.
func LoadConfig(dir string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFile(dir+"/config.yml", cfg); err != nil {
		return nil, err
	}
	if err := loadFile(dir+"/config.local.yml", cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in missing values with defaults.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	if c.Broker.URL == "" {
		c.Broker.URL = "nats://127.0.0.1:4222"
	}
	if c.Broker.Stream == "" {
		c.Broker.Stream = "WAL"
	}
	if c.Broker.FlowControl.MaxMessages <= 0 {
		c.Broker.FlowControl.MaxMessages = 100
	}
	if c.Broker.FlowControl.MaxBytes <= 0 {
		c.Broker.FlowControl.MaxBytes = 100 * 1024 * 1024
	}
	if c.Broker.FlowControl.MaxLeaseDuration <= 0 {
		c.Broker.FlowControl.MaxLeaseDuration = Duration(10 * time.Minute)
	}
	if c.Broker.Retry.InitialDelay <= 0 {
		c.Broker.Retry.InitialDelay = Duration(100 * time.Millisecond)
	}
	if c.Broker.Retry.MaxDelay <= 0 {
		c.Broker.Retry.MaxDelay = Duration(10 * time.Second)
	}
	if c.Broker.Retry.Multiplier <= 1 {
		c.Broker.Retry.Multiplier = 2.0
	}
	if c.Broker.PublishTimeout <= 0 {
		c.Broker.PublishTimeout = Duration(60 * time.Second)
	}
	if c.Broker.AckWait <= 0 {
		c.Broker.AckWait = Duration(60 * time.Second)
	}
	if c.Broker.ShutdownGrace <= 0 {
		c.Broker.ShutdownGrace = Duration(30 * time.Second)
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Subscriptions))
	for i, sub := range c.Subscriptions {
		if sub.ID == "" {
			return fmt.Errorf("subscription %d: id is required", i)
		}
		if sub.Topic == "" {
			return fmt.Errorf("subscription %q: topic is required", sub.ID)
		}
		if seen[sub.ID] {
			return fmt.Errorf("duplicate subscription id %q", sub.ID)
		}
		seen[sub.ID] = true
	}
	return nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error parsing %s: %w", filename, err)
	}
	return nil
}

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the load harness.
type Config struct {
	Broker    BrokerConfig   `yaml:"broker"`
	Producers ProducerConfig `yaml:"producers"`
	Consumers ConsumerConfig `yaml:"consumers"`
	Run       RunConfig      `yaml:"run"`
	Log       LogConfig      `yaml:"log"`
}

// BrokerConfig holds broker connection settings shared by all clients.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Login    string `yaml:"login"`
	Passcode string `yaml:"passcode"`
	Vhost    string `yaml:"vhost"` // host header on CONNECT; defaults to host

	TLSEnabled  bool   `yaml:"tls_enabled"`
	TLSCAFile   string `yaml:"tls_ca_file"`
	TLSInsecure bool   `yaml:"tls_insecure"` // skip certificate verification

	WSEnabled bool   `yaml:"ws_enabled"` // STOMP over WebSocket instead of raw TCP
	WSPath    string `yaml:"ws_path"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// HeaderConfig is one extra header added to every produced message.
// A list rather than a map so header order on the wire is deterministic.
type HeaderConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// ProducerConfig holds settings for the producer population.
type ProducerConfig struct {
	Count       int    `yaml:"count"`
	Destination string `yaml:"destination"`

	// Message payload size in bytes. Zero or negative means no body.
	MessageSize int `yaml:"message_size"`

	Persistent bool `yaml:"persistent"`

	// SyncSend waits for a broker receipt before the next message.
	SyncSend bool `yaml:"sync_send"`

	Headers []HeaderConfig `yaml:"headers"`

	// MessagesPerConnection cycles the connection after this many sends.
	// Zero means never.
	MessagesPerConnection int `yaml:"messages_per_connection"`

	SendDelay time.Duration `yaml:"send_delay"`

	// RateLimit caps the aggregate send rate across all producers, in
	// messages per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
}

// ConsumerConfig holds settings for the consumer population.
type ConsumerConfig struct {
	Count       int    `yaml:"count"`
	Destination string `yaml:"destination"`

	AckMode  string `yaml:"ack_mode"` // auto, client
	Durable  bool   `yaml:"durable"`
	Selector string `yaml:"selector"`

	SubscriptionPrefix string `yaml:"subscription_prefix"`

	ConsumeDelay time.Duration `yaml:"consume_delay"`
}

// RunConfig holds harness-level execution settings.
type RunConfig struct {
	// Workers sizes the shared dispatch pool. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Duration stops the run after this long. Zero runs until a signal.
	Duration time.Duration `yaml:"duration"`

	DisplayErrors bool `yaml:"display_errors"`

	ReportInterval time.Duration `yaml:"report_interval"`

	MetricsAddr    string `yaml:"metrics_addr"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           61613,
			WSPath:         "/stomp",
			ConnectTimeout: 10 * time.Second,
		},
		Producers: ProducerConfig{
			Count:       1,
			Destination: "/queue/load",
			MessageSize: 1024,
		},
		Consumers: ConsumerConfig{
			Count:              1,
			Destination:        "/queue/load",
			AckMode:            "auto",
			SubscriptionPrefix: "consumer",
		},
		Run: RunConfig{
			ReportInterval: 5 * time.Second,
			MetricsAddr:    ":9464",
			MetricsEnabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host cannot be empty")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535")
	}
	if c.Broker.ConnectTimeout < time.Second {
		return fmt.Errorf("broker.connect_timeout must be at least 1 second")
	}
	if c.Broker.WSEnabled && c.Broker.WSPath == "" {
		return fmt.Errorf("broker.ws_path required when ws_enabled")
	}

	if c.Producers.Count < 0 {
		return fmt.Errorf("producers.count cannot be negative")
	}
	if c.Producers.Count > 0 {
		if c.Producers.Destination == "" {
			return fmt.Errorf("producers.destination cannot be empty")
		}
		if c.Producers.MessagesPerConnection < 0 {
			return fmt.Errorf("producers.messages_per_connection cannot be negative")
		}
		if c.Producers.SendDelay < 0 {
			return fmt.Errorf("producers.send_delay cannot be negative")
		}
		if c.Producers.RateLimit < 0 {
			return fmt.Errorf("producers.rate_limit cannot be negative")
		}
		for i, h := range c.Producers.Headers {
			if h.Name == "" {
				return fmt.Errorf("producers.headers[%d].name cannot be empty", i)
			}
		}
	}

	if c.Consumers.Count < 0 {
		return fmt.Errorf("consumers.count cannot be negative")
	}
	if c.Consumers.Count > 0 {
		if c.Consumers.Destination == "" {
			return fmt.Errorf("consumers.destination cannot be empty")
		}
		if c.Consumers.AckMode != "auto" && c.Consumers.AckMode != "client" {
			return fmt.Errorf("consumers.ack_mode must be 'auto' or 'client'")
		}
		if c.Consumers.ConsumeDelay < 0 {
			return fmt.Errorf("consumers.consume_delay cannot be negative")
		}
	}

	if c.Producers.Count == 0 && c.Consumers.Count == 0 {
		return fmt.Errorf("at least one producer or consumer is required")
	}

	if c.Run.Workers < 0 {
		return fmt.Errorf("run.workers cannot be negative")
	}
	if c.Run.ReportInterval < time.Second {
		return fmt.Errorf("run.report_interval must be at least 1 second")
	}
	if c.Run.MetricsEnabled && c.Run.MetricsAddr == "" {
		return fmt.Errorf("run.metrics_addr required when metrics enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

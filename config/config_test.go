// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test broker defaults
	if cfg.Broker.Host != "localhost" {
		t.Errorf("expected default broker host localhost, got %s", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 61613 {
		t.Errorf("expected default broker port 61613, got %d", cfg.Broker.Port)
	}

	// Test client defaults
	if cfg.Producers.Count != 1 {
		t.Errorf("expected 1 default producer, got %d", cfg.Producers.Count)
	}
	if cfg.Consumers.AckMode != "auto" {
		t.Errorf("expected default ack mode auto, got %s", cfg.Consumers.AckMode)
	}

	// Test run defaults
	if cfg.Run.ReportInterval != 5*time.Second {
		t.Errorf("expected report interval 5s, got %v", cfg.Run.ReportInterval)
	}

	// Test log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty broker host",
			modify: func(c *Config) {
				c.Broker.Host = ""
			},
			wantErr: true,
		},
		{
			name: "port out of range",
			modify: func(c *Config) {
				c.Broker.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "no clients configured",
			modify: func(c *Config) {
				c.Producers.Count = 0
				c.Consumers.Count = 0
			},
			wantErr: true,
		},
		{
			name: "producer destination missing",
			modify: func(c *Config) {
				c.Producers.Destination = ""
			},
			wantErr: true,
		},
		{
			name: "producers disabled ignores producer settings",
			modify: func(c *Config) {
				c.Producers.Count = 0
				c.Producers.Destination = ""
			},
			wantErr: false,
		},
		{
			name: "invalid ack mode",
			modify: func(c *Config) {
				c.Consumers.AckMode = "manual"
			},
			wantErr: true,
		},
		{
			name: "negative rate limit",
			modify: func(c *Config) {
				c.Producers.RateLimit = -1
			},
			wantErr: true,
		},
		{
			name: "header without name",
			modify: func(c *Config) {
				c.Producers.Headers = []HeaderConfig{{Value: "x"}}
			},
			wantErr: true,
		},
		{
			name: "websocket without path",
			modify: func(c *Config) {
				c.Broker.WSEnabled = true
				c.Broker.WSPath = ""
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "report interval too short",
			modify: func(c *Config) {
				c.Run.ReportInterval = 500 * time.Millisecond
			},
			wantErr: true,
		},
		{
			name: "metrics enabled without addr",
			modify: func(c *Config) {
				c.Run.MetricsEnabled = true
				c.Run.MetricsAddr = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}

	if cfg.Broker.Port != 61613 {
		t.Errorf("expected default config, got broker port %d", cfg.Broker.Port)
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	// Create custom config
	cfg := Default()
	cfg.Broker.Host = "broker.example.com"
	cfg.Producers.SendDelay = 10 * time.Millisecond
	cfg.Consumers.AckMode = "client"
	cfg.Log.Level = "debug"

	// Save
	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Load
	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify
	if loaded.Broker.Host != "broker.example.com" {
		t.Errorf("expected broker host broker.example.com, got %s", loaded.Broker.Host)
	}
	if loaded.Producers.SendDelay != 10*time.Millisecond {
		t.Errorf("expected send delay 10ms, got %v", loaded.Producers.SendDelay)
	}
	if loaded.Consumers.AckMode != "client" {
		t.Errorf("expected ack mode client, got %s", loaded.Consumers.AckMode)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}

// Package config provides configuration loading for memoryd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/docstore"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/reranker"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreNATS   = "nats"
)

// Config is the full memoryd configuration.
type Config struct {
	Server        ServerConfig        `json:"server" koanf:"server"`
	Log           logging.Config      `json:"log" koanf:"log"`
	Store         StoreConfig         `json:"store" koanf:"store"`
	Memory        memory.Config       `json:"memory" koanf:"memory"`
	Consolidation ConsolidationConfig `json:"consolidation" koanf:"consolidation"`
	Reranker      RerankerConfig      `json:"reranker" koanf:"reranker"`
}

// ServerConfig controls the HTTP façade.
type ServerConfig struct {
	Addr            string        `json:"addr" koanf:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Backend string                   `json:"backend" koanf:"backend"`
	NATS    docstore.NATSStoreConfig `json:"nats" koanf:"nats"`
}

// ConsolidationConfig controls the background scheduler.
type ConsolidationConfig struct {
	Enabled  bool          `json:"enabled" koanf:"enabled"`
	Interval time.Duration `json:"interval" koanf:"interval"`
	Timeout  time.Duration `json:"timeout" koanf:"timeout"`
}

// RerankerConfig controls the optional LLM reranker. When disabled,
// similarity search uses token overlap only.
type RerankerConfig struct {
	Enabled bool   `json:"enabled" koanf:"enabled"`
	BaseURL string `json:"base_url" koanf:"base_url"`
	Model   string `json:"model" koanf:"model"`
	APIKey  string `json:"api_key" koanf:"api_key"`

	LLM reranker.LLMRerankerConfig `json:"llm" koanf:"llm"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			NATS: docstore.NATSStoreConfig{
				URL:    "nats://localhost:4222",
				Bucket: "memoryd",
			},
		},
		Memory: memory.DefaultConfig(),
		Consolidation: ConsolidationConfig{
			Enabled:  true,
			Interval: 24 * time.Hour,
			Timeout:  10 * time.Minute,
		},
		Reranker: RerankerConfig{
			Enabled: false,
			LLM:     reranker.LLMRerankerConfig{CallsPerSecond: 1, Burst: 1},
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreNATS:
		if err := c.Store.NATS.Validate(); err != nil {
			return fmt.Errorf("store.nats: %w", err)
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreMemory, StoreNATS, c.Store.Backend)
	}
	if c.Consolidation.Enabled && c.Consolidation.Interval <= 0 {
		return fmt.Errorf("consolidation.interval must be positive when enabled")
	}
	if c.Reranker.Enabled && c.Reranker.BaseURL == "" {
		return fmt.Errorf("reranker.base_url is required when the reranker is enabled")
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	return nil
}

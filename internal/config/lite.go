// Package config provides configuration management for the prórroga chain server.
// This file contains the lightweight configuration for standalone MCP operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and keeps the ledger in a local SQLite file.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the ledger and exports

	// Reference data
	ReferencePath  string // Optional reference JSON; empty uses the built-in tables
	WatchReference bool   // Reload the reference file when it changes

	// Scoring
	ScoreCacheSize int // Maximum cached pair scores
	MinSamples     int // Ledger decisions needed before a learned confidence is used

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text

	ShutdownTimeout time.Duration
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".prorroga-chain")

	return &LiteConfig{
		DataDir:         dataDir,
		WatchReference:  true,
		ScoreCacheSize:  8192,
		MinSamples:      5,
		Transport:       "stdio",
		HTTPPort:        8080,
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("PRORROGA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	cfg.ReferencePath = os.Getenv("PRORROGA_REFERENCE_PATH")
	if v := os.Getenv("PRORROGA_REFERENCE_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WatchReference = b
		}
	}

	if v := os.Getenv("PRORROGA_SCORE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ScoreCacheSize = n
		}
	}
	if v := os.Getenv("PRORROGA_MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinSamples = n
		}
	}

	if v := os.Getenv("PRORROGA_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("PRORROGA_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("PRORROGA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PRORROGA_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("PRORROGA_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ShutdownTimeout = d
		}
	}

	return cfg
}

// LedgerDBPath returns the path to the ledger SQLite database.
func (c *LiteConfig) LedgerDBPath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 8192, cfg.ScoreCacheSize)
	assert.Equal(t, 5, cfg.MinSamples)
	assert.True(t, cfg.WatchReference)
	assert.Empty(t, cfg.ReferencePath)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 8192, cfg.ScoreCacheSize)
	assert.Equal(t, "stdio", cfg.Transport)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PRORROGA_DATA_DIR", "/tmp/test-prorroga")
	t.Setenv("PRORROGA_REFERENCE_PATH", "/etc/prorroga/reference.json")
	t.Setenv("PRORROGA_REFERENCE_WATCH", "false")
	t.Setenv("PRORROGA_SCORE_CACHE_SIZE", "500")
	t.Setenv("PRORROGA_MIN_SAMPLES", "3")
	t.Setenv("PRORROGA_TRANSPORT", "http")
	t.Setenv("PRORROGA_HTTP_PORT", "9090")
	t.Setenv("PRORROGA_LOG_LEVEL", "debug")
	t.Setenv("PRORROGA_LOG_FORMAT", "text")
	t.Setenv("PRORROGA_SHUTDOWN_TIMEOUT", "3s")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-prorroga", cfg.DataDir)
	assert.Equal(t, "/etc/prorroga/reference.json", cfg.ReferencePath)
	assert.False(t, cfg.WatchReference)
	assert.Equal(t, 500, cfg.ScoreCacheSize)
	assert.Equal(t, 3, cfg.MinSamples)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoadLiteConfig_IgnoresMalformedNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("PRORROGA_SCORE_CACHE_SIZE", "lots")
	t.Setenv("PRORROGA_MIN_SAMPLES", "-2")
	t.Setenv("PRORROGA_HTTP_PORT", "0")

	cfg := LoadLiteConfig()

	assert.Equal(t, 8192, cfg.ScoreCacheSize)
	assert.Equal(t, 5, cfg.MinSamples)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestLiteConfig_LedgerDBPath(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.prorroga-chain"}

	path := cfg.LedgerDBPath()

	assert.Equal(t, "/home/user/.prorroga-chain/ledger.db", path)
}

func TestLiteConfig_ExportDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.prorroga-chain"}

	path := cfg.ExportDir()

	assert.Equal(t, "/home/user/.prorroga-chain/exports", path)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "prorroga")}

	err := cfg.EnsureDataDir()
	require.NoError(t, err)

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func TestLiteConfig_Logger(t *testing.T) {
	cfg := &LiteConfig{LogLevel: "debug", LogFormat: "text"}

	logger := cfg.Logger()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	logger := NewLogger("chatty", "json", "stdout")

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stdout, logger.Out)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"PRORROGA_DATA_DIR",
		"PRORROGA_REFERENCE_PATH",
		"PRORROGA_REFERENCE_WATCH",
		"PRORROGA_SCORE_CACHE_SIZE",
		"PRORROGA_MIN_SAMPLES",
		"PRORROGA_TRANSPORT",
		"PRORROGA_HTTP_PORT",
		"PRORROGA_LOG_LEVEL",
		"PRORROGA_LOG_FORMAT",
		"PRORROGA_SHUTDOWN_TIMEOUT",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

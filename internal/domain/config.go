package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Ledger     LedgerConfig    `mapstructure:"ledger"`
	Reference  ReferenceConfig `mapstructure:"reference"`
	Scoring    ScoringConfig   `mapstructure:"scoring"`
	Chain      ChainConfig     `mapstructure:"chain"`
	Thresholds LegalThresholds `mapstructure:"thresholds"`
	Alerts     AlertsConfig    `mapstructure:"alerts"`
	Analysis   AnalysisConfig  `mapstructure:"analysis"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig represents the leave-case database connection
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

// LedgerConfig selects the historical-adjustment store
type LedgerConfig struct {
	Backend     string `mapstructure:"backend"` // "memory", "sqlite", "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
	MinSamples  int    `mapstructure:"min_samples"`
}

// ReferenceConfig locates the reference data document
type ReferenceConfig struct {
	Path  string `mapstructure:"path"` // empty uses the built-in tables
	Watch bool   `mapstructure:"watch"`
}

// ScoringConfig represents correlation scoring configuration
type ScoringConfig struct {
	PossibleThreshold float64 `mapstructure:"possible_threshold"`
	ProrrogaThreshold float64 `mapstructure:"prorroga_threshold"`
	DegradedCeiling   float64 `mapstructure:"degraded_ceiling"`
	DegradedSlope     float64 `mapstructure:"degraded_slope"`
	CacheSize         int     `mapstructure:"cache_size"`
}

// ChainConfig represents chain building configuration
type ChainConfig struct {
	CutWindowDays        int     `mapstructure:"cut_window_days"`
	ShortGapDays         int     `mapstructure:"short_gap_days"`
	OverlapConfidence    float64 `mapstructure:"overlap_confidence"`
	MaxCutSeparationDays int     `mapstructure:"max_cut_separation_days"`
}

// AlertsConfig represents alert delivery configuration
type AlertsConfig struct {
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	KafkaTopic   string        `mapstructure:"kafka_topic"`
	RedisURL     string        `mapstructure:"redis_url"`
	DedupWindow  time.Duration `mapstructure:"dedup_window"`
	Schedule     string        `mapstructure:"schedule"` // cron spec, empty disables the review job
}

// AnalysisConfig represents batch analysis configuration
type AnalysisConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
	DetectLookback int `mapstructure:"detect_lookback"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

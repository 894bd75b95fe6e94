package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/prorroga-chain-server/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. PRORROGA_SERVER_PORT.
const EnvPrefix = "PRORROGA"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	file   string
	config *domain.Config
}

// NewManager creates a configuration manager that searches the default locations.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile creates a configuration manager reading an explicit
// file; an empty path searches the default locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{file: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/prorroga-chain-server/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment variables apply without one
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.file != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values. Every key needs a default
// so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.rate_limit", 50.0)
	v.SetDefault("server.rate_burst", 100)

	// Leave-case database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "prorroga")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.run_migrations", true)

	// Ledger defaults
	v.SetDefault("ledger.backend", "sqlite")
	v.SetDefault("ledger.sqlite_path", "data/ledger.db")
	v.SetDefault("ledger.postgres_url", "")
	v.SetDefault("ledger.min_samples", 5)

	// Reference data defaults
	v.SetDefault("reference.path", "")
	v.SetDefault("reference.watch", true)

	// Scoring defaults
	v.SetDefault("scoring.possible_threshold", 40.0)
	v.SetDefault("scoring.prorroga_threshold", 60.0)
	v.SetDefault("scoring.degraded_ceiling", 50.0)
	v.SetDefault("scoring.degraded_slope", 1.0)
	v.SetDefault("scoring.cache_size", 8192)

	// Chain defaults
	v.SetDefault("chain.cut_window_days", 30)
	v.SetDefault("chain.short_gap_days", 30)
	v.SetDefault("chain.overlap_confidence", 98.0)
	v.SetDefault("chain.max_cut_separation_days", 180)

	// Legal thresholds; zero keeps the reference data's values
	v.SetDefault("thresholds.informational", 0)
	v.SetDefault("thresholds.high", 0)
	v.SetDefault("thresholds.critical", 0)

	// Alert delivery defaults
	v.SetDefault("alerts.kafka_brokers", []string{})
	v.SetDefault("alerts.kafka_topic", "prorroga.alerts")
	v.SetDefault("alerts.redis_url", "")
	v.SetDefault("alerts.dedup_window", "168h")
	v.SetDefault("alerts.schedule", "")

	// Analysis defaults
	v.SetDefault("analysis.max_concurrency", 4)
	v.SetDefault("analysis.detect_lookback", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative: %v", config.Server.RateLimit)
	}

	if config.Database.Enabled {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	switch config.Ledger.Backend {
	case "memory":
	case "sqlite":
		if config.Ledger.SQLitePath == "" {
			return fmt.Errorf("ledger sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if config.Ledger.PostgresURL == "" && !config.Database.Enabled {
			return fmt.Errorf("ledger postgres_url or an enabled database is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid ledger backend: %s", config.Ledger.Backend)
	}

	if config.Scoring.PossibleThreshold > config.Scoring.ProrrogaThreshold {
		return fmt.Errorf("possible threshold %.1f exceeds prorroga threshold %.1f",
			config.Scoring.PossibleThreshold, config.Scoring.ProrrogaThreshold)
	}
	if config.Chain.CutWindowDays <= 0 {
		return fmt.Errorf("cut window must be positive: %d", config.Chain.CutWindowDays)
	}

	t := config.Thresholds
	if t.Critical != 0 && !(t.Informational > 0 && t.Informational <= t.High && t.High <= t.Critical) {
		return fmt.Errorf("thresholds must satisfy 0 < informational <= high <= critical")
	}

	if config.Alerts.DedupWindow < 0 {
		return fmt.Errorf("dedup window must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database in URL form, as golang-migrate and lib/pq expect it.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + url.QueryEscape(db.SSLMode),
	}
	return u.String()
}

// LedgerURL returns the PostgreSQL ledger URL, defaulting to the leave-case database.
func (m *Manager) LedgerURL() string {
	if m.config.Ledger.PostgresURL != "" {
		return m.config.Ledger.PostgresURL
	}
	return m.GetDatabaseURL()
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.v.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}

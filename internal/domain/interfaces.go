package domain

import (
	"context"
)

// CaseSource supplies leave cases for subjects from a system of record
type CaseSource interface {
	ListSubjects(ctx context.Context) ([]string, error)
	ListCases(ctx context.Context, subjectID string) ([]LeaveCase, error)
}

// AlertPublisher delivers alerts to downstream consumers
type AlertPublisher interface {
	Publish(ctx context.Context, alerts []Alert) error
	Close() error
}

// AlertDeduper suppresses alerts already delivered within a time window
type AlertDeduper interface {
	// Claim returns true if the alert has not been seen inside the window and marks it as seen.
	Claim(ctx context.Context, alert Alert) (bool, error)
	// Release forgets a claim so the alert is delivered again on the next run.
	Release(ctx context.Context, alert Alert) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	IsProduction() bool
	IsDevelopment() bool
}

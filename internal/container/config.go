// Package container provides dependency injection and lifecycle management
// for the reconciliation engine, wiring infrastructure into the application layer.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/aggregator"
	"github.com/garyjia/spend-reconciliation/internal/application/service"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	httpserver "github.com/garyjia/spend-reconciliation/internal/interfaces/http"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the Container.
// Values are already parsed; see config.ToContainerConfig.
type Config struct {
	Database  DatabaseConfig
	Batch     service.BatchDefaults
	Workflow  workflow.Config
	Retry     aggregator.RetryPolicy
	Lock      LockConfig
	Scheduler SchedulerConfig
	Platforms []PlatformConfig
	Rates     RatesConfig
	Storage   StorageConfig
	Server    httpserver.ServerConfig

	// RecoverOrphans fails batches left processing by a previous process on start
	RecoverOrphans bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// LockConfig selects the per-detail locker.
type LockConfig struct {
	// Redis enables the distributed locker; otherwise locks are in-process
	Redis bool

	// TTL bounds how long a detail lock is held
	TTL time.Duration

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	RedisRetryEvery time.Duration
	RedisMaxRetries int
}

// SchedulerConfig holds the daily batch schedule.
type SchedulerConfig struct {
	Enabled    bool
	Spec       string
	Location   *time.Location
	ChannelIDs []int64
	ProjectIDs []int64
}

// PlatformConfig maps a channel to its spreadsheet export.
type PlatformConfig struct {
	ChannelID int64
	Path      string
	Sheet     string
}

// RatesConfig holds exchange rate sources.
type RatesConfig struct {
	Static   map[string]string
	UseTable bool
}

// StorageConfig holds generated file settings.
type StorageConfig struct {
	// ExportDir is the base directory of rendered report exports
	ExportDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/reconciliation.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Batch: service.BatchDefaults{
			ToleranceAbs:        decimal.RequireFromString("0.01"),
			ToleranceRel:        decimal.Zero,
			ConfidenceThreshold: decimal.RequireFromString("0.8"),
		},
		Workflow: workflow.Config{
			Workers:       8,
			BatchDeadline: 30 * time.Minute,
		},
		Retry: aggregator.DefaultRetryPolicy(),
		Lock: LockConfig{
			TTL: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Spec:     "30 2 * * *",
			Location: time.UTC,
		},
		Rates: RatesConfig{
			UseTable: true,
		},
		Storage: StorageConfig{
			ExportDir: "data/exports",
		},
		Server:         httpserver.DefaultServerConfig(),
		RecoverOrphans: true,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Workflow.Workers <= 0 {
		return fmt.Errorf("workflow.workers must be positive")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.Lock.Redis && c.Lock.RedisAddr == "" {
		return fmt.Errorf("lock.redis addr is required")
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler.spec is required")
	}
	if c.Storage.ExportDir == "" {
		return fmt.Errorf("storage.export_dir is required")
	}
	return nil
}

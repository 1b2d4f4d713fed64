package config

import (
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/aggregator"
	"github.com/garyjia/spend-reconciliation/internal/application/service"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	"github.com/garyjia/spend-reconciliation/internal/container"
	httpserver "github.com/garyjia/spend-reconciliation/internal/interfaces/http"
	"github.com/shopspring/decimal"
)

// ToContainerConfig converts the application Config to a container.Config.
// This bridges the file-based config loaded by viper and the parsed values
// the container wires into components.
func (c *Config) ToContainerConfig() (*container.Config, error) {
	tolAbs, err := decimal.NewFromString(c.Reconciliation.ToleranceAbs)
	if err != nil {
		return nil, fmt.Errorf("reconciliation.tolerance_abs: %w", err)
	}
	tolRel, err := decimal.NewFromString(c.Reconciliation.ToleranceRel)
	if err != nil {
		return nil, fmt.Errorf("reconciliation.tolerance_rel: %w", err)
	}
	threshold, err := decimal.NewFromString(c.Reconciliation.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("reconciliation.confidence_threshold: %w", err)
	}

	location := time.UTC
	if c.Scheduler.Timezone != "" {
		if location, err = time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	platforms := make([]container.PlatformConfig, 0, len(c.Platforms))
	for _, p := range c.Platforms {
		platforms = append(platforms, container.PlatformConfig{
			ChannelID: p.ChannelID,
			Path:      p.Path,
			Sheet:     p.Sheet,
		})
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Batch: service.BatchDefaults{
			ToleranceAbs:        tolAbs,
			ToleranceRel:        tolRel,
			ConfidenceThreshold: threshold,
		},
		Workflow: workflow.Config{
			Workers:       c.Reconciliation.Workers,
			BatchDeadline: c.Reconciliation.BatchDeadline,
		},
		Retry: aggregator.RetryPolicy{
			BaseDelay:   c.Reconciliation.Retry.BaseDelay,
			Factor:      c.Reconciliation.Retry.Factor,
			MaxDelay:    c.Reconciliation.Retry.MaxDelay,
			MaxAttempts: c.Reconciliation.Retry.MaxAttempts,
			CallTimeout: c.Reconciliation.Retry.CallTimeout,
		},
		Lock: container.LockConfig{
			Redis:           c.Lock.Backend == LockBackendRedis,
			TTL:             c.Lock.TTL,
			RedisAddr:       c.Lock.Redis.Addr,
			RedisPassword:   c.Lock.Redis.Password,
			RedisDB:         c.Lock.Redis.DB,
			RedisPrefix:     c.Lock.Redis.Prefix,
			RedisRetryEvery: c.Lock.Redis.RetryEvery,
			RedisMaxRetries: c.Lock.Redis.MaxRetries,
		},
		Scheduler: container.SchedulerConfig{
			Enabled:    c.Scheduler.Enabled,
			Spec:       c.Scheduler.Spec,
			Location:   location,
			ChannelIDs: c.Scheduler.ChannelIDs,
			ProjectIDs: c.Scheduler.ProjectIDs,
		},
		Platforms: platforms,
		Rates: container.RatesConfig{
			Static:   c.Rates.Static,
			UseTable: c.Rates.UseTable,
		},
		Storage: container.StorageConfig{
			ExportDir: c.Storage.ExportDir,
		},
		Server: httpserver.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		RecoverOrphans: c.Reconciliation.RecoverOrphans,
	}, nil
}

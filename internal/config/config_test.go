package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
database:
  path: /var/lib/recon/recon.db
reconciliation:
  tolerance_abs: "0.05"
  workers: 4
  batch_deadline: 10m
lock:
  backend: redis
  redis:
    addr: redis:6379
scheduler:
  enabled: true
  spec: "0 3 * * *"
  timezone: Asia/Shanghai
  channel_ids: [3, 5]
platforms:
  - channel_id: 3
    path: /data/exports/meta.xlsx
  - channel_id: 5
    path: /data/exports/google.xlsx
    sheet: Spend
rates:
  static:
    EUR/USD: "1.08"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/reconciliation.db", cfg.Database.Path)
	assert.Equal(t, "0.01", cfg.Reconciliation.ToleranceAbs)
	assert.Equal(t, 8, cfg.Reconciliation.Workers)
	assert.Equal(t, 5, cfg.Reconciliation.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Reconciliation.Retry.BaseDelay)
	assert.True(t, cfg.Reconciliation.RecoverOrphans)
	assert.Equal(t, LockBackendMemory, cfg.Lock.Backend)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.True(t, cfg.Rates.UseTable)
	assert.Empty(t, cfg.Platforms)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.05", cfg.Reconciliation.ToleranceAbs)
	assert.Equal(t, 4, cfg.Reconciliation.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Reconciliation.BatchDeadline)
	assert.Equal(t, LockBackendRedis, cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, []int64{3, 5}, cfg.Scheduler.ChannelIDs)

	require.Len(t, cfg.Platforms, 2)
	assert.Equal(t, int64(5), cfg.Platforms[1].ChannelID)
	assert.Equal(t, "Spend", cfg.Platforms[1].Sheet)

	// viper lowercases map keys; rate pairs are case-insensitive downstream
	assert.Equal(t, "1.08", cfg.Rates.Static["eur/usd"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RECON_DB_PATH", "/tmp/override.db")
	t.Setenv("RECON_RECONCILIATION_WORKERS", "16")
	t.Setenv("RECON_LOCK_BACKEND", "redis")
	t.Setenv("RECON_REDIS_ADDR", "cache:6380")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, 16, cfg.Reconciliation.Workers)
	assert.Equal(t, "cache:6380", cfg.Lock.Redis.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad tolerance", func(c *Config) { c.Reconciliation.ToleranceAbs = "abc" }, "tolerance_abs"},
		{"negative threshold", func(c *Config) { c.Reconciliation.ConfidenceThreshold = "-0.1" }, "confidence_threshold"},
		{"no workers", func(c *Config) { c.Reconciliation.Workers = 0 }, "workers"},
		{"unknown lock", func(c *Config) { c.Lock.Backend = "etcd" }, "lock.backend"},
		{"redis without addr", func(c *Config) {
			c.Lock.Backend = LockBackendRedis
			c.Lock.Redis.Addr = ""
		}, "lock.redis.addr"},
		{"bad timezone", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.Timezone = "Mars/Olympus"
		}, "scheduler.timezone"},
		{"duplicate platform", func(c *Config) {
			c.Platforms = []PlatformConfig{{ChannelID: 3, Path: "a.xlsx"}, {ChannelID: 3, Path: "b.xlsx"}}
		}, "configured twice"},
		{"platform without path", func(c *Config) {
			c.Platforms = []PlatformConfig{{ChannelID: 3}}
		}, "path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToContainerConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	cc, err := cfg.ToContainerConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.05", cc.Batch.ToleranceAbs.String())
	assert.Equal(t, "0.8", cc.Batch.ConfidenceThreshold.String())
	assert.Equal(t, 4, cc.Workflow.Workers)
	assert.Equal(t, 5, cc.Retry.MaxAttempts)
	assert.True(t, cc.Lock.Redis)
	assert.Equal(t, "Asia/Shanghai", cc.Scheduler.Location.String())
	assert.Len(t, cc.Platforms, 2)
	assert.Equal(t, 9090, cc.Server.Port)
	assert.NoError(t, cc.Validate())
}

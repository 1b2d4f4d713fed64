package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // scheduler.timezone must resolve on hosts without zoneinfo

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RECON_DATABASE_PATH
const EnvPrefix = "RECON"

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Logger         LoggerConfig         `mapstructure:"logger"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Lock           LockConfig           `mapstructure:"lock"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Platforms      []PlatformConfig     `mapstructure:"platforms"`
	Rates          RatesConfig          `mapstructure:"rates"`
	Storage        StorageConfig        `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// ReconciliationConfig holds batch defaults and run tuning.
// Decimal values are strings so they are never parsed through float64.
type ReconciliationConfig struct {
	ToleranceAbs        string        `mapstructure:"tolerance_abs"`
	ToleranceRel        string        `mapstructure:"tolerance_rel"`
	ConfidenceThreshold string        `mapstructure:"confidence_threshold"`
	Workers             int           `mapstructure:"workers"`
	BatchDeadline       time.Duration `mapstructure:"batch_deadline"`
	RecoverOrphans      bool          `mapstructure:"recover_orphans"`
	Retry               RetryConfig   `mapstructure:"retry"`
}

// RetryConfig holds collaborator retry settings
type RetryConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Factor      float64       `mapstructure:"factor"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// LockConfig selects the per-detail locker
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the redis lock backend
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Prefix     string        `mapstructure:"prefix"`
	RetryEvery time.Duration `mapstructure:"retry_every"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// SchedulerConfig holds the daily batch schedule
type SchedulerConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Spec       string  `mapstructure:"spec"`
	Timezone   string  `mapstructure:"timezone"`
	ChannelIDs []int64 `mapstructure:"channel_ids"`
	ProjectIDs []int64 `mapstructure:"project_ids"`
}

// PlatformConfig maps a channel to its spreadsheet spend export
type PlatformConfig struct {
	ChannelID int64  `mapstructure:"channel_id"`
	Path      string `mapstructure:"path"`
	Sheet     string `mapstructure:"sheet"`
}

// RatesConfig holds exchange rate sources
type RatesConfig struct {
	// Static maps "FROM/TO" to a rate, consulted after the rate table
	Static   map[string]string `mapstructure:"static"`
	UseTable bool              `mapstructure:"use_table"`
}

// StorageConfig holds generated file settings
type StorageConfig struct {
	ExportDir string `mapstructure:"export_dir"`
}

// Load loads configuration from an optional YAML file and environment variables.
// With an empty path only defaults and the environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/reconciliation.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Reconciliation defaults
	v.SetDefault("reconciliation.tolerance_abs", "0.01")
	v.SetDefault("reconciliation.tolerance_rel", "0")
	v.SetDefault("reconciliation.confidence_threshold", "0.8")
	v.SetDefault("reconciliation.workers", 8)
	v.SetDefault("reconciliation.batch_deadline", 30*time.Minute)
	v.SetDefault("reconciliation.recover_orphans", true)
	v.SetDefault("reconciliation.retry.base_delay", 200*time.Millisecond)
	v.SetDefault("reconciliation.retry.factor", 2.0)
	v.SetDefault("reconciliation.retry.max_delay", 5*time.Second)
	v.SetDefault("reconciliation.retry.max_attempts", 5)
	v.SetDefault("reconciliation.retry.call_timeout", 10*time.Second)

	// Lock defaults
	v.SetDefault("lock.backend", LockBackendMemory)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.prefix", "recon:lock:")
	v.SetDefault("lock.redis.retry_every", 50*time.Millisecond)
	v.SetDefault("lock.redis.max_retries", 100)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.spec", "30 2 * * *")
	v.SetDefault("scheduler.timezone", "UTC")

	// Rates defaults
	v.SetDefault("rates.use_table", true)

	// Storage defaults
	v.SetDefault("storage.export_dir", "data/exports")
}

// bindEnvVars binds the short environment names operators use most
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "RECON_DB_PATH")
	v.BindEnv("lock.redis.addr", "RECON_REDIS_ADDR")
	v.BindEnv("lock.redis.password", "RECON_REDIS_PASSWORD")
	v.BindEnv("server.port", "RECON_PORT")
	v.BindEnv("logger.level", "RECON_LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Validate reconciliation decimals
	for field, raw := range map[string]string{
		"reconciliation.tolerance_abs":        c.Reconciliation.ToleranceAbs,
		"reconciliation.tolerance_rel":        c.Reconciliation.ToleranceRel,
		"reconciliation.confidence_threshold": c.Reconciliation.ConfidenceThreshold,
	} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", field, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", field)
		}
	}
	if c.Reconciliation.Workers <= 0 {
		return fmt.Errorf("reconciliation.workers must be positive")
	}
	if c.Reconciliation.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reconciliation.retry.max_attempts must be positive")
	}

	// Validate lock backend
	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("lock.backend must be %q or %q", LockBackendMemory, LockBackendRedis)
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.Spec == "" {
			return fmt.Errorf("scheduler.spec is required when the scheduler is enabled")
		}
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	seen := make(map[int64]bool, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.ChannelID <= 0 {
			return fmt.Errorf("platforms[%d].channel_id must be positive", i)
		}
		if p.Path == "" {
			return fmt.Errorf("platforms[%d].path is required", i)
		}
		if seen[p.ChannelID] {
			return fmt.Errorf("platforms[%d]: channel %d configured twice", i, p.ChannelID)
		}
		seen[p.ChannelID] = true
	}

	if c.Storage.ExportDir == "" {
		return fmt.Errorf("storage.export_dir is required")
	}

	return nil
}

package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/dispatcher"
	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/application/service"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/worker"
	"go.uber.org/zap"
)

// ShutdownActor is recorded on batches cancelled because the process is stopping
const ShutdownActor = "shutdown"

// drainTimeout bounds how long Close waits for in-flight runs to stop
const drainTimeout = 30 * time.Second

// Container manages all application dependencies and lifecycle.
// Initialization is ordered and teardown runs in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *DatabaseBundle
	repositories *RepositoryBundle

	// Infrastructure - External
	external *ExternalBundle

	// Application
	dispatcher   dispatcher.Dispatcher
	orchestrator workflow.Orchestrator
	services     *ServiceBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories and database-backed collaborators.
type RepositoryBundle struct {
	Batches      port.BatchRepository
	Details      port.DetailRepository
	Claims       port.ScopeClaimRepository
	Adjustments  port.AdjustmentRepository
	Operations   port.OperationRepository
	Audit        port.AuditRepository
	Reports      port.ReportRepository
	Directory    port.AccountDirectory
	DailyReports port.DailyReportSource
	RateTable    port.RateOracle
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Batches    service.BatchService
	Resolution service.ResolutionService
	Reports    service.ReportService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. External collaborators (platforms, rates, locker)
// 3. Event dispatcher
// 4. Batch orchestrator
// 5. Application services
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize external collaborators
	if err := c.initExternal(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize external collaborators: %w", err)
	}
	c.logger.Info("External collaborators initialized",
		zap.Int("platforms", len(c.external.Platforms.Channels())),
		zap.Bool("redis_lock", c.external.Redis != nil))

	// Step 3: Initialize dispatcher
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.dispatcher = disp
	c.logger.Info("Dispatcher initialized")

	// Step 4: Initialize orchestrator
	c.orchestrator, err = ProvideOrchestrator(&OrchestratorDeps{
		Repos:     c.repositories,
		TxManager: c.database.TransactionMgr,
		External:  c.external,
		Publisher: c.dispatcher,
		Workflow:  c.config.Workflow,
		Retry:     c.config.Retry,
		Logger:    c.logger,
	})
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	c.logger.Info("Orchestrator initialized", zap.Int("workers", c.config.Workflow.Workers))

	// Step 5: Initialize application services
	c.services, err = ProvideServices(&ServiceDeps{
		Repos:        c.repositories,
		TxManager:    c.database.TransactionMgr,
		Orchestrator: c.orchestrator,
		Locker:       c.external.Locker,
		Publisher:    c.dispatcher,
		Config:       c.config,
		Logger:       c.logger,
	})
	if err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 6: Initialize and start workers
	c.workers = ProvideWorkers(c.config, c.services.Batches, c.logger)
	if err := c.workers.StartAll(c.ctx); err != nil {
		c.teardown()
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Strings("running", c.workers.Running()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever was initialized, newest first
func (c *Container) teardown() []error {
	var errs []error

	// Step 1: Stop workers so nothing starts new runs
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Cancel in-flight runs while the database is still open
	if c.services != nil {
		c.drainRuns()
	}

	// Step 3: Close dispatcher, waiting for async handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 4: Close the redis client behind the distributed locker
	if c.external != nil && c.external.Redis != nil {
		if err := c.external.Redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	// Step 5: Close database
	if c.database != nil {
		if err := c.database.DB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	return errs
}

// drainRuns cancels batches still processing so their unfinished accounts are
// recorded as exceptions instead of being orphaned
func (c *Container) drainRuns() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	batches, _, err := c.services.Batches.ListBatches(ctx,
		entity.BatchFilter{Status: entity.BatchStatusProcessing}, entity.Page{Limit: 500})
	if err != nil {
		c.logger.Error("Failed to list processing batches", zap.Error(err))
		return
	}
	for _, b := range batches {
		if _, err := c.services.Batches.CancelBatch(ctx, b.ID, ShutdownActor); err != nil {
			c.logger.Error("Failed to cancel batch on shutdown", zap.Int64("batch_id", b.ID), zap.Error(err))
			continue
		}
		c.logger.Warn("Cancelled batch on shutdown", zap.Int64("batch_id", b.ID), zap.String("batch_no", b.BatchNo))
	}
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	// Check database
	if c.database == nil {
		set("database", false, "not initialized")
	} else if err := c.database.DB.Ping(); err != nil {
		set("database", false, fmt.Sprintf("ping failed: %v", err))
	} else {
		set("database", true, "")
	}

	// Check locker
	if c.external == nil {
		set("locker", false, "not initialized")
	} else if c.external.Redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.external.Redis.Ping(ctx).Err(); err != nil {
			set("locker", false, fmt.Sprintf("redis ping failed: %v", err))
		} else {
			set("locker", true, "redis")
		}
	} else {
		set("locker", true, "memory")
	}

	// Check dispatcher
	if c.dispatcher == nil {
		set("dispatcher", false, "not initialized")
	} else {
		set("dispatcher", true, "")
	}

	// Check workers
	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		set("workers", true, fmt.Sprintf("running: %v", c.workers.Running()))
	}

	return status
}

// Getters for accessing container components

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Orchestrator returns the batch orchestrator.
func (c *Container) Orchestrator() workflow.Orchestrator {
	return c.orchestrator
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// KeyValueLogger is the Info/Error(msg, keysAndValues...) logger shape the
// application and interface layers depend on
type KeyValueLogger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// KeyValueLogger returns the container's logger for key/value consumers.
func (c *Container) KeyValueLogger() KeyValueLogger {
	return &zapLoggerAdapter{logger: c.logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = bundle

	repos, err := ProvideRepositories(bundle.DB, c.logger)
	if err != nil {
		bundle.DB.Close()
		c.database = nil
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initExternal() error {
	external, err := ProvideExternal(c.ctx, c.config, c.repositories, c.logger)
	if err != nil {
		return err
	}
	c.external = external
	return nil
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces of
// the service, dispatcher and HTTP packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

package container

import (
	"context"
	"fmt"

	"github.com/garyjia/spend-reconciliation/internal/application/aggregator"
	"github.com/garyjia/spend-reconciliation/internal/application/dispatcher"
	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/application/service"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/export"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/external/platform"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/external/rates"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/lock"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/repository"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/storage"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/worker"
	"github.com/garyjia/spend-reconciliation/pkg/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds collaborator implementations.
type ExternalBundle struct {
	Platforms *platform.Registry
	Rates     port.RateOracle
	Locker    port.Locker

	// Redis is set only for the redis lock backend
	Redis redis.UniversalClient
}

// ProvideDatabase opens the database, applies the embedded migrations and
// creates the transaction manager.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Batches:      repository.NewBatchRepository(db.DB, logger),
		Details:      repository.NewDetailRepository(db.DB, logger),
		Claims:       repository.NewScopeClaimRepository(db.DB, logger),
		Adjustments:  repository.NewAdjustmentRepository(db.DB, logger),
		Operations:   repository.NewOperationRepository(db.DB, logger),
		Audit:        repository.NewAuditRepository(db.DB, logger),
		Reports:      repository.NewReportRepository(db.DB, logger),
		Directory:    repository.NewAccountDirectory(db.DB, logger),
		DailyReports: repository.NewDailyReportSource(db.DB, logger),
		RateTable:    repository.NewRateTable(db.DB, logger),
	}, nil
}

// ProvideExternal creates the platform registry, the rate oracle chain and the locker.
func ProvideExternal(ctx context.Context, cfg *Config, repos *RepositoryBundle, logger *zap.Logger) (*ExternalBundle, error) {
	registry := platform.NewRegistry()
	for _, p := range cfg.Platforms {
		registry.Register(p.ChannelID, platform.NewXLSXAdapter(p.Path, p.Sheet, logger))
		logger.Info("Platform export registered",
			zap.Int64("channel_id", p.ChannelID),
			zap.String("path", p.Path))
	}

	// The rate table wins over static rates so finance can correct a day
	var chain rates.Chain
	if cfg.Rates.UseTable {
		chain = append(chain, repos.RateTable)
	}
	if len(cfg.Rates.Static) > 0 {
		static, err := rates.NewStatic(cfg.Rates.Static)
		if err != nil {
			return nil, fmt.Errorf("invalid static rates: %w", err)
		}
		chain = append(chain, static)
	}

	bundle := &ExternalBundle{Platforms: registry, Rates: chain}

	if !cfg.Lock.Redis {
		bundle.Locker = lock.NewMemoryLocker()
		return bundle, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.RedisAddr,
		Password: cfg.Lock.RedisPassword,
		DB:       cfg.Lock.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Lock.RedisAddr, err)
	}
	bundle.Redis = rdb
	bundle.Locker = lock.NewRedisLocker(rdb, lock.RedisConfig{
		Prefix:     cfg.Lock.RedisPrefix,
		RetryEvery: cfg.Lock.RedisRetryEvery,
		MaxRetries: cfg.Lock.RedisMaxRetries,
	}, logger)
	return bundle, nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the audit logger.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	kv := &zapLoggerAdapter{logger: logger.Named("events")}
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(kv))
	disp.SubscribeAll("event-log", dispatcher.NewLoggingHandler(kv))
	return disp, nil
}

// OrchestratorDeps holds dependencies for the batch orchestrator.
type OrchestratorDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	External  *ExternalBundle
	Publisher port.EventPublisher
	Workflow  workflow.Config
	Retry     aggregator.RetryPolicy
	Logger    *zap.Logger
}

// ProvideOrchestrator creates the spend aggregator and the orchestrator that drives it.
func ProvideOrchestrator(deps *OrchestratorDeps) (workflow.Orchestrator, error) {
	if deps == nil || deps.Repos == nil || deps.External == nil {
		return nil, fmt.Errorf("orchestrator dependencies are required")
	}

	agg := aggregator.New(
		deps.External.Platforms,
		deps.Repos.DailyReports,
		deps.External.Rates,
		deps.Retry,
		deps.Logger.Named("aggregator"),
	)

	return workflow.NewOrchestrator(workflow.Repositories{
		Batches: deps.Repos.Batches,
		Claims:  deps.Repos.Claims,
		Details: deps.Repos.Details,
		Audit:   deps.Repos.Audit,
	}, deps.TxManager, deps.Repos.Directory, agg, deps.Workflow, deps.Logger.Named("orchestrator"),
		workflow.WithPublisher(deps.Publisher)), nil
}

// ServiceDeps holds dependencies for service creation.
type ServiceDeps struct {
	Repos        *RepositoryBundle
	TxManager    port.TransactionManager
	Orchestrator workflow.Orchestrator
	Locker       port.Locker
	Publisher    port.EventPublisher
	Config       *Config
	Logger       *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}

	logger := &zapLoggerAdapter{logger: deps.Logger}
	repos := deps.Repos

	exports := service.WithExports(
		export.NewXLSXRenderer(),
		storage.NewLocalFileStore(deps.Config.Storage.ExportDir, deps.Logger.Named("storage")),
	)

	return &ServiceBundle{
		Batches: service.NewBatchService(repos.Batches, repos.Details, repos.Audit,
			deps.TxManager, deps.Orchestrator, deps.Config.Batch, logger),
		Resolution: service.NewResolutionService(service.ResolutionRepositories{
			Batches:     repos.Batches,
			Details:     repos.Details,
			Adjustments: repos.Adjustments,
			Operations:  repos.Operations,
			Audit:       repos.Audit,
		}, deps.TxManager, deps.Locker, deps.Orchestrator, deps.Publisher, deps.Config.Lock.TTL, logger),
		Reports: service.NewReportService(repos.Batches, repos.Details, repos.Reports, repos.Audit,
			deps.TxManager, deps.Publisher, logger, exports),
	}, nil
}

// ProvideWorkers creates the background jobs. Recovery is registered first so
// it finishes before the scheduler can start new runs.
func ProvideWorkers(cfg *Config, batches service.BatchService, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger.Named("workers"))

	if cfg.RecoverOrphans {
		manager.Register(worker.NewRecovery(batches, logger.Named("recovery")))
	}
	if cfg.Scheduler.Enabled {
		manager.Register(worker.NewScheduler(worker.SchedulerConfig{
			Spec:       cfg.Scheduler.Spec,
			Location:   cfg.Scheduler.Location,
			ChannelIDs: cfg.Scheduler.ChannelIDs,
			ProjectIDs: cfg.Scheduler.ProjectIDs,
		}, batches, logger.Named("scheduler")))
	}

	return manager
}

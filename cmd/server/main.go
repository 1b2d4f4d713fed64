package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/spend-reconciliation/internal/config"
	"github.com/garyjia/spend-reconciliation/internal/container"
	httpserver "github.com/garyjia/spend-reconciliation/internal/interfaces/http"
	"github.com/garyjia/spend-reconciliation/pkg/utils"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// Load .env for local runs; real deployments set the environment directly
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	containerCfg, err := cfg.ToContainerConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("Starting spend reconciliation server",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.Bool("scheduler", cfg.Scheduler.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	services := app.Services()
	server := httpserver.NewServer(
		containerCfg.Server,
		services.Batches,
		services.Resolution,
		services.Reports,
		app.KeyValueLogger(),
		httpserver.WithHealth(func() (bool, interface{}) {
			health := app.Health()
			return health.Overall, health.Components
		}),
	)

	// Start blocks until a signal cancels ctx, then shuts the server down
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("Shutting down server...")
	return nil
}

// configPath honours RECON_CONFIG and skips the default file when it is absent
func configPath() string {
	if path := os.Getenv("RECON_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		return ""
	}
	return defaultConfigPath
}

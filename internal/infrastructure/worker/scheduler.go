package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/spend-reconciliation/internal/application/service"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

// ScheduledActor is recorded as the actor of batches the scheduler creates
const ScheduledActor = "scheduler"

// BatchRunner is the part of the batch service the background jobs drive
type BatchRunner interface {
	CreateBatch(ctx context.Context, req service.CreateBatchRequest, actor string) (*entity.Batch, error)
	StartBatch(ctx context.Context, id int64, actor string) (*entity.Batch, error)
	CancelBatch(ctx context.Context, id int64, actor string) (*entity.Batch, error)
	ListBatches(ctx context.Context, filter entity.BatchFilter, page entity.Page) ([]*entity.Batch, int, error)
}

// SchedulerConfig holds configuration for the daily batch scheduler
type SchedulerConfig struct {
	// Spec is a standard five-field cron expression, e.g. "30 2 * * *"
	Spec       string
	Location   *time.Location
	ChannelIDs []int64
	ProjectIDs []int64
}

// Scheduler creates and starts a batch for the previous day on a cron schedule
type Scheduler struct {
	config SchedulerConfig
	runner BatchRunner
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates a new daily batch scheduler
func NewScheduler(config SchedulerConfig, runner BatchRunner, logger *zap.Logger) *Scheduler {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Scheduler{
		config: config,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
}

// Name implements Worker
func (s *Scheduler) Name() string {
	return "daily-batch-scheduler"
}

// Start registers the cron entry and begins ticking
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithLocation(s.config.Location), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(s.config.Spec, func() { s.RunOnce(s.ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.config.Spec, err)
	}

	s.ctx = ctx
	s.cron = c
	c.Start()

	s.logger.Info("Daily batch scheduler started", zap.String("spec", s.config.Spec), zap.String("location", s.config.Location.String()))
	return nil
}

// Stop halts the schedule and waits for a running job to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// RunOnce creates and starts the batch for yesterday in the scheduler's location
func (s *Scheduler) RunOnce(ctx context.Context) {
	day := s.now().In(s.config.Location).AddDate(0, 0, -1).Format(entity.DateLayout)

	batch, err := s.runner.CreateBatch(ctx, service.CreateBatchRequest{
		ReconciliationDate: day,
		ChannelIDs:         s.config.ChannelIDs,
		ProjectIDs:         s.config.ProjectIDs,
		Notes:              fmt.Sprintf("scheduled daily run for %s", day),
	}, ScheduledActor)
	if err != nil {
		s.logger.Error("Scheduled batch creation failed", zap.String("date", day), zap.Error(err))
		return
	}

	if _, err := s.runner.StartBatch(ctx, batch.ID, ScheduledActor); err != nil {
		s.logger.Error("Scheduled batch failed to start",
			zap.Int64("batch_id", batch.ID),
			zap.String("date", day),
			zap.Error(err))
		return
	}

	s.logger.Info("Scheduled batch started",
		zap.Int64("batch_id", batch.ID),
		zap.String("batch_no", batch.BatchNo),
		zap.String("date", day))
}

package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

// RecoveryActor is recorded on batches failed by startup recovery
const RecoveryActor = "recovery"

// Recovery fails batches left processing by a previous process. Runs are not
// resumed: the batch moves to exception and its scope claims are released so
// the scope can be reconciled again.
type Recovery struct {
	runner BatchRunner
	logger *zap.Logger
}

// NewRecovery creates a startup recovery job
func NewRecovery(runner BatchRunner, logger *zap.Logger) *Recovery {
	return &Recovery{runner: runner, logger: logger}
}

// Name implements Worker
func (r *Recovery) Name() string {
	return "orphan-batch-recovery"
}

// Start cancels every processing batch once, before the server takes traffic
func (r *Recovery) Start(ctx context.Context) error {
	for {
		batches, _, err := r.runner.ListBatches(ctx, entity.BatchFilter{Status: entity.BatchStatusProcessing}, entity.Page{Limit: 100})
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			return nil
		}

		recovered := 0
		for _, b := range batches {
			if _, err := r.runner.CancelBatch(ctx, b.ID, RecoveryActor); err != nil {
				r.logger.Error("Failed to recover orphaned batch", zap.Int64("batch_id", b.ID), zap.Error(err))
				continue
			}
			recovered++
			r.logger.Warn("Recovered orphaned batch", zap.Int64("batch_id", b.ID), zap.String("batch_no", b.BatchNo))
		}
		if recovered == 0 {
			return nil
		}
	}
}

// Stop implements Worker
func (r *Recovery) Stop() error {
	return nil
}

package workflow

import (
	"context"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	domainwf "github.com/garyjia/spend-reconciliation/internal/domain/workflow"
	"go.uber.org/zap"
)

// refreshAggregates overwrites the batch counters and sums with a fresh
// derivation from its details
func (o *orchestrator) refreshAggregates(ctx context.Context, batchID int64) (entity.BatchCounters, error) {
	details, err := o.repos.Details.ListAll(ctx, batchID)
	if err != nil {
		return entity.BatchCounters{}, err
	}
	counters, sums := entity.Aggregate(details)
	if err := o.repos.Batches.UpdateAggregates(ctx, batchID, counters, sums); err != nil {
		return entity.BatchCounters{}, err
	}
	return counters, nil
}

// Recompute runs after every detail state change. Callers publish
// batch.resolved themselves once their transaction commits; see ResolvedEvent.
func (o *orchestrator) Recompute(ctx context.Context, batchID int64, actor string) (*RecomputeResult, error) {
	result := &RecomputeResult{}

	err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		details, err := o.repos.Details.ListAll(txCtx, batchID)
		if err != nil {
			return err
		}
		counters, sums := entity.Aggregate(details)
		if err := o.repos.Batches.UpdateAggregates(txCtx, batchID, counters, sums); err != nil {
			return err
		}

		batch, err := o.repos.Batches.GetByID(txCtx, batchID)
		if err != nil {
			return err
		}
		result.Batch = batch

		if !entity.AllTerminal(details) {
			return nil
		}
		if _, err := BuildBatchStateMachine(domainwf.State(batch.Status)).Target(txCtx, domainwf.TriggerResolve); err != nil {
			return nil
		}

		if err := o.repos.Batches.Transition(txCtx, port.BatchTransition{
			BatchID:     batchID,
			FromStatus:  entity.BatchStatusCompleted,
			FromVersion: batch.Version,
			ToStatus:    entity.BatchStatusResolved,
		}); err != nil {
			return err
		}
		if err := o.repos.Audit.Append(txCtx, batchAudit(batchID, actor, entity.AuditOpResolveBatch,
			entity.BatchStatusCompleted, entity.BatchStatusResolved, counterPayload(counters))); err != nil {
			return err
		}

		result.Batch, err = o.repos.Batches.GetByID(txCtx, batchID)
		result.Resolved = true
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Resolved {
		o.logger.Info("Batch resolved", zap.Int64("batch_id", batchID), zap.String("actor", actor))
	}
	return result, nil
}

// ResolvedEvent is the batch.resolved event for a recompute that resolved its batch
func ResolvedEvent(result *RecomputeResult, actor string) *event.Event {
	return event.NewBatchEvent(event.TypeBatchResolved, result.Batch.ID, actor, counterPayload(result.Batch.Counters))
}

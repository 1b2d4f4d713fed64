// Package workflow drives reconciliation batches through their lifecycle and
// keeps batch aggregates derived from persisted details.
package workflow

import (
	"context"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/aggregator"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

// Orchestrator runs reconciliation batches
type Orchestrator interface {
	// Start moves a pending batch to processing and runs it asynchronously
	Start(ctx context.Context, batchID int64, actor string) (*entity.Batch, error)

	// Cancel stops a processing batch; unfinished accounts get exception details
	Cancel(ctx context.Context, batchID int64, actor string) (*entity.Batch, error)

	// Wait blocks until the batch's run in this process has finished
	Wait(ctx context.Context, batchID int64) error

	// Recompute re-derives aggregates from details and resolves a completed
	// batch whose details are all terminal. It joins the caller's transaction.
	Recompute(ctx context.Context, batchID int64, actor string) (*RecomputeResult, error)
}

// RecomputeResult is the batch after re-aggregation
type RecomputeResult struct {
	Batch *entity.Batch

	// Resolved is true when this call moved the batch to resolved
	Resolved bool
}

// Collector fetches and normalizes both sides of one account
type Collector interface {
	Collect(ctx context.Context, account entity.AdAccount, date time.Time, reportingCurrency string) (*aggregator.Pair, error)
}

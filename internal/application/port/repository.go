package port

import (
	"context"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

// BatchTransition is a compare-and-swap on a batch's status and version.
// Optional stamps are only written when set.
type BatchTransition struct {
	BatchID         int64
	FromStatus      entity.BatchStatus
	FromVersion     int64
	ToStatus        entity.BatchStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExceptionReason string
}

// BatchRepository defines persistence operations for Batch
type BatchRepository interface {
	Create(ctx context.Context, batch *entity.Batch) error
	GetByID(ctx context.Context, id int64) (*entity.Batch, error)
	List(ctx context.Context, filter entity.BatchFilter, page entity.Page) ([]*entity.Batch, int, error)

	// ListForPeriod returns batches whose reconciliation date falls in [from, to]
	ListForPeriod(ctx context.Context, from, to time.Time, statuses []entity.BatchStatus) ([]*entity.Batch, error)

	// Transition applies the CAS; a stale status or version yields a ConflictError
	Transition(ctx context.Context, t BatchTransition) error

	// UpdateAggregates overwrites counters and sums with recomputed values
	UpdateAggregates(ctx context.Context, id int64, counters entity.BatchCounters, sums entity.BatchSums) error

	Delete(ctx context.Context, id int64) error
}

// ScopeClaimRepository guards against two active batches reconciling the same (date, account)
type ScopeClaimRepository interface {
	// Claim inserts one claim per account; any overlap yields ConflictError SCOPE_OVERLAP
	Claim(ctx context.Context, batchID int64, date time.Time, accountIDs []int64) error

	// Release drops every claim held by the batch
	Release(ctx context.Context, batchID int64) error
}

// DetailRepository defines persistence operations for Detail
type DetailRepository interface {
	// Create inserts a detail; a second detail for (batch, account) yields ConflictError DUPLICATE_DETAIL
	Create(ctx context.Context, detail *entity.Detail) error
	GetByID(ctx context.Context, id int64) (*entity.Detail, error)
	List(ctx context.Context, batchID int64, filter entity.DetailFilter, page entity.Page) ([]*entity.Detail, int, error)
	ListAll(ctx context.Context, batchID int64) ([]*entity.Detail, error)
	ListByBatches(ctx context.Context, batchIDs []int64) ([]*entity.Detail, error)
	CountByBatch(ctx context.Context, batchID int64) (int, error)

	// UpdateOutcome writes status, review and resolution fields. Amounts are never updated.
	UpdateOutcome(ctx context.Context, detail *entity.Detail) error
}

// AdjustmentRepository defines persistence operations for Adjustment
type AdjustmentRepository interface {
	Create(ctx context.Context, adj *entity.Adjustment) error
	GetByID(ctx context.Context, id int64) (*entity.Adjustment, error)
	ListByDetail(ctx context.Context, detailID int64) ([]*entity.Adjustment, error)

	// Confirm marks the adjustment finance-confirmed; an already confirmed one yields PolicyViolation
	Confirm(ctx context.Context, id int64, by string, at time.Time) error
	CountUnconfirmed(ctx context.Context, detailID int64) (int, error)
}

// AuditRepository is the append-only audit log
type AuditRepository interface {
	Append(ctx context.Context, entry *entity.AuditEntry) error
	ListByBatch(ctx context.Context, batchID int64, page entity.Page) ([]*entity.AuditEntry, error)
}

// OperationRepository stores detail operation results for idempotent replay
type OperationRepository interface {
	// Get returns nil, nil when the operation has not been recorded
	Get(ctx context.Context, detailID int64, opID string) (*entity.DetailOperation, error)
	Save(ctx context.Context, op *entity.DetailOperation) error
}

// ReportRepository defines persistence operations for Report
type ReportRepository interface {
	Create(ctx context.Context, report *entity.Report) error
	GetByID(ctx context.Context, id int64) (*entity.Report, error)
	List(ctx context.Context, reportType entity.ReportType, page entity.Page) ([]*entity.Report, error)
}

// TransactionManager handles database transactions. Repositories called with
// the ctx passed to fn join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

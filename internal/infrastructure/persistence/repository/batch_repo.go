package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const batchColumns = `
	id, batch_no, reconciliation_date, status, version, scope, reporting_currency,
	tolerance_abs, tolerance_rel, confidence_threshold,
	total_count, matched_count, mismatched_count, auto_matched_count, manual_reviewed_count,
	platform_total, internal_total, difference_total,
	started_at, completed_at, exception_reason, created_by, notes, created_at, updated_at`

// BatchRepository implements port.BatchRepository
type BatchRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *sql.DB, logger *zap.Logger) port.BatchRepository {
	return &BatchRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a batch and sets its ID
func (r *BatchRepository) Create(ctx context.Context, batch *entity.Batch) error {
	scope, err := json.Marshal(batch.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode batch scope: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO batches (
			batch_no, reconciliation_date, status, version, scope, reporting_currency,
			tolerance_abs, tolerance_rel, confidence_threshold,
			created_by, notes, created_at, updated_at
		) VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		batch.BatchNo,
		dateString(batch.ReconciliationDate),
		batch.Status,
		string(scope),
		batch.ReportingCurrency,
		batch.Tolerance.Absolute,
		batch.Tolerance.Relative,
		batch.Tolerance.ConfidenceThreshold,
		batch.CreatedBy,
		batch.Notes,
		now,
		now,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return apperror.Conflict(apperror.CodeDuplicateBatchNo, "batch_no %s already exists", batch.BatchNo)
		}
		r.logger.Error("Failed to create batch", zap.Error(err))
		return fmt.Errorf("failed to create batch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	batch.ID = id
	batch.Version = 0
	batch.CreatedAt = now
	batch.UpdatedAt = now
	return nil
}

// GetByID returns the batch or a NotFound error
func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*entity.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE id = ?`

	batch, err := scanBatch(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(apperror.CodeBatchNotFound, "batch %d not found", id)
	}
	if err != nil {
		r.logger.Error("Failed to get batch by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// List returns a page of batches, newest date first, plus the unpaged total
func (r *BatchRepository) List(ctx context.Context, filter entity.BatchFilter, page entity.Page) ([]*entity.Batch, int, error) {
	page = page.Normalize()

	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.DateFrom != nil {
		where = append(where, "reconciliation_date >= ?")
		args = append(args, dateString(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		where = append(where, "reconciliation_date <= ?")
		args = append(args, dateString(*filter.DateTo))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	exec := sqlite.ExecutorFrom(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	query := `SELECT ` + batchColumns + ` FROM batches` + clause +
		` ORDER BY reconciliation_date DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := exec.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		r.logger.Error("Failed to list batches", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	batches, err := collectBatches(rows)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// ListForPeriod returns batches dated within [from, to] in the given statuses
func (r *BatchRepository) ListForPeriod(ctx context.Context, from, to time.Time, statuses []entity.BatchStatus) ([]*entity.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE reconciliation_date BETWEEN ? AND ?`
	args := []interface{}{dateString(from), dateString(to)}
	if len(statuses) > 0 {
		in, statusArgs := inClause(statuses)
		query += ` AND status IN (` + in + `)`
		args = append(args, statusArgs...)
	}
	query += ` ORDER BY reconciliation_date, id`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list batches for period", zap.Error(err))
		return nil, fmt.Errorf("failed to list batches for period: %w", err)
	}
	defer rows.Close()

	return collectBatches(rows)
}

// Transition applies a status+version compare-and-swap
func (r *BatchRepository) Transition(ctx context.Context, t port.BatchTransition) error {
	query := `
		UPDATE batches
		SET status = ?,
			version = version + 1,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at),
			exception_reason = CASE WHEN ? = '' THEN exception_reason ELSE ? END,
			updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		t.ToStatus,
		nullTime(t.StartedAt),
		nullTime(t.CompletedAt),
		t.ExceptionReason, t.ExceptionReason,
		time.Now().UTC(),
		t.BatchID, t.FromStatus, t.FromVersion,
	)
	if err != nil {
		r.logger.Error("Failed to transition batch",
			zap.Int64("batch_id", t.BatchID),
			zap.String("to", string(t.ToStatus)),
			zap.Error(err))
		return fmt.Errorf("failed to transition batch: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.Conflict(apperror.CodeVersionConflict,
			"batch %d is no longer %s at version %d", t.BatchID, t.FromStatus, t.FromVersion)
	}
	return nil
}

// UpdateAggregates overwrites the batch counters and sums
func (r *BatchRepository) UpdateAggregates(ctx context.Context, id int64, counters entity.BatchCounters, sums entity.BatchSums) error {
	query := `
		UPDATE batches
		SET total_count = ?, matched_count = ?, mismatched_count = ?,
			auto_matched_count = ?, manual_reviewed_count = ?,
			platform_total = ?, internal_total = ?, difference_total = ?,
			updated_at = ?
		WHERE id = ?
	`

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		counters.Total, counters.Matched, counters.Mismatched,
		counters.AutoMatched, counters.ManualReviewed,
		sums.PlatformTotal, sums.InternalTotal, sums.DifferenceTotal,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		r.logger.Error("Failed to update batch aggregates", zap.Int64("batch_id", id), zap.Error(err))
		return fmt.Errorf("failed to update batch aggregates: %w", err)
	}
	return nil
}

// Delete removes a batch row
func (r *BatchRepository) Delete(ctx context.Context, id int64) error {
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, "DELETE FROM batches WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to delete batch", zap.Int64("batch_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperror.NotFound(apperror.CodeBatchNotFound, "batch %d not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*entity.Batch, error) {
	var b entity.Batch
	var date, scope string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&b.ID, &b.BatchNo, &date, &b.Status, &b.Version, &scope, &b.ReportingCurrency,
		&b.Tolerance.Absolute, &b.Tolerance.Relative, &b.Tolerance.ConfidenceThreshold,
		&b.Counters.Total, &b.Counters.Matched, &b.Counters.Mismatched,
		&b.Counters.AutoMatched, &b.Counters.ManualReviewed,
		&b.Sums.PlatformTotal, &b.Sums.InternalTotal, &b.Sums.DifferenceTotal,
		&startedAt, &completedAt, &b.ExceptionReason, &b.CreatedBy, &b.Notes,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if b.ReconciliationDate, err = parseDate(date); err != nil {
		return nil, fmt.Errorf("invalid reconciliation_date %q: %w", date, err)
	}
	if err := json.Unmarshal([]byte(scope), &b.Scope); err != nil {
		return nil, fmt.Errorf("invalid batch scope: %w", err)
	}
	b.StartedAt = timePtr(startedAt)
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

func collectBatches(rows *sql.Rows) ([]*entity.Batch, error) {
	var batches []*entity.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

var _ port.BatchRepository = (*BatchRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const adjustmentColumns = `
	id, detail_id, batch_id, adjustment_type, original_amount, adjustment_amount,
	reason_category, reason_detail, evidence_url, approved_by, approved_at,
	finance_confirmed, finance_confirmed_by, finance_confirmed_at, created_at`

// AdjustmentRepository implements port.AdjustmentRepository
type AdjustmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAdjustmentRepository creates a new adjustment repository
func NewAdjustmentRepository(db *sql.DB, logger *zap.Logger) port.AdjustmentRepository {
	return &AdjustmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an adjustment. The adjusted amount is never stored.
func (r *AdjustmentRepository) Create(ctx context.Context, adj *entity.Adjustment) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO adjustments (
			detail_id, batch_id, adjustment_type, original_amount, adjustment_amount,
			reason_category, reason_detail, evidence_url, approved_by, approved_at,
			finance_confirmed, finance_confirmed_by, finance_confirmed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		adj.DetailID, adj.BatchID, adj.AdjustmentType, adj.OriginalAmount, adj.AdjustmentAmount,
		adj.ReasonCategory, adj.ReasonDetail, adj.EvidenceURL, adj.ApprovedBy, adj.ApprovedAt.UTC(),
		boolInt(adj.FinanceConfirmed), adj.FinanceConfirmedBy, nullTime(adj.FinanceConfirmedAt), now,
	)
	if err != nil {
		r.logger.Error("Failed to create adjustment", zap.Int64("detail_id", adj.DetailID), zap.Error(err))
		return fmt.Errorf("failed to create adjustment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	adj.ID = id
	adj.CreatedAt = now
	return nil
}

// GetByID returns the adjustment or a NotFound error
func (r *AdjustmentRepository) GetByID(ctx context.Context, id int64) (*entity.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM adjustments WHERE id = ?`

	adj, err := scanAdjustment(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(apperror.CodeAdjustmentNotFound, "adjustment %d not found", id)
	}
	if err != nil {
		r.logger.Error("Failed to get adjustment by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}
	return adj, nil
}

// ListByDetail returns a detail's adjustments oldest first
func (r *AdjustmentRepository) ListByDetail(ctx context.Context, detailID int64) ([]*entity.Adjustment, error) {
	query := `SELECT ` + adjustmentColumns + ` FROM adjustments WHERE detail_id = ? ORDER BY id`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, detailID)
	if err != nil {
		r.logger.Error("Failed to list adjustments", zap.Int64("detail_id", detailID), zap.Error(err))
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []*entity.Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// Confirm flips finance_confirmed once; a second confirmation is a policy violation
func (r *AdjustmentRepository) Confirm(ctx context.Context, id int64, by string, at time.Time) error {
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `
		UPDATE adjustments
		SET finance_confirmed = 1, finance_confirmed_by = ?, finance_confirmed_at = ?
		WHERE id = ? AND finance_confirmed = 0
	`, by, at.UTC(), id)
	if err != nil {
		r.logger.Error("Failed to confirm adjustment", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to confirm adjustment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return apperror.Policy(apperror.CodeAdjustmentConfirmed, "adjustment %d is already finance-confirmed", id)
	}
	return nil
}

// CountUnconfirmed returns the detail's adjustments still awaiting finance
func (r *AdjustmentRepository) CountUnconfirmed(ctx context.Context, detailID int64) (int, error) {
	var n int
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM adjustments WHERE detail_id = ? AND finance_confirmed = 0", detailID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unconfirmed adjustments: %w", err)
	}
	return n, nil
}

func scanAdjustment(row rowScanner) (*entity.Adjustment, error) {
	var adj entity.Adjustment
	var confirmedAt sql.NullTime

	err := row.Scan(
		&adj.ID, &adj.DetailID, &adj.BatchID, &adj.AdjustmentType,
		&adj.OriginalAmount, &adj.AdjustmentAmount,
		&adj.ReasonCategory, &adj.ReasonDetail, &adj.EvidenceURL,
		&adj.ApprovedBy, &adj.ApprovedAt,
		&adj.FinanceConfirmed, &adj.FinanceConfirmedBy, &confirmedAt,
		&adj.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	adj.FinanceConfirmedAt = timePtr(confirmedAt)
	return &adj, nil
}

var _ port.AdjustmentRepository = (*AdjustmentRepository)(nil)

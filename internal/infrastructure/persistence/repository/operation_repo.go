package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// OperationRepository implements port.OperationRepository
type OperationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOperationRepository creates a new detail operation repository
func NewOperationRepository(db *sql.DB, logger *zap.Logger) port.OperationRepository {
	return &OperationRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns the recorded operation, or nil when it was never recorded
func (r *OperationRepository) Get(ctx context.Context, detailID int64, opID string) (*entity.DetailOperation, error) {
	var op entity.DetailOperation
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, `
		SELECT detail_id, op_id, operation, result, created_at
		FROM detail_operations
		WHERE detail_id = ? AND op_id = ?
	`, detailID, opID).Scan(&op.DetailID, &op.OpID, &op.Operation, &op.Result, &op.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get detail operation",
			zap.Int64("detail_id", detailID),
			zap.String("op_id", opID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get detail operation: %w", err)
	}
	return &op, nil
}

// Save records an operation result
func (r *OperationRepository) Save(ctx context.Context, op *entity.DetailOperation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO detail_operations (detail_id, op_id, operation, result, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, op.DetailID, op.OpID, op.Operation, op.Result, op.CreatedAt.UTC())
	if err != nil {
		r.logger.Error("Failed to save detail operation",
			zap.Int64("detail_id", op.DetailID),
			zap.String("op_id", op.OpID),
			zap.Error(err))
		return fmt.Errorf("failed to save detail operation: %w", err)
	}
	return nil
}

var _ port.OperationRepository = (*OperationRepository)(nil)

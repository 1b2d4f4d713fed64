package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ScopeClaimRepository implements port.ScopeClaimRepository
type ScopeClaimRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewScopeClaimRepository creates a new scope claim repository
func NewScopeClaimRepository(db *sql.DB, logger *zap.Logger) port.ScopeClaimRepository {
	return &ScopeClaimRepository{
		db:     db,
		logger: logger,
	}
}

// Claim inserts one (date, account) claim per account for the batch. Callers
// run it in the same transaction as the pending -> processing CAS.
func (r *ScopeClaimRepository) Claim(ctx context.Context, batchID int64, date time.Time, accountIDs []int64) error {
	exec := sqlite.ExecutorFrom(ctx, r.db)
	day := dateString(date)

	for _, accountID := range accountIDs {
		_, err := exec.ExecContext(ctx,
			"INSERT INTO batch_scope_claims (reconciliation_date, ad_account_id, batch_id) VALUES (?, ?, ?)",
			day, accountID, batchID,
		)
		if err == nil {
			continue
		}
		if sqlite.IsUniqueViolation(err) {
			var holder int64
			_ = exec.QueryRowContext(ctx,
				"SELECT batch_id FROM batch_scope_claims WHERE reconciliation_date = ? AND ad_account_id = ?",
				day, accountID,
			).Scan(&holder)
			return apperror.Conflict(apperror.CodeScopeOverlap,
				"account %d on %s is already being reconciled by batch %d", accountID, day, holder)
		}
		r.logger.Error("Failed to claim scope", zap.Int64("batch_id", batchID), zap.Error(err))
		return fmt.Errorf("failed to claim scope: %w", err)
	}
	return nil
}

// Release drops every claim held by the batch
func (r *ScopeClaimRepository) Release(ctx context.Context, batchID int64) error {
	if _, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx,
		"DELETE FROM batch_scope_claims WHERE batch_id = ?", batchID); err != nil {
		r.logger.Error("Failed to release scope", zap.Int64("batch_id", batchID), zap.Error(err))
		return fmt.Errorf("failed to release scope: %w", err)
	}
	return nil
}

var _ port.ScopeClaimRepository = (*ScopeClaimRepository)(nil)

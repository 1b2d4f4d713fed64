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

// AuditRepository implements port.AuditRepository over the append-only audit_log table
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit row
func (r *AuditRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO audit_log (
			entity_type, entity_id, batch_id, actor, operation,
			before_status, after_status, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.EntityType, entry.EntityID, entry.BatchID, entry.Actor, entry.Operation,
		entry.BeforeStatus, entry.AfterStatus, entry.Payload, entry.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("operation", entry.Operation),
			zap.Int64("entity_id", entry.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListByBatch returns a batch's audit trail oldest first
func (r *AuditRepository) ListByBatch(ctx context.Context, batchID int64, page entity.Page) ([]*entity.AuditEntry, error) {
	page = page.Normalize()

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, `
		SELECT id, entity_type, entity_id, batch_id, actor, operation,
			before_status, after_status, payload, created_at
		FROM audit_log
		WHERE batch_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`, batchID, page.Limit, page.Offset)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Int64("batch_id", batchID), zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var e entity.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.BatchID, &e.Actor, &e.Operation,
			&e.BeforeStatus, &e.AfterStatus, &e.Payload, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

var _ port.AuditRepository = (*AuditRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const detailColumns = `
	id, batch_id, ad_account_id, project_id, channel_id,
	external_amount, external_currency, external_date,
	internal_amount, internal_currency, internal_date,
	reporting_currency, exchange_rate, internal_exchange_rate, spend_difference,
	match_status, original_status, difference_type, reason, auto_confidence,
	reviewed_by, reviewed_at, review_decision, review_notes,
	resolution_type, resolution_notes, resolved_by, resolved_at,
	created_at, updated_at`

// DetailRepository implements port.DetailRepository
type DetailRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDetailRepository creates a new detail repository
func NewDetailRepository(db *sql.DB, logger *zap.Logger) port.DetailRepository {
	return &DetailRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a detail row; is_matched is derived from match_status
func (r *DetailRepository) Create(ctx context.Context, d *entity.Detail) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO reconciliation_details (
			batch_id, ad_account_id, project_id, channel_id,
			external_amount, external_currency, external_date,
			internal_amount, internal_currency, internal_date,
			reporting_currency, exchange_rate, internal_exchange_rate, spend_difference,
			is_matched, match_status, original_status, difference_type, reason, auto_confidence,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		d.BatchID, d.AdAccountID, d.ProjectID, d.ChannelID,
		d.ExternalAmount, d.ExternalCurrency, nullDate(d.ExternalDate),
		d.InternalAmount, d.InternalCurrency, nullDate(d.InternalDate),
		d.ReportingCurrency, d.ExchangeRate, d.InternalExchangeRate, d.SpendDifference,
		boolInt(d.IsMatched()), d.MatchStatus, d.OriginalStatus, d.DifferenceType, d.Reason, d.AutoConfidence,
		now, now,
	)
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return apperror.Conflict(apperror.CodeDuplicateDetail,
				"batch %d already has a detail for account %d", d.BatchID, d.AdAccountID)
		}
		r.logger.Error("Failed to create detail",
			zap.Int64("batch_id", d.BatchID),
			zap.Int64("ad_account_id", d.AdAccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create detail: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	d.ID = id
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

// GetByID returns the detail or a NotFound error
func (r *DetailRepository) GetByID(ctx context.Context, id int64) (*entity.Detail, error) {
	query := `SELECT ` + detailColumns + ` FROM reconciliation_details WHERE id = ?`

	d, err := scanDetail(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(apperror.CodeDetailNotFound, "detail %d not found", id)
	}
	if err != nil {
		r.logger.Error("Failed to get detail by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get detail: %w", err)
	}
	return d, nil
}

// List returns a filtered page of a batch's details plus the unpaged total
func (r *DetailRepository) List(ctx context.Context, batchID int64, filter entity.DetailFilter, page entity.Page) ([]*entity.Detail, int, error) {
	page = page.Normalize()

	where := []string{"batch_id = ?"}
	args := []interface{}{batchID}
	if filter.MatchStatus != "" {
		where = append(where, "match_status = ?")
		args = append(args, filter.MatchStatus)
	}
	if filter.DifferenceType != "" {
		where = append(where, "difference_type = ?")
		args = append(args, filter.DifferenceType)
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	exec := sqlite.ExecutorFrom(ctx, r.db)

	var total int
	if err := exec.QueryRowContext(ctx, "SELECT COUNT(*) FROM reconciliation_details"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count details: %w", err)
	}

	query := `SELECT ` + detailColumns + ` FROM reconciliation_details` + clause + ` ORDER BY id LIMIT ? OFFSET ?`
	rows, err := exec.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		r.logger.Error("Failed to list details", zap.Int64("batch_id", batchID), zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list details: %w", err)
	}
	defer rows.Close()

	details, err := collectDetails(rows)
	if err != nil {
		return nil, 0, err
	}
	return details, total, nil
}

// ListAll returns every detail of a batch in id order
func (r *DetailRepository) ListAll(ctx context.Context, batchID int64) ([]*entity.Detail, error) {
	return r.ListByBatches(ctx, []int64{batchID})
}

// ListByBatches returns every detail of the given batches
func (r *DetailRepository) ListByBatches(ctx context.Context, batchIDs []int64) ([]*entity.Detail, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	in, args := inClause(batchIDs)
	query := `SELECT ` + detailColumns + ` FROM reconciliation_details WHERE batch_id IN (` + in + `) ORDER BY batch_id, id`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list details by batches", zap.Error(err))
		return nil, fmt.Errorf("failed to list details: %w", err)
	}
	defer rows.Close()

	return collectDetails(rows)
}

// CountByBatch returns the number of details in a batch
func (r *DetailRepository) CountByBatch(ctx context.Context, batchID int64) (int, error) {
	var n int
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reconciliation_details WHERE batch_id = ?", batchID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count details: %w", err)
	}
	return n, nil
}

// UpdateOutcome writes the workflow fields. Amount columns are not touched.
func (r *DetailRepository) UpdateOutcome(ctx context.Context, d *entity.Detail) error {
	query := `
		UPDATE reconciliation_details
		SET is_matched = ?, match_status = ?, difference_type = ?, reason = ?,
			reviewed_by = ?, reviewed_at = ?, review_decision = ?, review_notes = ?,
			resolution_type = ?, resolution_notes = ?, resolved_by = ?, resolved_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	_, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		boolInt(d.IsMatched()), d.MatchStatus, d.DifferenceType, d.Reason,
		d.ReviewedBy, nullTime(d.ReviewedAt), d.ReviewDecision, d.ReviewNotes,
		d.ResolutionType, d.ResolutionNotes, d.ResolvedBy, nullTime(d.ResolvedAt),
		now,
		d.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update detail", zap.Int64("id", d.ID), zap.Error(err))
		return fmt.Errorf("failed to update detail: %w", err)
	}
	d.UpdatedAt = now
	return nil
}

func scanDetail(row rowScanner) (*entity.Detail, error) {
	var d entity.Detail
	var extDate, intDate sql.NullString
	var reviewedAt, resolvedAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.BatchID, &d.AdAccountID, &d.ProjectID, &d.ChannelID,
		&d.ExternalAmount, &d.ExternalCurrency, &extDate,
		&d.InternalAmount, &d.InternalCurrency, &intDate,
		&d.ReportingCurrency, &d.ExchangeRate, &d.InternalExchangeRate, &d.SpendDifference,
		&d.MatchStatus, &d.OriginalStatus, &d.DifferenceType, &d.Reason, &d.AutoConfidence,
		&d.ReviewedBy, &reviewedAt, &d.ReviewDecision, &d.ReviewNotes,
		&d.ResolutionType, &d.ResolutionNotes, &d.ResolvedBy, &resolvedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.ExternalDate, err = datePtr(extDate); err != nil {
		return nil, fmt.Errorf("invalid external_date: %w", err)
	}
	if d.InternalDate, err = datePtr(intDate); err != nil {
		return nil, fmt.Errorf("invalid internal_date: %w", err)
	}
	d.ReviewedAt = timePtr(reviewedAt)
	d.ResolvedAt = timePtr(resolvedAt)
	return &d, nil
}

func collectDetails(rows *sql.Rows) ([]*entity.Detail, error) {
	var details []*entity.Detail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detail: %w", err)
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

var _ port.DetailRepository = (*DetailRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const reportColumns = `id, report_no, report_type, period_start, period_end, scope, payload, chart, generated_by, created_at`

// ReportRepository implements port.ReportRepository
type ReportRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *sql.DB, logger *zap.Logger) port.ReportRepository {
	return &ReportRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a report snapshot. Payload and chart are stored as JSON.
func (r *ReportRepository) Create(ctx context.Context, report *entity.Report) error {
	scope, err := json.Marshal(report.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode report scope: %w", err)
	}
	payload, err := json.Marshal(report.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode report payload: %w", err)
	}
	chart := ""
	if report.Chart != nil {
		raw, err := json.Marshal(report.Chart)
		if err != nil {
			return fmt.Errorf("failed to encode report chart: %w", err)
		}
		chart = string(raw)
	}

	now := time.Now().UTC()
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `
		INSERT INTO reconciliation_reports (
			report_no, report_type, period_start, period_end, scope, payload, chart, generated_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ReportNo, report.ReportType,
		dateString(report.PeriodStart), dateString(report.PeriodEnd),
		string(scope), string(payload), chart, report.GeneratedBy, now,
	)
	if err != nil {
		r.logger.Error("Failed to create report", zap.String("report_no", report.ReportNo), zap.Error(err))
		return fmt.Errorf("failed to create report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	report.ID = id
	report.CreatedAt = now
	return nil
}

// GetByID returns the report or a NotFound error
func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*entity.Report, error) {
	report, err := scanReport(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reconciliation_reports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound(apperror.CodeReportNotFound, "report %d not found", id)
	}
	if err != nil {
		r.logger.Error("Failed to get report by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// List returns reports newest first, optionally of one type
func (r *ReportRepository) List(ctx context.Context, reportType entity.ReportType, page entity.Page) ([]*entity.Report, error) {
	page = page.Normalize()

	query := `SELECT ` + reportColumns + ` FROM reconciliation_reports`
	var args []interface{}
	if reportType != "" {
		query += ` WHERE report_type = ?`
		args = append(args, reportType)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reports", zap.Error(err))
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*entity.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func scanReport(row rowScanner) (*entity.Report, error) {
	var report entity.Report
	var start, end, scope, payload, chart string

	if err := row.Scan(&report.ID, &report.ReportNo, &report.ReportType, &start, &end,
		&scope, &payload, &chart, &report.GeneratedBy, &report.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if report.PeriodStart, err = parseDate(start); err != nil {
		return nil, fmt.Errorf("invalid period_start: %w", err)
	}
	if report.PeriodEnd, err = parseDate(end); err != nil {
		return nil, fmt.Errorf("invalid period_end: %w", err)
	}
	if err := json.Unmarshal([]byte(scope), &report.Scope); err != nil {
		return nil, fmt.Errorf("invalid report scope: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &report.Payload); err != nil {
		return nil, fmt.Errorf("invalid report payload: %w", err)
	}
	if chart != "" {
		report.Chart = &entity.ReportChart{}
		if err := json.Unmarshal([]byte(chart), report.Chart); err != nil {
			return nil, fmt.Errorf("invalid report chart: %w", err)
		}
	}
	return &report, nil
}

var _ port.ReportRepository = (*ReportRepository)(nil)

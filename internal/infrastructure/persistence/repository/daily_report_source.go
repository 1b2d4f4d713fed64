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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DailyReportSource implements port.DailyReportSource over the daily_reports read model
type DailyReportSource struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDailyReportSource creates a source backed by the daily_reports table
func NewDailyReportSource(db *sql.DB, logger *zap.Logger) port.DailyReportSource {
	return &DailyReportSource{
		db:     db,
		logger: logger,
	}
}

// ApprovedSpend sums approved entries for (account, date). Amounts are summed
// in Go since the column holds decimal strings. Entries in more than one
// currency are rejected: internal spend must be single-currency per day.
func (s *DailyReportSource) ApprovedSpend(ctx context.Context, accountID int64, date time.Time) (entity.SpendFigure, error) {
	rows, err := sqlite.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT spend, currency
		FROM daily_reports
		WHERE ad_account_id = ? AND report_date = ? AND status = ?
		ORDER BY id
	`, accountID, dateString(date), entity.DailyReportStatusApproved)
	if err != nil {
		s.logger.Error("Failed to query daily reports", zap.Int64("ad_account_id", accountID), zap.Error(err))
		return entity.SpendFigure{}, apperror.Transient(apperror.CodeReportsUnavailable, err, "daily report query failed")
	}
	defer rows.Close()

	fig := entity.SpendFigure{Amount: decimal.Zero}
	found := false
	for rows.Next() {
		var spend decimal.Decimal
		var currency string
		if err := rows.Scan(&spend, &currency); err != nil {
			return entity.SpendFigure{}, fmt.Errorf("failed to scan daily report: %w", err)
		}
		if found && currency != fig.Currency {
			return entity.SpendFigure{}, apperror.Permanent(apperror.CodeReportsUnavailable, nil,
				"account %d has approved reports in %s and %s on %s", accountID, fig.Currency, currency, dateString(date))
		}
		fig.Amount = fig.Amount.Add(spend)
		fig.Currency = currency
		found = true
	}
	if err := rows.Err(); err != nil {
		return entity.SpendFigure{}, apperror.Transient(apperror.CodeReportsUnavailable, err, "daily report read failed")
	}

	if found {
		d := date
		fig.Date = &d
	}
	return fig, nil
}

var _ port.DailyReportSource = (*DailyReportSource)(nil)

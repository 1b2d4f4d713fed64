package platform

import (
	"context"
	"errors"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Export column headers. Matching is case-insensitive and column order is free.
const (
	ColumnDate     = "date"
	ColumnAccount  = "ad_account_id"
	ColumnSpend    = "spend"
	ColumnCurrency = "currency"
)

// XLSXAdapter reads spend from a platform's periodic spreadsheet export.
// The workbook is reopened on every fetch so a refreshed export is picked up
// without a restart.
type XLSXAdapter struct {
	path   string
	sheet  string
	logger *zap.Logger
}

// NewXLSXAdapter creates an adapter over the export at path. An empty sheet
// selects the first sheet of the workbook.
func NewXLSXAdapter(path, sheet string, logger *zap.Logger) *XLSXAdapter {
	return &XLSXAdapter{
		path:   path,
		sheet:  sheet,
		logger: logger,
	}
}

// Fetch sums the account's spend rows for the date. With no rows it returns
// a zero amount and a nil date.
func (a *XLSXAdapter) Fetch(ctx context.Context, account entity.AdAccount, date time.Time) (entity.SpendFigure, error) {
	if err := ctx.Err(); err != nil {
		return entity.SpendFigure{}, err
	}

	f, err := excelize.OpenFile(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entity.SpendFigure{}, apperror.Transient(apperror.CodePlatformUnavailable, err,
				"platform export %s not available yet", a.path)
		}
		return entity.SpendFigure{}, apperror.Permanent(apperror.CodePlatformRejected, err,
			"failed to open platform export %s", a.path)
	}
	defer f.Close()

	sheet := a.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return entity.SpendFigure{}, apperror.Permanent(apperror.CodePlatformRejected, nil,
				"platform export %s has no sheets", a.path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return entity.SpendFigure{}, apperror.Permanent(apperror.CodePlatformRejected, err,
			"failed to read sheet %s", sheet)
	}
	if len(rows) == 0 {
		return entity.SpendFigure{Amount: decimal.Zero}, nil
	}

	cols, err := headerIndex(rows[0])
	if err != nil {
		return entity.SpendFigure{}, err
	}

	day := date.Format(entity.DateLayout)
	accountID := strconv.FormatInt(account.ID, 10)

	fig := entity.SpendFigure{Amount: decimal.Zero}
	found := false
	for i, row := range rows[1:] {
		if cell(row, cols[ColumnAccount]) != accountID || cell(row, cols[ColumnDate]) != day {
			continue
		}

		spend, err := decimal.NewFromString(cell(row, cols[ColumnSpend]))
		if err != nil {
			return entity.SpendFigure{}, apperror.Permanent(apperror.CodePlatformRejected, err,
				"row %d: invalid spend %q", i+2, cell(row, cols[ColumnSpend]))
		}
		currency := strings.ToUpper(cell(row, cols[ColumnCurrency]))
		if currency == "" {
			currency = account.Currency
		}
		if found && currency != fig.Currency {
			return entity.SpendFigure{}, apperror.Permanent(apperror.CodePlatformRejected, nil,
				"account %d reports spend in %s and %s on %s", account.ID, fig.Currency, currency, day)
		}

		fig.Amount = fig.Amount.Add(spend)
		fig.Currency = currency
		found = true
	}

	if found {
		d := date
		fig.Date = &d
	}

	a.logger.Debug("Fetched platform spend",
		zap.String("export", a.path),
		zap.Int64("ad_account_id", account.ID),
		zap.String("date", day),
		zap.String("amount", fig.Amount.String()))

	return fig, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{ColumnDate, ColumnAccount, ColumnSpend} {
		if _, ok := cols[required]; !ok {
			return nil, apperror.Permanent(apperror.CodePlatformRejected, nil,
				"platform export is missing the %q column", required)
		}
	}
	if _, ok := cols[ColumnCurrency]; !ok {
		cols[ColumnCurrency] = -1
	}
	return cols, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

var _ port.PlatformAdapter = (*XLSXAdapter)(nil)

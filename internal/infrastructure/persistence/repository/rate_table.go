package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const inverseRatePlaces = 10

// RateTable implements port.RateOracle over the exchange_rates table. The
// rate for a day is the latest published on or before it; a missing direct
// pair falls back to the inverse of the opposite pair.
type RateTable struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRateTable creates a rate oracle backed by the exchange_rates table
func NewRateTable(db *sql.DB, logger *zap.Logger) port.RateOracle {
	return &RateTable{
		db:     db,
		logger: logger,
	}
}

// Rate returns the conversion rate from -> to effective on date
func (t *RateTable) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	rate, ok, err := t.lookup(ctx, from, to, date)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return rate, nil
	}

	inverse, ok, err := t.lookup(ctx, to, from, date)
	if err != nil {
		return decimal.Zero, err
	}
	if ok && !inverse.IsZero() {
		return decimal.NewFromInt(1).DivRound(inverse, inverseRatePlaces), nil
	}

	return decimal.Zero, apperror.Permanent(apperror.CodeRateUnavailable, nil,
		"no %s->%s rate on or before %s", from, to, dateString(date))
}

func (t *RateTable) lookup(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, bool, error) {
	var rate decimal.Decimal
	err := sqlite.ExecutorFrom(ctx, t.db).QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND rate_date <= ?
		ORDER BY rate_date DESC
		LIMIT 1
	`, from, to, dateString(date)).Scan(&rate)

	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		t.logger.Error("Failed to query exchange rate",
			zap.String("from", from),
			zap.String("to", to),
			zap.Error(err))
		return decimal.Zero, false, apperror.Transient(apperror.CodeRateUnavailable, err, "exchange rate query failed")
	}
	return rate, true, nil
}

var _ port.RateOracle = (*RateTable)(nil)

package rates

import (
	"context"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/shopspring/decimal"
)

// Chain asks each oracle in order and returns the first rate found. Only a
// permanent RATE_UNAVAILABLE falls through to the next oracle; any other
// error stops the chain so transient failures are still retried upstream.
type Chain []port.RateOracle

// Rate implements port.RateOracle
func (c Chain) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	var lastErr error = apperror.Permanent(apperror.CodeRateUnavailable, nil, "no rate oracle configured")
	for _, oracle := range c {
		rate, err := oracle.Rate(ctx, from, to, date)
		if err == nil {
			return rate, nil
		}
		if apperror.KindOf(err) != apperror.KindExternalPermanent || apperror.CodeOf(err) != apperror.CodeRateUnavailable {
			return decimal.Zero, err
		}
		lastErr = err
	}
	return decimal.Zero, lastErr
}

var _ port.RateOracle = Chain(nil)

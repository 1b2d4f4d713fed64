// Package rates provides exchange rate oracles that are not backed by the database.
package rates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/shopspring/decimal"
)

const inversePlaces = 10

// Static is a date-independent rate table, typically loaded from config.
// Keys are "FROM/TO" currency pairs.
type Static struct {
	rates map[string]decimal.Decimal
}

// NewStatic parses a pair -> rate table such as {"EUR/USD": "1.08"}
func NewStatic(table map[string]string) (*Static, error) {
	rates := make(map[string]decimal.Decimal, len(table))
	for pair, raw := range table {
		from, to, ok := splitPair(pair)
		if !ok {
			return nil, fmt.Errorf("invalid currency pair %q, want FROM/TO", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", pair, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", pair)
		}
		rates[key(from, to)] = rate
	}
	return &Static{rates: rates}, nil
}

// Rate returns the configured rate, the inverse of the opposite pair, or a
// permanent RATE_UNAVAILABLE error
func (s *Static) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	if rate, ok := s.rates[key(from, to)]; ok {
		return rate, nil
	}
	if inverse, ok := s.rates[key(to, from)]; ok {
		return decimal.NewFromInt(1).DivRound(inverse, inversePlaces), nil
	}
	return decimal.Zero, apperror.Permanent(apperror.CodeRateUnavailable, nil,
		"no %s->%s rate configured", from, to)
}

func splitPair(pair string) (string, string, bool) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return strings.ToUpper(strings.TrimSpace(parts[0])), strings.ToUpper(strings.TrimSpace(parts[1])), true
}

func key(from, to string) string {
	return from + "/" + to
}

var _ port.RateOracle = (*Static)(nil)

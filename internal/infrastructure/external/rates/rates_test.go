package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

type oracleFunc func(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error)

func (f oracleFunc) Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
	return f(ctx, from, to, date)
}

func TestNewStatic_Validation(t *testing.T) {
	_, err := NewStatic(map[string]string{"EURUSD": "1.08"})
	assert.Error(t, err)

	_, err = NewStatic(map[string]string{"EUR/USD": "abc"})
	assert.Error(t, err)

	_, err = NewStatic(map[string]string{"EUR/USD": "0"})
	assert.Error(t, err)
}

func TestStatic_Rate(t *testing.T) {
	oracle, err := NewStatic(map[string]string{"eur/usd": "1.08", "USD/JPY": "150"})
	require.NoError(t, err)
	ctx := context.Background()

	rate, err := oracle.Rate(ctx, "EUR", "USD", day)
	require.NoError(t, err)
	assert.Equal(t, "1.08", rate.String())

	rate, err = oracle.Rate(ctx, "JPY", "USD", day)
	require.NoError(t, err)
	assert.Equal(t, "0.0066666667", rate.String())

	rate, err = oracle.Rate(ctx, "usd", "USD", day)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))

	_, err = oracle.Rate(ctx, "GBP", "USD", day)
	assert.Equal(t, apperror.CodeRateUnavailable, apperror.CodeOf(err))
	assert.Equal(t, apperror.KindExternalPermanent, apperror.KindOf(err))
}

func TestChain_FallsThroughOnlyOnUnavailable(t *testing.T) {
	static, err := NewStatic(map[string]string{"EUR/USD": "1.08"})
	require.NoError(t, err)

	unavailable := oracleFunc(func(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
		return decimal.Zero, apperror.Permanent(apperror.CodeRateUnavailable, nil, "none")
	})
	rate, err := Chain{unavailable, static}.Rate(context.Background(), "EUR", "USD", day)
	require.NoError(t, err)
	assert.Equal(t, "1.08", rate.String())

	flaky := oracleFunc(func(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error) {
		return decimal.Zero, apperror.Transient(apperror.CodeRateUnavailable, errors.New("timeout"), "db busy")
	})
	_, err = Chain{flaky, static}.Rate(context.Background(), "EUR", "USD", day)
	assert.Equal(t, apperror.KindExternalTransient, apperror.KindOf(err))

	_, err = Chain(nil).Rate(context.Background(), "EUR", "USD", day)
	assert.Equal(t, apperror.CodeRateUnavailable, apperror.CodeOf(err))
}

var _ port.RateOracle = oracleFunc(nil)

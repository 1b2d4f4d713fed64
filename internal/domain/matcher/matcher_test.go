package matcher

import (
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) *time.Time {
	t, err := time.Parse(entity.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func policy(abs, rel, threshold string) entity.Tolerance {
	return entity.Tolerance{Absolute: d(abs), Relative: d(rel), ConfidenceThreshold: d(threshold)}
}

func usd(ext, internal string) Input {
	return Input{
		External:         d(ext),
		Internal:         d(internal),
		ExternalCurrency: "USD",
		InternalCurrency: "USD",
		ExternalDate:     day("2025-11-10"),
		InternalDate:     day("2025-11-10"),
	}
}

func TestMatch_PerfectMatch(t *testing.T) {
	res := Match(usd("100.00", "100.00"), policy("0", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusMatched, res.Status)
	assert.Equal(t, entity.DifferenceNone, res.DifferenceType)
	assert.True(t, res.Difference.IsZero())
	assert.True(t, res.Confidence.Equal(d("1")), "confidence = %s", res.Confidence)
}

func TestMatch_WithinTolerance(t *testing.T) {
	res := Match(usd("100.50", "100.00"), policy("1.00", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusAutoMatched, res.Status)
	assert.Equal(t, entity.DifferenceAmountMismatch, res.DifferenceType)
	assert.True(t, res.Difference.Equal(d("0.50")))
	assert.True(t, res.Confidence.Equal(d("0.995")), "confidence = %s", res.Confidence)
}

func TestMatch_AboveTolerance(t *testing.T) {
	res := Match(usd("150.00", "100.00"), policy("0", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusManualReview, res.Status)
	assert.Equal(t, entity.DifferenceAmountMismatch, res.DifferenceType)
	assert.True(t, res.Difference.Equal(d("50")))
}

func TestMatch_MissingInternal(t *testing.T) {
	in := usd("75.00", "0")
	in.InternalDate = nil

	res := Match(in, policy("0", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusManualReview, res.Status)
	assert.Equal(t, entity.DifferenceMissingInternal, res.DifferenceType)
	assert.True(t, res.Difference.Equal(d("75")))
}

func TestMatch_MissingInternalNeverAutoMatches(t *testing.T) {
	in := usd("75.00", "0")
	in.InternalDate = nil

	res := Match(in, policy("100", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusManualReview, res.Status, "confidence 0 must be demoted")
	assert.Equal(t, entity.DifferenceMissingInternal, res.DifferenceType)
	assert.True(t, res.Confidence.IsZero())
}

func TestMatch_MissingExternal(t *testing.T) {
	in := usd("0", "40")
	in.ExternalDate = nil

	res := Match(in, policy("0", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusManualReview, res.Status)
	assert.Equal(t, entity.DifferenceMissingExternal, res.DifferenceType)
	assert.True(t, res.Difference.Equal(d("-40")))
}

func TestMatch_BothZero(t *testing.T) {
	in := usd("0", "0")
	in.ExternalDate, in.InternalDate = nil, nil

	res := Match(in, policy("0", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusMatched, res.Status)
	assert.Equal(t, entity.DifferenceNone, res.DifferenceType)
	assert.True(t, res.Confidence.Equal(d("1")))
}

func TestMatch_TieGoesToManualReview(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		policy entity.Tolerance
	}{
		{"absolute bound", usd("101.00", "100.00"), policy("1.00", "0", "0")},
		{"relative bound", usd("100.00", "90.00"), policy("0", "0.1", "0")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(tt.in, tt.policy)
			assert.Equal(t, entity.MatchStatusManualReview, res.Status)
			assert.Equal(t, entity.DifferenceAmountMismatch, res.DifferenceType)
		})
	}
}

func TestMatch_RelativeTolerance(t *testing.T) {
	res := Match(usd("109.00", "100.00"), policy("0", "0.1", "0.8"))

	assert.Equal(t, entity.MatchStatusAutoMatched, res.Status)
	assert.True(t, res.Confidence.Equal(d("0.9174")), "confidence = %s", res.Confidence)
}

func TestMatch_LowConfidenceDemoted(t *testing.T) {
	res := Match(usd("130.00", "100.00"), policy("50", "0", "0.8"))

	assert.Equal(t, entity.MatchStatusManualReview, res.Status)
	assert.Equal(t, entity.DifferenceAmountMismatch, res.DifferenceType)
	assert.True(t, res.Confidence.Equal(d("0.7692")), "confidence = %s", res.Confidence)
	assert.Contains(t, res.Reason, "below threshold")
}

func TestMatch_DifferenceTypePrecedence(t *testing.T) {
	mixed := usd("100.00", "100.00")
	mixed.InternalCurrency = "EUR"
	mixed.InternalDate = day("2025-11-09")

	res := Match(mixed, policy("0", "0", "0.8"))
	assert.Equal(t, entity.MatchStatusMatched, res.Status)
	assert.Equal(t, entity.DifferenceCurrencyMismatch, res.DifferenceType)

	dated := usd("100.00", "99.50")
	dated.InternalDate = day("2025-11-09")

	res = Match(dated, policy("1", "0", "0.8"))
	assert.Equal(t, entity.MatchStatusAutoMatched, res.Status)
	assert.Equal(t, entity.DifferenceDateMismatch, res.DifferenceType)
}

func TestMatch_ConfidenceClampedToZero(t *testing.T) {
	res := Match(usd("0.009", "-0.009"), policy("1", "0", "0"))

	assert.Equal(t, entity.MatchStatusAutoMatched, res.Status)
	assert.True(t, res.Confidence.IsZero(), "confidence = %s", res.Confidence)
}

func TestMatch_Deterministic(t *testing.T) {
	in := usd("123.45", "120.00")
	p := policy("5", "0.01", "0.8")

	first := Match(in, p)
	for i := 0; i < 100; i++ {
		again := Match(in, p)
		require.Equal(t, first.Status, again.Status)
		require.Equal(t, first.DifferenceType, again.DifferenceType)
		require.True(t, first.Difference.Equal(again.Difference))
		require.True(t, first.Confidence.Equal(again.Confidence))
		require.Equal(t, first.Reason, again.Reason)
	}
}

func TestValidatePolicy(t *testing.T) {
	assert.NoError(t, ValidatePolicy(policy("0", "0", "0.8")))
	assert.NoError(t, ValidatePolicy(policy("1.5", "0.05", "1")))

	for _, bad := range []entity.Tolerance{
		policy("-1", "0", "0.8"),
		policy("0", "-0.1", "0.8"),
		policy("0", "0", "1.01"),
		policy("0", "0", "-0.1"),
	} {
		err := ValidatePolicy(bad)
		require.Error(t, err)
		assert.True(t, apperror.IsKind(err, apperror.KindValidation))
	}
}

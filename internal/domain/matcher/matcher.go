// Package matcher classifies the agreement between external and internal
// spend for one account. Match is a pure function of its inputs.
package matcher

import (
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// DefaultConfidenceThreshold applies when a batch does not set one
var DefaultConfidenceThreshold = decimal.RequireFromString("0.8")

// confidenceFloor keeps the confidence denominator away from zero
var confidenceFloor = decimal.RequireFromString("0.01")

const confidencePlaces = 4

// Input is one aggregated pair, both amounts already in reporting currency.
// Currencies and dates are the source-side values before normalization.
type Input struct {
	External         decimal.Decimal
	Internal         decimal.Decimal
	ExternalCurrency string
	InternalCurrency string
	ExternalDate     *time.Time
	InternalDate     *time.Time
}

// Result is the matcher outcome for one pair
type Result struct {
	Status         entity.MatchStatus
	DifferenceType entity.DifferenceType
	Difference     decimal.Decimal
	Confidence     decimal.Decimal
	Reason         string
}

// ValidatePolicy rejects negative tolerances and thresholds outside [0,1]
func ValidatePolicy(policy entity.Tolerance) error {
	if policy.Absolute.IsNegative() {
		return apperror.Validation("tolerance_abs must be >= 0")
	}
	if policy.Relative.IsNegative() {
		return apperror.Validation("tolerance_rel must be >= 0")
	}
	if policy.ConfidenceThreshold.IsNegative() || policy.ConfidenceThreshold.GreaterThan(decimal.NewFromInt(1)) {
		return apperror.Validation("confidence_threshold must be within [0,1]")
	}
	return nil
}

// Match computes status, difference type and confidence for one pair.
// A non-zero difference is auto-matched only when strictly inside the bound.
func Match(in Input, policy entity.Tolerance) Result {
	diff := in.External.Sub(in.Internal)
	absDiff := diff.Abs()
	magnitude := decimal.Max(in.External.Abs(), in.Internal.Abs())

	res := Result{
		Difference:     diff,
		DifferenceType: classify(in, diff),
	}

	switch {
	case diff.IsZero():
		res.Status = entity.MatchStatusMatched
		res.Confidence = decimal.NewFromInt(1)
		res.Reason = "amounts agree"
	case absDiff.LessThan(bound(policy, magnitude)):
		res.Status = entity.MatchStatusAutoMatched
		res.Confidence = confidence(absDiff, magnitude)
		res.Reason = "difference " + absDiff.StringFixed(2) + " within tolerance"
	default:
		res.Status = entity.MatchStatusManualReview
		res.Confidence = confidence(absDiff, magnitude)
		res.Reason = "difference " + absDiff.StringFixed(2) + " exceeds tolerance"
	}

	if res.Status == entity.MatchStatusAutoMatched && res.Confidence.LessThan(policy.ConfidenceThreshold) {
		res.Status = entity.MatchStatusManualReview
		res.Reason = "confidence " + res.Confidence.StringFixed(confidencePlaces) + " below threshold " + policy.ConfidenceThreshold.String()
	}

	return res
}

// bound is max(tol_abs, tol_rel * max(|ext|, |int|))
func bound(policy entity.Tolerance, magnitude decimal.Decimal) decimal.Decimal {
	return decimal.Max(policy.Absolute, policy.Relative.Mul(magnitude))
}

func confidence(absDiff, magnitude decimal.Decimal) decimal.Decimal {
	denom := decimal.Max(magnitude, confidenceFloor)
	c := decimal.NewFromInt(1).Sub(absDiff.Div(denom)).Round(confidencePlaces)
	if c.IsNegative() {
		return decimal.Zero
	}
	if c.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return c
}

func classify(in Input, diff decimal.Decimal) entity.DifferenceType {
	switch {
	case in.Internal.IsZero() && in.External.IsPositive():
		return entity.DifferenceMissingInternal
	case in.External.IsZero() && in.Internal.IsPositive():
		return entity.DifferenceMissingExternal
	case in.ExternalCurrency != "" && in.InternalCurrency != "" && in.ExternalCurrency != in.InternalCurrency:
		return entity.DifferenceCurrencyMismatch
	case in.ExternalDate != nil && in.InternalDate != nil && !sameDay(*in.ExternalDate, *in.InternalDate):
		return entity.DifferenceDateMismatch
	case !diff.IsZero():
		return entity.DifferenceAmountMismatch
	default:
		return entity.DifferenceNone
	}
}

func sameDay(a, b time.Time) bool {
	return a.Format(entity.DateLayout) == b.Format(entity.DateLayout)
}

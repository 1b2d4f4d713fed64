package workflow

import (
	"github.com/garyjia/spend-reconciliation/internal/application/aggregator"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/matcher"
	"github.com/shopspring/decimal"
)

const maxReasonLength = 500

func newDetail(batch *entity.Batch, account entity.AdAccount) *entity.Detail {
	reporting := batch.ReportingCurrency
	if reporting == "" {
		reporting = account.Currency
	}
	return &entity.Detail{
		BatchID:              batch.ID,
		AdAccountID:          account.ID,
		ProjectID:            account.ProjectID,
		ChannelID:            account.ChannelID,
		ExternalAmount:       decimal.Zero,
		ExternalCurrency:     account.Currency,
		InternalAmount:       decimal.Zero,
		InternalCurrency:     account.Currency,
		ReportingCurrency:    reporting,
		ExchangeRate:         identityRate(account.Currency, reporting),
		InternalExchangeRate: identityRate(account.Currency, reporting),
		SpendDifference:      decimal.Zero,
		AutoConfidence:       decimal.Zero,
	}
}

// applyPair copies whatever the aggregator fetched onto the detail. Rates
// the aggregator never reached stay at 1 for same-currency sides and 0
// otherwise, and the difference is always derived from the stored rates.
func applyPair(d *entity.Detail, pair *aggregator.Pair) {
	if pair == nil {
		return
	}
	if pair.ReportingCurrency != "" {
		d.ReportingCurrency = pair.ReportingCurrency
	}

	if pair.External.Currency != "" {
		d.ExternalAmount = pair.External.Amount.Round(2)
		d.ExternalCurrency = pair.External.Currency
		d.ExternalDate = pair.External.Date
	}
	if pair.Internal.Currency != "" {
		d.InternalAmount = pair.Internal.Amount.Round(2)
		d.InternalCurrency = pair.Internal.Currency
		d.InternalDate = pair.Internal.Date
	}

	d.ExchangeRate = pickRate(pair.ExternalRate, d.ExternalCurrency, d.ReportingCurrency)
	d.InternalExchangeRate = pickRate(pair.InternalRate, d.InternalCurrency, d.ReportingCurrency)
	d.SpendDifference = d.NormalizedExternal().Sub(d.NormalizedInternal())
}

func applyMatch(d *entity.Detail, pair *aggregator.Pair, tolerance entity.Tolerance) {
	res := matcher.Match(matcher.Input{
		External:         d.NormalizedExternal(),
		Internal:         d.NormalizedInternal(),
		ExternalCurrency: pair.External.Currency,
		InternalCurrency: pair.Internal.Currency,
		ExternalDate:     pair.External.Date,
		InternalDate:     pair.Internal.Date,
	}, tolerance)

	d.SpendDifference = res.Difference
	d.MatchStatus = res.Status
	d.OriginalStatus = res.Status
	d.DifferenceType = res.DifferenceType
	d.AutoConfidence = res.Confidence
	d.Reason = res.Reason
}

func markFailed(d *entity.Detail, diffType entity.DifferenceType, reason string) {
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	d.MatchStatus = entity.MatchStatusException
	d.OriginalStatus = entity.MatchStatusException
	d.DifferenceType = diffType
	d.AutoConfidence = decimal.Zero
	d.Reason = reason
}

// failureType maps the aggregator stage that failed to a difference type
func failureType(err error) entity.DifferenceType {
	stage, _ := aggregator.StageOf(err)
	switch stage {
	case aggregator.StageInternal:
		return entity.DifferenceInternalFetchFailed
	case aggregator.StageRate:
		return entity.DifferenceCurrencyConversionFailed
	default:
		return entity.DifferenceExternalFetchFailed
	}
}

func pickRate(rate decimal.Decimal, currency, reporting string) decimal.Decimal {
	if rate.IsPositive() {
		return rate
	}
	return identityRate(currency, reporting)
}

func identityRate(currency, reporting string) decimal.Decimal {
	if currency == reporting {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

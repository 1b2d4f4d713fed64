// Package aggregator collects internal and external spend for one account and
// normalizes both into the reporting currency.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pair is both sides of one account's spend, with the rates used to
// bring them into the reporting currency.
type Pair struct {
	External           entity.SpendFigure
	Internal           entity.SpendFigure
	ReportingCurrency  string
	ExternalRate       decimal.Decimal
	InternalRate       decimal.Decimal
	NormalizedExternal decimal.Decimal
	NormalizedInternal decimal.Decimal
}

// Difference is normalized external minus normalized internal
func (p *Pair) Difference() decimal.Decimal {
	return p.NormalizedExternal.Sub(p.NormalizedInternal)
}

// Aggregator fetches both sides of a reconciliation through the collaborator ports
type Aggregator struct {
	platforms port.PlatformRegistry
	reports   port.DailyReportSource
	rates     port.RateOracle
	retry     RetryPolicy
	sleep     SleepFunc
	logger    *zap.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithSleep replaces the backoff sleeper
func WithSleep(fn SleepFunc) Option {
	return func(a *Aggregator) {
		a.sleep = fn
	}
}

// New creates an Aggregator
func New(platforms port.PlatformRegistry, reports port.DailyReportSource, rates port.RateOracle, retry RetryPolicy, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		platforms: platforms,
		reports:   reports,
		rates:     rates,
		retry:     retry.withDefaults(),
		sleep:     sleepContext,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InternalSpend sums approved daily report spend. A day without approved
// entries yields zero with a nil date.
func (a *Aggregator) InternalSpend(ctx context.Context, account entity.AdAccount, date time.Time) (entity.SpendFigure, error) {
	fig, err := withRetry(ctx, a, "daily_reports", apperror.CodeReportsUnavailable, func(ctx context.Context) (entity.SpendFigure, error) {
		return a.reports.ApprovedSpend(ctx, account.ID, date)
	})
	if err != nil {
		return entity.SpendFigure{}, err
	}
	if fig.Currency == "" {
		fig.Currency = account.Currency
	}
	if fig.Amount.IsNegative() {
		return entity.SpendFigure{}, apperror.Validation("approved spend for account %d is negative", account.ID)
	}
	return fig, nil
}

// ExternalSpend asks the channel's platform adapter. A channel without an
// adapter is a permanent failure.
func (a *Aggregator) ExternalSpend(ctx context.Context, account entity.AdAccount, date time.Time) (entity.SpendFigure, error) {
	adapter, ok := a.platforms.Adapter(account.ChannelID)
	if !ok {
		return entity.SpendFigure{}, apperror.Permanent(apperror.CodeAdapterMissing, nil, "no platform adapter for channel %d", account.ChannelID)
	}

	fig, err := withRetry(ctx, a, "platform_fetch", apperror.CodePlatformUnavailable, func(ctx context.Context) (entity.SpendFigure, error) {
		return adapter.Fetch(ctx, account, date)
	})
	if err != nil {
		return entity.SpendFigure{}, err
	}
	if fig.Currency == "" {
		fig.Currency = account.Currency
	}
	if fig.Amount.IsNegative() {
		return entity.SpendFigure{}, apperror.Permanent(apperror.CodePlatformRejected, nil, "platform reported negative spend for account %d", account.ID)
	}
	return fig, nil
}

// Rate returns the conversion rate from src to dst. Identical currencies
// convert at 1 without consulting the oracle.
func (a *Aggregator) Rate(ctx context.Context, src, dst string, date time.Time) (decimal.Decimal, error) {
	if src == dst {
		return decimal.NewFromInt(1), nil
	}

	rate, err := withRetry(ctx, a, "exchange_rate", apperror.CodeRateUnavailable, func(ctx context.Context) (decimal.Decimal, error) {
		return a.rates.Rate(ctx, src, dst, date)
	})
	if err != nil {
		if apperror.IsKind(err, apperror.KindExternalPermanent) || apperror.IsKind(err, apperror.KindExternalTransient) {
			return decimal.Zero, apperror.Permanent(apperror.CodeRateUnavailable, err, "no rate %s->%s on %s", src, dst, date.Format(entity.DateLayout))
		}
		return decimal.Zero, err
	}
	if rate.IsNegative() {
		return decimal.Zero, apperror.Permanent(apperror.CodeRateUnavailable, nil, "negative rate %s->%s", src, dst)
	}
	return rate, nil
}

// Stage names the step of Collect that failed
type Stage string

const (
	StageInternal Stage = "internal"
	StageExternal Stage = "external"
	StageRate     Stage = "rate"
)

// StageError tags a Collect failure with the step that produced it
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the step a Collect error came from
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Collect fetches both sides and normalizes them into the reporting currency.
// An empty reportingCurrency means the account's currency. On failure the
// returned pair holds whatever was fetched before the failing stage.
func (a *Aggregator) Collect(ctx context.Context, account entity.AdAccount, date time.Time, reportingCurrency string) (*Pair, error) {
	if reportingCurrency == "" {
		reportingCurrency = account.Currency
	}
	pair := &Pair{
		ReportingCurrency: reportingCurrency,
		ExternalRate:      decimal.Zero,
		InternalRate:      decimal.Zero,
	}

	internal, err := a.InternalSpend(ctx, account, date)
	if err != nil {
		return pair, &StageError{Stage: StageInternal, Err: err}
	}
	pair.Internal = internal

	external, err := a.ExternalSpend(ctx, account, date)
	if err != nil {
		return pair, &StageError{Stage: StageExternal, Err: err}
	}
	pair.External = external

	if pair.ExternalRate, err = a.Rate(ctx, external.Currency, reportingCurrency, date); err != nil {
		pair.ExternalRate = decimal.Zero
		return pair, &StageError{Stage: StageRate, Err: err}
	}
	if pair.InternalRate, err = a.Rate(ctx, internal.Currency, reportingCurrency, date); err != nil {
		pair.InternalRate = decimal.Zero
		return pair, &StageError{Stage: StageRate, Err: err}
	}

	pair.NormalizedExternal = entity.Normalize(external.Amount, pair.ExternalRate)
	pair.NormalizedInternal = entity.Normalize(internal.Amount, pair.InternalRate)

	return pair, nil
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	"github.com/garyjia/spend-reconciliation/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioA_PerfectMatch(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.00")

	batch := s.run("0.00")

	assert.Equal(t, entity.BatchStatusCompleted, batch.Status)
	assert.Equal(t, entity.BatchCounters{Total: 1, Matched: 1}, batch.Counters)

	d := s.detailFor(batch.ID, 1)
	assert.Equal(t, entity.MatchStatusMatched, d.MatchStatus)
	assert.True(t, d.IsMatched())
	assert.True(t, d.SpendDifference.IsZero())
	assert.True(t, d.AutoConfidence.Equal(dec("1")))
	assert.Equal(t, entity.DifferenceNone, d.DifferenceType)
}

func TestScenarioB_WithinTolerance(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.50")

	batch := s.run("1.00")

	assert.Equal(t, 0, batch.Counters.Matched)
	assert.Equal(t, 1, batch.Counters.AutoMatched)

	d := s.detailFor(batch.ID, 1)
	assert.Equal(t, entity.MatchStatusAutoMatched, d.MatchStatus)
	assert.Equal(t, entity.DifferenceAmountMismatch, d.DifferenceType)
	assert.True(t, d.SpendDifference.Equal(dec("0.50")), "difference %s", d.SpendDifference)
	assert.True(t, d.AutoConfidence.Equal(dec("0.995")), "confidence %s", d.AutoConfidence)
}

func TestScenarioC_AboveToleranceThroughResolution(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "150.00")
	ctx := context.Background()

	batch := s.run("0.00")
	d := s.detailFor(batch.ID, 1)
	assert.Equal(t, entity.MatchStatusManualReview, d.MatchStatus)
	assert.Equal(t, entity.DifferenceAmountMismatch, d.DifferenceType)
	assert.True(t, d.SpendDifference.Equal(dec("50.00")))

	reviewed, err := s.resolution.Review(ctx, d.ID, ReviewRequest{Decision: entity.ReviewApprove, Notes: "ok"}, "bob", "op-review")
	require.NoError(t, err)
	assert.Equal(t, entity.MatchStatusMatched, reviewed.Detail.MatchStatus)
	assert.Equal(t, entity.BatchStatusCompleted, reviewed.BatchStatus, "manual approval alone does not resolve the batch")
	assert.NotNil(t, reviewed.Detail.ReviewedAt)

	adjusted, err := s.resolution.Adjust(ctx, d.ID, AdjustmentRequest{
		AdjustmentType:   entity.AdjustmentTypeSpend,
		OriginalAmount:   dec("150.00"),
		AdjustmentAmount: dec("-50.00"),
		ReasonCategory:   "platform_rebate",
	}, "bob", "op-adjust")
	require.NoError(t, err)
	require.NotNil(t, adjusted.Adjustment)
	assert.True(t, adjusted.AdjustedAmount.Equal(dec("100.00")))
	assert.Equal(t, entity.MatchStatusMatched, adjusted.Detail.MatchStatus, "unconfirmed adjustment leaves the detail as is")

	confirmed, err := s.resolution.FinanceConfirm(ctx, adjusted.Adjustment.ID, "carol", "op-confirm")
	require.NoError(t, err)
	assert.Equal(t, entity.MatchStatusResolved, confirmed.Detail.MatchStatus)
	assert.Equal(t, entity.ResolutionAdjusted, confirmed.Detail.ResolutionType)
	assert.True(t, confirmed.Adjustment.FinanceConfirmed)
	assert.True(t, confirmed.Adjustment.AdjustedAmount().Equal(dec("100.00")))
	assert.Equal(t, entity.BatchStatusResolved, confirmed.BatchStatus)

	final, err := s.batches.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusResolved, final.Status)
	assert.Equal(t, 1, final.Counters.Matched)
	assert.Equal(t, 0, final.Counters.Mismatched)
	assert.Equal(t, 1, final.Counters.ManualReviewed)

	assert.Equal(t, 1, s.publisher.count(event.TypeDetailResolved))
	assert.Equal(t, 1, s.publisher.count(event.TypeBatchResolved))

	_, err = s.resolution.ResolveWithoutAdjustment(ctx, d.ID, "late", "bob", "op-late")
	assert.True(t, apperror.IsKind(err, apperror.KindBatchNotReviewable))
}

func TestScenarioD_MissingInternal(t *testing.T) {
	s := newStack(t)
	s.account(1, "", "75.00")

	batch := s.run("0.00")

	d := s.detailFor(batch.ID, 1)
	assert.Equal(t, entity.DifferenceMissingInternal, d.DifferenceType)
	assert.Equal(t, entity.MatchStatusManualReview, d.MatchStatus)
	assert.True(t, d.InternalAmount.IsZero())
	assert.Nil(t, d.InternalDate)
}

func TestScenarioE_ExternalFetchFailure(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.00")
	s.account(2, "80.00", "")

	batch := s.run("0.00")

	assert.Equal(t, entity.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.Counters.Total)
	assert.Equal(t, 1, batch.Counters.Matched)
	assert.Equal(t, 1, batch.Counters.Mismatched)

	d := s.detailFor(batch.ID, 2)
	assert.Equal(t, entity.MatchStatusException, d.MatchStatus)
	assert.Equal(t, entity.DifferenceExternalFetchFailed, d.DifferenceType)
	assert.False(t, d.IsMatched())
}

func TestScenarioF_ConcurrentStart(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.00")
	ctx := context.Background()

	batch, err := s.batches.CreateBatch(ctx, CreateBatchRequest{ReconciliationDate: reconDay}, "alice")
	require.NoError(t, err)
	s.platform.gate = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.batches.StartBatch(ctx, batch.ID, "alice")
		}(i)
	}
	wg.Wait()
	close(s.platform.gate)
	require.NoError(t, s.orchestrator.Wait(ctx, batch.ID))

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.True(t, apperror.IsKind(failures[0], apperror.KindConflict))
	assert.Equal(t, apperror.CodeBatchAlreadyRunning, apperror.CodeOf(failures[0]))

	n := len(s.details(batch.ID))
	assert.Equal(t, 1, n, "only the winning run writes details")
}

func TestAggregatesMatchRecomputation(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.00")
	s.account(2, "100.00", "100.40")
	s.account(3, "100.00", "160.00")
	s.account(4, "", "20.00")
	s.account(5, "10.00", "")

	batch := s.run("0.50")

	counters, sums := entity.Aggregate(s.details(batch.ID))
	assert.Equal(t, counters, batch.Counters)
	assert.True(t, sums.PlatformTotal.Equal(batch.Sums.PlatformTotal))
	assert.True(t, sums.InternalTotal.Equal(batch.Sums.InternalTotal))
	assert.True(t, sums.DifferenceTotal.Equal(batch.Sums.DifferenceTotal))

	for _, d := range s.details(batch.ID) {
		assert.True(t, d.SpendDifference.Equal(d.NormalizedExternal().Sub(d.NormalizedInternal())),
			"detail %d difference %s", d.ID, d.SpendDifference)
	}
}

func TestCrossCurrencyNormalization(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	testutil.SeedRate(t, s.db, reconDay, "EUR", "USD", "1.10")
	d := reconDate
	for _, id := range []int64{1, 2} {
		testutil.SeedAccount(t, s.db, id, testProject, testChannel, "EUR")
		testutil.SeedDailyReport(t, s.db, id, reconDay, "100.00", "EUR", entity.DailyReportStatusApproved)
	}
	s.platform.figures[1] = entity.SpendFigure{Amount: dec("100.00"), Currency: "EUR", Date: &d}
	s.platform.figures[2] = entity.SpendFigure{Amount: dec("112.00"), Currency: "USD", Date: &d}

	abs := dec("1.00")
	batch, err := s.batches.CreateBatch(ctx, CreateBatchRequest{
		ReconciliationDate: reconDay,
		ReportingCurrency:  "USD",
		ToleranceAbs:       &abs,
	}, "alice")
	require.NoError(t, err)
	_, err = s.batches.StartBatch(ctx, batch.ID, "alice")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, s.orchestrator.Wait(waitCtx, batch.ID))

	same := s.detailFor(batch.ID, 1)
	assert.Equal(t, "USD", same.ReportingCurrency)
	assert.True(t, same.ExchangeRate.Equal(dec("1.10")), "exchange rate %s", same.ExchangeRate)
	assert.True(t, same.InternalExchangeRate.Equal(dec("1.10")), "internal rate %s", same.InternalExchangeRate)
	assert.True(t, same.ExternalAmount.Equal(dec("100.00")), "stored amounts stay in source currency")
	assert.True(t, same.SpendDifference.IsZero(), "difference %s", same.SpendDifference)
	assert.Equal(t, entity.MatchStatusMatched, same.MatchStatus)
	assert.Equal(t, entity.DifferenceNone, same.DifferenceType)

	mixed := s.detailFor(batch.ID, 2)
	assert.True(t, mixed.ExchangeRate.Equal(dec("1")), "exchange rate %s", mixed.ExchangeRate)
	assert.True(t, mixed.InternalExchangeRate.Equal(dec("1.10")), "internal rate %s", mixed.InternalExchangeRate)
	assert.True(t, mixed.NormalizedInternal().Equal(dec("110.00")))
	assert.True(t, mixed.SpendDifference.Equal(dec("2.00")), "difference %s", mixed.SpendDifference)
	assert.True(t, mixed.SpendDifference.Equal(mixed.NormalizedExternal().Sub(mixed.NormalizedInternal())))
	assert.Equal(t, entity.DifferenceCurrencyMismatch, mixed.DifferenceType)
	assert.Equal(t, entity.MatchStatusManualReview, mixed.MatchStatus)

	got, err := s.batches.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Sums.PlatformTotal.Equal(dec("222.00")), "platform total %s", got.Sums.PlatformTotal)
	assert.True(t, got.Sums.InternalTotal.Equal(dec("220.00")), "internal total %s", got.Sums.InternalTotal)
}

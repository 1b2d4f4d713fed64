package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/spend-reconciliation/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var day = time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newBatch(no string) *entity.Batch {
	return &entity.Batch{
		BatchNo:            no,
		ReconciliationDate: day,
		Status:             entity.BatchStatusPending,
		Scope:              entity.BatchScope{ChannelIDs: []int64{3}},
		Tolerance: entity.Tolerance{
			Absolute:            dec("1.00"),
			Relative:            dec("0"),
			ConfidenceThreshold: dec("0.8"),
		},
		CreatedBy: "alice",
		Notes:     "nightly",
	}
}

func newDetail(batchID, accountID int64, status entity.MatchStatus) *entity.Detail {
	d := day
	return &entity.Detail{
		BatchID:              batchID,
		AdAccountID:          accountID,
		ProjectID:            10,
		ChannelID:            3,
		ExternalAmount:       dec("150.00"),
		ExternalCurrency:     "USD",
		ExternalDate:         &d,
		InternalAmount:       dec("100.00"),
		InternalCurrency:     "USD",
		ReportingCurrency:    "USD",
		ExchangeRate:         decimal.NewFromInt(1),
		InternalExchangeRate: decimal.NewFromInt(1),
		SpendDifference:      dec("50.00"),
		MatchStatus:          status,
		OriginalStatus:       status,
		DifferenceType:       entity.DifferenceAmountMismatch,
		AutoConfidence:       dec("0.6667"),
	}
}

func TestBatchRepository_CreateGetList(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewBatchRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	b := newBatch("RC-1")
	require.NoError(t, repo.Create(ctx, b))
	require.NotZero(t, b.ID)

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "RC-1", got.BatchNo)
	assert.Equal(t, "2025-11-10", got.DateString())
	assert.Equal(t, []int64{3}, got.Scope.ChannelIDs)
	assert.True(t, got.Tolerance.Absolute.Equal(dec("1")))
	assert.Nil(t, got.StartedAt)

	err = repo.Create(ctx, newBatch("RC-1"))
	assert.Equal(t, apperror.CodeDuplicateBatchNo, apperror.CodeOf(err))

	_, err = repo.GetByID(ctx, 999)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	from := day.AddDate(0, 0, -1)
	list, total, err := repo.List(ctx, entity.BatchFilter{Status: entity.BatchStatusPending, DateFrom: &from}, entity.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
}

func TestBatchRepository_TransitionIsCompareAndSwap(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewBatchRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	b := newBatch("RC-2")
	require.NoError(t, repo.Create(ctx, b))

	now := time.Now().UTC()
	start := port.BatchTransition{
		BatchID: b.ID, FromStatus: entity.BatchStatusPending, FromVersion: 0,
		ToStatus: entity.BatchStatusProcessing, StartedAt: &now,
	}
	require.NoError(t, repo.Transition(ctx, start))

	err := repo.Transition(ctx, start)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict), "second CAS must fail")

	got, err := repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusProcessing, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, repo.Transition(ctx, port.BatchTransition{
		BatchID: b.ID, FromStatus: entity.BatchStatusProcessing, FromVersion: 1,
		ToStatus: entity.BatchStatusException, ExceptionReason: entity.ReasonCancelled,
	}))
	got, _ = repo.GetByID(ctx, b.ID)
	assert.Equal(t, entity.ReasonCancelled, got.ExceptionReason)
	assert.NotNil(t, got.StartedAt, "unset stamps are preserved")
}

func TestScopeClaimRepository_Overlap(t *testing.T) {
	db := testutil.OpenDB(t)
	batches := NewBatchRepository(db.DB, zap.NewNop())
	claims := NewScopeClaimRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	first, second := newBatch("RC-A"), newBatch("RC-B")
	require.NoError(t, batches.Create(ctx, first))
	require.NoError(t, batches.Create(ctx, second))

	require.NoError(t, claims.Claim(ctx, first.ID, day, []int64{1, 2}))

	err := claims.Claim(ctx, second.ID, day, []int64{3, 2})
	assert.Equal(t, apperror.CodeScopeOverlap, apperror.CodeOf(err))

	require.NoError(t, claims.Claim(ctx, second.ID, day.AddDate(0, 0, 1), []int64{2}), "other dates do not overlap")

	require.NoError(t, claims.Release(ctx, first.ID))
	assert.NoError(t, claims.Claim(ctx, second.ID, day, []int64{2}))
}

func TestScopeClaim_RolledBackWithTransaction(t *testing.T) {
	db := testutil.OpenDB(t)
	tx := sqlite.NewDB(db.DB, zap.NewNop())
	batches := NewBatchRepository(db.DB, zap.NewNop())
	claims := NewScopeClaimRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	holder, loser := newBatch("RC-H"), newBatch("RC-L")
	require.NoError(t, batches.Create(ctx, holder))
	require.NoError(t, batches.Create(ctx, loser))
	require.NoError(t, claims.Claim(ctx, holder.ID, day, []int64{2}))

	err := tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := batches.Transition(ctx, port.BatchTransition{
			BatchID: loser.ID, FromStatus: entity.BatchStatusPending, ToStatus: entity.BatchStatusProcessing,
		}); err != nil {
			return err
		}
		return claims.Claim(ctx, loser.ID, day, []int64{1, 2})
	})
	require.Equal(t, apperror.CodeScopeOverlap, apperror.CodeOf(err))

	got, err := batches.GetByID(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusPending, got.Status, "CAS rolled back")

	assert.NoError(t, claims.Claim(ctx, holder.ID, day, []int64{1}), "account 1 claim rolled back")
}

func TestDetailRepository(t *testing.T) {
	db := testutil.OpenDB(t)
	batches := NewBatchRepository(db.DB, zap.NewNop())
	details := NewDetailRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	b := newBatch("RC-D")
	require.NoError(t, batches.Create(ctx, b))

	d := newDetail(b.ID, 1, entity.MatchStatusManualReview)
	require.NoError(t, details.Create(ctx, d))
	require.NoError(t, details.Create(ctx, newDetail(b.ID, 2, entity.MatchStatusMatched)))

	err := details.Create(ctx, newDetail(b.ID, 1, entity.MatchStatusMatched))
	assert.Equal(t, apperror.CodeDuplicateDetail, apperror.CodeOf(err))

	got, err := details.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "150", got.ExternalAmount.String())
	assert.Equal(t, "2025-11-10", got.ExternalDate.Format(entity.DateLayout))
	assert.Nil(t, got.InternalDate)
	assert.Equal(t, entity.MatchStatusManualReview, got.OriginalStatus)

	page, total, err := details.List(ctx, b.ID, entity.DetailFilter{MatchStatus: entity.MatchStatusMatched}, entity.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].AdAccountID)

	n, err := details.CountByBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	now := time.Now().UTC()
	got.MatchStatus = entity.MatchStatusResolved
	got.ResolutionType = entity.ResolutionNoAdjustment
	got.ResolvedBy = "bob"
	got.ResolvedAt = &now
	require.NoError(t, details.UpdateOutcome(ctx, got))

	reloaded, err := details.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.MatchStatusResolved, reloaded.MatchStatus)
	assert.Equal(t, entity.MatchStatusManualReview, reloaded.OriginalStatus, "original status is never rewritten")
	require.NotNil(t, reloaded.ResolvedAt)

	var isMatched int
	require.NoError(t, db.QueryRow("SELECT is_matched FROM reconciliation_details WHERE id = ?", d.ID).Scan(&isMatched))
	assert.Equal(t, 1, isMatched)

	_, err = db.Exec("UPDATE reconciliation_details SET external_amount = '1' WHERE id = ?", d.ID)
	assert.ErrorContains(t, err, "immutable")
}

func TestAdjustmentRepository_ConfirmOnce(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	batches := NewBatchRepository(db.DB, zap.NewNop())
	details := NewDetailRepository(db.DB, zap.NewNop())
	adjustments := NewAdjustmentRepository(db.DB, zap.NewNop())

	b := newBatch("RC-ADJ")
	require.NoError(t, batches.Create(ctx, b))
	d := newDetail(b.ID, 1, entity.MatchStatusManualReview)
	require.NoError(t, details.Create(ctx, d))

	adj := &entity.Adjustment{
		DetailID: d.ID, BatchID: b.ID, AdjustmentType: entity.AdjustmentTypeSpend,
		OriginalAmount: dec("150.00"), AdjustmentAmount: dec("-50.00"),
		ReasonCategory: "platform_refund", ApprovedBy: "bob", ApprovedAt: time.Now(),
	}
	require.NoError(t, adjustments.Create(ctx, adj))

	n, err := adjustments.CountUnconfirmed(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, adjustments.Confirm(ctx, adj.ID, "carol", time.Now()))
	err = adjustments.Confirm(ctx, adj.ID, "carol", time.Now())
	assert.Equal(t, apperror.CodeAdjustmentConfirmed, apperror.CodeOf(err))

	err = adjustments.Confirm(ctx, 999, "carol", time.Now())
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	list, err := adjustments.ListByDetail(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].FinanceConfirmed)
	assert.Equal(t, "100", list[0].AdjustedAmount().String())
}

func TestAuditAndOperations(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	audit := NewAuditRepository(db.DB, zap.NewNop())
	ops := NewOperationRepository(db.DB, zap.NewNop())

	for _, op := range []string{entity.AuditOpCreateBatch, entity.AuditOpStartBatch} {
		require.NoError(t, audit.Append(ctx, &entity.AuditEntry{
			EntityType: entity.AuditEntityBatch, EntityID: 7, BatchID: 7, Actor: "alice", Operation: op,
		}))
	}
	entries, err := audit.ListByBatch(ctx, 7, entity.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entity.AuditOpStartBatch, entries[1].Operation)

	missing, err := ops.Get(ctx, 1, "op-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, ops.Save(ctx, &entity.DetailOperation{DetailID: 1, OpID: "op-1", Operation: "review", Result: `{"id":1}`}))
	found, err := ops.Get(ctx, 1, "op-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, `{"id":1}`, found.Result)

	assert.Error(t, ops.Save(ctx, &entity.DetailOperation{DetailID: 1, OpID: "op-1", Operation: "review", Result: "{}"}))
}

func TestReportRepository_RoundTrip(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	reports := NewReportRepository(db.DB, zap.NewNop())

	r := &entity.Report{
		ReportNo:    "RPT-1",
		ReportType:  entity.ReportTypeWeekly,
		PeriodStart: day,
		PeriodEnd:   day.AddDate(0, 0, 6),
		Scope:       entity.ReportScope{ProjectIDs: []int64{10}},
		Payload: entity.ReportPayload{
			Summary: entity.ReportSummary{BatchCount: 1, PlatformTotal: dec("10.5"), MatchRate: dec("0.75")},
		},
		Chart:       &entity.ReportChart{Dates: []string{"2025-11-10"}, Platform: []decimal.Decimal{dec("10.5")}},
		GeneratedBy: "alice",
	}
	require.NoError(t, reports.Create(ctx, r))

	got, err := reports.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-16", got.PeriodEnd.Format(entity.DateLayout))
	assert.True(t, got.Payload.Summary.PlatformTotal.Equal(dec("10.5")))
	require.NotNil(t, got.Chart)
	assert.Equal(t, []string{"2025-11-10"}, got.Chart.Dates)

	list, err := reports.List(ctx, entity.ReportTypeDaily, entity.Page{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = reports.GetByID(ctx, 404)
	assert.Equal(t, apperror.CodeReportNotFound, apperror.CodeOf(err))
}

func TestCollaboratorReadModels(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()

	testutil.SeedAccount(t, db, 1, 10, 3, "USD")
	testutil.SeedAccount(t, db, 2, 20, 4, "EUR")
	testutil.Exec(t, db, `INSERT INTO ad_accounts (id, project_id, channel_id, status, currency) VALUES (3, 10, 3, 'suspended', 'USD')`)

	dir := NewAccountDirectory(db.DB, zap.NewNop())
	all, err := dir.InScope(ctx, entity.BatchScope{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "inactive accounts are out of scope")

	scoped, err := dir.InScope(ctx, entity.BatchScope{ChannelIDs: []int64{4}})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "EUR", scoped[0].Currency)

	testutil.SeedDailyReport(t, db, 1, "2025-11-10", "60.25", "USD", "approved")
	testutil.SeedDailyReport(t, db, 1, "2025-11-10", "39.75", "USD", "approved")
	testutil.SeedDailyReport(t, db, 1, "2025-11-10", "500", "USD", "draft")

	src := NewDailyReportSource(db.DB, zap.NewNop())
	fig, err := src.ApprovedSpend(ctx, 1, day)
	require.NoError(t, err)
	assert.Equal(t, "100", fig.Amount.String())
	require.NotNil(t, fig.Date)

	none, err := src.ApprovedSpend(ctx, 2, day)
	require.NoError(t, err)
	assert.True(t, none.Amount.IsZero())
	assert.Nil(t, none.Date)

	testutil.SeedRate(t, db, "2025-11-01", "EUR", "USD", "1.08")
	testutil.SeedRate(t, db, "2025-11-09", "EUR", "USD", "1.10")
	rates := NewRateTable(db.DB, zap.NewNop())

	rate, err := rates.Rate(ctx, "EUR", "USD", day)
	require.NoError(t, err)
	assert.Equal(t, "1.1", rate.String(), "latest rate on or before the day")

	inverse, err := rates.Rate(ctx, "USD", "EUR", day)
	require.NoError(t, err)
	assert.Equal(t, "0.9090909091", inverse.String())

	_, err = rates.Rate(ctx, "EUR", "USD", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC))
	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.KindExternalPermanent, appErr.Kind)
}

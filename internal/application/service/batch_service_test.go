package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTxManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockAuditRepo struct {
	AppendFunc func(ctx context.Context, entry *entity.AuditEntry) error
}

func (m *mockAuditRepo) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	return nil
}

func (m *mockAuditRepo) ListByBatch(ctx context.Context, batchID int64, page entity.Page) ([]*entity.AuditEntry, error) {
	return nil, nil
}

func TestCreateBatch_AppliesDefaults(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	batch, err := s.batches.CreateBatch(ctx, CreateBatchRequest{
		ReconciliationDate: reconDay,
		ChannelIDs:         []int64{testChannel},
		Notes:              "  nightly\x00 ",
	}, "alice")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(batch.BatchNo, "RC"), batch.BatchNo)
	assert.Equal(t, entity.BatchStatusPending, batch.Status)
	assert.Equal(t, reconDay, batch.DateString())
	assert.Equal(t, "nightly", batch.Notes)
	assert.True(t, batch.Tolerance.ConfidenceThreshold.Equal(dec("0.8")))
	assert.True(t, batch.Tolerance.Absolute.IsZero())

	entries, err := s.batches.ListAuditEntries(ctx, batch.ID, entity.Page{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entity.AuditOpCreateBatch, entries[0].Operation)
	assert.Equal(t, "alice", entries[0].Actor)
	assert.Equal(t, string(entity.BatchStatusPending), entries[0].AfterStatus)
}

func TestCreateBatch_Validation(t *testing.T) {
	s := newStack(t)
	negative := decimal.RequireFromString("-0.01")
	tooHigh := decimal.RequireFromString("1.5")

	tests := []struct {
		name string
		req  CreateBatchRequest
	}{
		{"missing date", CreateBatchRequest{}},
		{"bad date", CreateBatchRequest{ReconciliationDate: "2025-13-40"}},
		{"lowercase currency", CreateBatchRequest{ReconciliationDate: reconDay, ReportingCurrency: "usd"}},
		{"negative tolerance", CreateBatchRequest{ReconciliationDate: reconDay, ToleranceAbs: &negative}},
		{"threshold above one", CreateBatchRequest{ReconciliationDate: reconDay, ConfidenceThreshold: &tooHigh}},
		{"non-positive channel", CreateBatchRequest{ReconciliationDate: reconDay, ChannelIDs: []int64{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.batches.CreateBatch(context.Background(), tt.req, "alice")
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation), "got %v", err)
		})
	}

	batches, total, err := s.batches.ListBatches(context.Background(), entity.BatchFilter{}, entity.Page{})
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Zero(t, total)
}

func TestDeleteBatch(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.00")
	ctx := context.Background()

	pending, err := s.batches.CreateBatch(ctx, CreateBatchRequest{ReconciliationDate: "2025-11-09"}, "alice")
	require.NoError(t, err)
	require.NoError(t, s.batches.DeleteBatch(ctx, pending.ID, "alice"))

	_, err = s.batches.GetBatch(ctx, pending.ID)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	done := s.run("0.00")
	err = s.batches.DeleteBatch(ctx, done.ID, "alice")
	assert.Equal(t, apperror.CodeBatchHasDetails, apperror.CodeOf(err))
	assert.True(t, apperror.IsKind(err, apperror.KindPolicyViolation))

	err = s.batches.DeleteBatch(ctx, 9999, "alice")
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestListDetails_Filters(t *testing.T) {
	s := newStack(t)
	s.account(1, "100.00", "100.00")
	s.account(2, "100.00", "130.00")
	ctx := context.Background()

	batch := s.run("0.00")

	review, total, err := s.batches.ListDetails(ctx, batch.ID, entity.DetailFilter{MatchStatus: entity.MatchStatusManualReview}, entity.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, review, 1)
	assert.Equal(t, int64(2), review[0].AdAccountID)

	_, _, err = s.batches.ListDetails(ctx, batch.ID, entity.DetailFilter{MatchStatus: "bogus"}, entity.Page{})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, _, err = s.batches.ListDetails(ctx, 9999, entity.DetailFilter{}, entity.Page{})
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	_, _, err = s.batches.ListBatches(ctx, entity.BatchFilter{Status: "running"}, entity.Page{})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	from := reconDate
	to := reconDate.AddDate(0, 0, -1)
	_, _, err = s.batches.ListBatches(ctx, entity.BatchFilter{DateFrom: &from, DateTo: &to}, entity.Page{})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	completed, total, err := s.batches.ListBatches(ctx, entity.BatchFilter{Status: entity.BatchStatusCompleted}, entity.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, completed, 1)
	assert.Equal(t, batch.ID, completed[0].ID)
}

func TestCreateBatch_UnclassifiedFailureIsAudited(t *testing.T) {
	var audited []*entity.AuditEntry
	audit := &mockAuditRepo{
		AppendFunc: func(ctx context.Context, entry *entity.AuditEntry) error {
			audited = append(audited, entry)
			return nil
		},
	}
	tx := &mockTxManager{
		WithTransactionFunc: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return errors.New("database is locked")
		},
	}

	svc := NewBatchService(nil, nil, audit, tx, nil, BatchDefaults{}, &mockLogger{})

	_, err := svc.CreateBatch(context.Background(), CreateBatchRequest{ReconciliationDate: reconDay}, "alice")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindInternal))

	require.Len(t, audited, 1)
	assert.Equal(t, entity.AuditOpInternalError, audited[0].Operation)
	assert.Equal(t, entity.AuditEntityBatch, audited[0].EntityType)
	assert.Contains(t, audited[0].Payload, "database is locked")
}

func TestCreateBatch_ClassifiedFailurePassesThrough(t *testing.T) {
	audit := &mockAuditRepo{
		AppendFunc: func(ctx context.Context, entry *entity.AuditEntry) error {
			t.Fatalf("unexpected audit %s", entry.Operation)
			return nil
		},
	}
	tx := &mockTxManager{
		WithTransactionFunc: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return apperror.Conflict(apperror.CodeDuplicateBatchNo, "batch number taken")
		},
	}

	svc := NewBatchService(nil, nil, audit, tx, nil, BatchDefaults{}, &mockLogger{})

	_, err := svc.CreateBatch(context.Background(), CreateBatchRequest{ReconciliationDate: reconDay}, "alice")
	assert.Equal(t, apperror.CodeDuplicateBatchNo, apperror.CodeOf(err))
}

func TestBatchNo_Format(t *testing.T) {
	svc := &batchServiceImpl{now: func() time.Time { return time.Date(2025, 11, 11, 8, 30, 0, 0, time.UTC) }}
	no := svc.batchNo()
	assert.True(t, strings.HasPrefix(no, "RC20251111083000-"), no)
	assert.Len(t, no, len("RC20251111083000-")+8)
	assert.NotEqual(t, no, svc.batchNo())
}

func TestCreateBatch_ValidationMessageNamesFieldOnce(t *testing.T) {
	s := newStack(t)
	negative := decimal.RequireFromString("-1")

	_, err := s.batches.CreateBatch(context.Background(), CreateBatchRequest{
		ReconciliationDate: reconDay,
		ToleranceAbs:       &negative,
	}, "alice")
	require.Error(t, err)

	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidInput, appErr.Code)
	assert.Equal(t, "tolerance_abs failed nonnegative", appErr.Message)
	assert.Equal(t, 1, strings.Count(err.Error(), "tolerance_abs failed nonnegative"), err.Error())
}

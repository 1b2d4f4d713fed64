package platform

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var day = time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

func writeExport(t *testing.T, rows [][]interface{}) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestXLSXAdapter_Fetch(t *testing.T) {
	path := writeExport(t, [][]interface{}{
		{"Currency", "Date", "AD_ACCOUNT_ID", "Spend"},
		{"USD", "2025-11-10", "7", "100.25"},
		{"USD", "2025-11-10", "7", "20.25"},
		{"USD", "2025-11-09", "7", "999"},
		{"USD", "2025-11-10", "8", "5"},
	})
	adapter := NewXLSXAdapter(path, "", zap.NewNop())

	fig, err := adapter.Fetch(context.Background(), entity.AdAccount{ID: 7, Currency: "EUR"}, day)
	require.NoError(t, err)
	assert.Equal(t, "120.5", fig.Amount.String())
	assert.Equal(t, "USD", fig.Currency)
	require.NotNil(t, fig.Date)
	assert.True(t, fig.Date.Equal(day))
}

func TestXLSXAdapter_NoRowsIsZeroWithoutDate(t *testing.T) {
	path := writeExport(t, [][]interface{}{
		{"date", "ad_account_id", "spend"},
		{"2025-11-10", "8", "5"},
	})
	adapter := NewXLSXAdapter(path, "", zap.NewNop())

	fig, err := adapter.Fetch(context.Background(), entity.AdAccount{ID: 7, Currency: "USD"}, day)
	require.NoError(t, err)
	assert.True(t, fig.Amount.IsZero())
	assert.Nil(t, fig.Date)
}

func TestXLSXAdapter_DefaultsToAccountCurrency(t *testing.T) {
	path := writeExport(t, [][]interface{}{
		{"date", "ad_account_id", "spend"},
		{"2025-11-10", "7", "12"},
	})
	adapter := NewXLSXAdapter(path, "", zap.NewNop())

	fig, err := adapter.Fetch(context.Background(), entity.AdAccount{ID: 7, Currency: "SGD"}, day)
	require.NoError(t, err)
	assert.Equal(t, "SGD", fig.Currency)
}

func TestXLSXAdapter_Errors(t *testing.T) {
	ctx := context.Background()
	account := entity.AdAccount{ID: 7, Currency: "USD"}

	t.Run("missing export is transient", func(t *testing.T) {
		adapter := NewXLSXAdapter(filepath.Join(t.TempDir(), "absent.xlsx"), "", zap.NewNop())
		_, err := adapter.Fetch(ctx, account, day)
		assert.Equal(t, apperror.KindExternalTransient, apperror.KindOf(err))
	})

	t.Run("missing column is permanent", func(t *testing.T) {
		path := writeExport(t, [][]interface{}{{"date", "spend"}})
		_, err := NewXLSXAdapter(path, "", zap.NewNop()).Fetch(ctx, account, day)
		assert.Equal(t, apperror.CodePlatformRejected, apperror.CodeOf(err))
		assert.Equal(t, apperror.KindExternalPermanent, apperror.KindOf(err))
	})

	t.Run("bad amount is permanent", func(t *testing.T) {
		path := writeExport(t, [][]interface{}{
			{"date", "ad_account_id", "spend"},
			{"2025-11-10", "7", "n/a"},
		})
		_, err := NewXLSXAdapter(path, "", zap.NewNop()).Fetch(ctx, account, day)
		assert.Equal(t, apperror.KindExternalPermanent, apperror.KindOf(err))
	})

	t.Run("mixed currencies are permanent", func(t *testing.T) {
		path := writeExport(t, [][]interface{}{
			{"date", "ad_account_id", "spend", "currency"},
			{"2025-11-10", "7", "1", "USD"},
			{"2025-11-10", "7", "1", "EUR"},
		})
		_, err := NewXLSXAdapter(path, "", zap.NewNop()).Fetch(ctx, account, day)
		assert.Equal(t, apperror.KindExternalPermanent, apperror.KindOf(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewXLSXAdapter("unused.xlsx", "", zap.NewNop()).Fetch(cctx, account, day)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := NewXLSXAdapter("a.xlsx", "", zap.NewNop())
	b := NewXLSXAdapter("b.xlsx", "", zap.NewNop())

	r.Register(9, a)
	r.Register(3, b)

	got, ok := r.Adapter(9)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Adapter(1)
	assert.False(t, ok)

	assert.Equal(t, []int64{3, 9}, r.Channels())
}

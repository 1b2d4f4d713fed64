package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

func sampleReport() *entity.Report {
	day := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	return &entity.Report{
		ReportNo:    "RR-DAILY-20251111000000-abcd1234",
		ReportType:  entity.ReportTypeDaily,
		PeriodStart: day,
		PeriodEnd:   day,
		GeneratedBy: "finance",
		Payload: entity.ReportPayload{
			Summary: entity.ReportSummary{
				BatchCount:      1,
				DetailCount:     2,
				Matched:         1,
				Mismatched:      1,
				PlatformTotal:   decimal.RequireFromString("230"),
				InternalTotal:   decimal.RequireFromString("200"),
				DifferenceTotal: decimal.RequireFromString("30"),
				MatchRate:       decimal.RequireFromString("0.5"),
			},
			Batches: []entity.ReportBatchRow{{
				BatchID:            1,
				BatchNo:            "RC20251110-0001",
				ReconciliationDate: "2025-11-10",
				Status:             entity.BatchStatusCompleted,
				DetailCount:        2,
				Matched:            1,
				Mismatched:         1,
				PlatformTotal:      decimal.RequireFromString("230"),
				InternalTotal:      decimal.RequireFromString("200"),
				DifferenceTotal:    decimal.RequireFromString("30"),
			}},
			Breakdown: []entity.ReportBreakdownItem{{
				DifferenceType:  entity.DifferenceAmountMismatch,
				Count:           1,
				DifferenceTotal: decimal.RequireFromString("30"),
			}},
		},
		Chart: &entity.ReportChart{
			Dates:      []string{"2025-11-10"},
			Platform:   []decimal.Decimal{decimal.RequireFromString("230")},
			Internal:   []decimal.Decimal{decimal.RequireFromString("200")},
			Difference: []decimal.Decimal{decimal.RequireFromString("30")},
			MatchRates: []decimal.Decimal{decimal.RequireFromString("0.5")},
		},
	}
}

func TestXLSXRenderer_Render(t *testing.T) {
	r := NewXLSXRenderer()
	content, err := r.Render(sampleReport())
	require.NoError(t, err)
	require.NotEmpty(t, content)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetBatches, SheetBreakdown, SheetChart}, f.GetSheetList())

	rows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	values := map[string]string{}
	for _, row := range rows[1:] {
		values[row[0]] = row[1]
	}
	assert.Equal(t, "RR-DAILY-20251111000000-abcd1234", values["Report No"])
	assert.Equal(t, "230.00", values["Platform Total"])
	assert.Equal(t, "30.00", values["Difference Total"])
	assert.Equal(t, "0.5000", values["Match Rate"])

	batchRows, err := f.GetRows(SheetBatches)
	require.NoError(t, err)
	require.Len(t, batchRows, 2)
	assert.Equal(t, "RC20251110-0001", batchRows[1][0])
	assert.Equal(t, "completed", batchRows[1][2])

	breakdown, err := f.GetRows(SheetBreakdown)
	require.NoError(t, err)
	require.Len(t, breakdown, 2)
	assert.Equal(t, []string{"amount_mismatch", "1", "30.00"}, breakdown[1])

	daily, err := f.GetRows(SheetChart)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-11-10", "230.00", "200.00", "30.00", "0.5000"}, daily[1])
}

func TestXLSXRenderer_WithoutChart(t *testing.T) {
	report := sampleReport()
	report.Chart = nil

	content, err := NewXLSXRenderer().Render(report)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()
	assert.NotContains(t, f.GetSheetList(), SheetChart)
}

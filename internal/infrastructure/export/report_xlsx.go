// Package export renders report snapshots into downloadable documents.
package export

import (
	"fmt"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Sheet names of a rendered report workbook
const (
	SheetSummary   = "Summary"
	SheetBatches   = "Batches"
	SheetBreakdown = "Breakdown"
	SheetChart     = "Daily"
)

// XLSXRenderer writes a report as a workbook with one sheet per section.
// Amounts are written as fixed-point text so no precision is lost.
type XLSXRenderer struct{}

// NewXLSXRenderer creates a renderer
func NewXLSXRenderer() *XLSXRenderer {
	return &XLSXRenderer{}
}

// Extension implements port.ReportRenderer
func (r *XLSXRenderer) Extension() string {
	return "xlsx"
}

// ContentType implements port.ReportRenderer
func (r *XLSXRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Render builds the workbook for report
func (r *XLSXRenderer) Render(report *entity.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	w := &sheetWriter{f: f, header: header}
	w.summary(report)
	w.batches(report.Payload.Batches)
	w.breakdown(report.Payload.Breakdown)
	if report.Chart != nil {
		w.chart(report.Chart)
	}
	if w.err != nil {
		return nil, w.err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the first error so section writers stay linear
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) row(sheet string, n int, values ...interface{}) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetSheetRow(sheet, cell, &values); err != nil {
		w.err = fmt.Errorf("failed to write %s row %d: %w", sheet, n, err)
	}
}

func (w *sheetWriter) headerRow(sheet string, n int, values ...interface{}) {
	w.row(sheet, n, values...)
	if w.err == nil {
		w.err = w.f.SetRowStyle(sheet, n, n, w.header)
	}
}

func (w *sheetWriter) newSheet(name string) {
	if w.err != nil {
		return
	}
	if _, err := w.f.NewSheet(name); err != nil {
		w.err = fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
}

func (w *sheetWriter) summary(report *entity.Report) {
	s := report.Payload.Summary
	w.headerRow(SheetSummary, 1, "Field", "Value")
	rows := [][]interface{}{
		{"Report No", report.ReportNo},
		{"Type", string(report.ReportType)},
		{"Period Start", report.PeriodStart.Format(entity.DateLayout)},
		{"Period End", report.PeriodEnd.Format(entity.DateLayout)},
		{"Generated By", report.GeneratedBy},
		{"Batches", s.BatchCount},
		{"Details", s.DetailCount},
		{"Matched", s.Matched},
		{"Auto Matched", s.AutoMatched},
		{"Mismatched", s.Mismatched},
		{"Platform Total", money(s.PlatformTotal)},
		{"Internal Total", money(s.InternalTotal)},
		{"Difference Total", money(s.DifferenceTotal)},
		{"Match Rate", s.MatchRate.StringFixed(4)},
	}
	for i, r := range rows {
		w.row(SheetSummary, i+2, r...)
	}
}

func (w *sheetWriter) batches(rows []entity.ReportBatchRow) {
	w.newSheet(SheetBatches)
	w.headerRow(SheetBatches, 1, "Batch No", "Date", "Status", "Details", "Matched",
		"Auto Matched", "Mismatched", "Platform Total", "Internal Total", "Difference Total")
	for i, b := range rows {
		w.row(SheetBatches, i+2, b.BatchNo, b.ReconciliationDate, string(b.Status), b.DetailCount,
			b.Matched, b.AutoMatched, b.Mismatched,
			money(b.PlatformTotal), money(b.InternalTotal), money(b.DifferenceTotal))
	}
}

func (w *sheetWriter) breakdown(items []entity.ReportBreakdownItem) {
	w.newSheet(SheetBreakdown)
	w.headerRow(SheetBreakdown, 1, "Difference Type", "Count", "Difference Total")
	for i, item := range items {
		w.row(SheetBreakdown, i+2, string(item.DifferenceType), item.Count, money(item.DifferenceTotal))
	}
}

func (w *sheetWriter) chart(c *entity.ReportChart) {
	w.newSheet(SheetChart)
	w.headerRow(SheetChart, 1, "Date", "Platform", "Internal", "Difference", "Match Rate")
	for i, day := range c.Dates {
		w.row(SheetChart, i+2, day,
			money(at(c.Platform, i)), money(at(c.Internal, i)),
			money(at(c.Difference, i)), at(c.MatchRates, i).StringFixed(4))
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func at(series []decimal.Decimal, i int) decimal.Decimal {
	if i < len(series) {
		return series[i]
	}
	return decimal.Zero
}

var _ port.ReportRenderer = (*XLSXRenderer)(nil)

package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportScope narrows which details feed a report. Empty slices mean "all".
type ReportScope struct {
	ChannelIDs []int64 `json:"channel_ids,omitempty"`
	ProjectIDs []int64 `json:"project_ids,omitempty"`
}

// Report is a persisted snapshot of reconciliation results over a period
type Report struct {
	ID          int64         `json:"id"`
	ReportNo    string        `json:"report_no"`
	ReportType  ReportType    `json:"report_type"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Scope       ReportScope   `json:"scope"`
	Payload     ReportPayload `json:"payload"`
	Chart       *ReportChart  `json:"chart,omitempty"`
	GeneratedBy string        `json:"generated_by"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ReportPayload is the snapshot body of a report
type ReportPayload struct {
	Summary   ReportSummary         `json:"summary"`
	Batches   []ReportBatchRow      `json:"batches"`
	Breakdown []ReportBreakdownItem `json:"breakdown"`
}

// ReportSummary aggregates every batch in the report
type ReportSummary struct {
	BatchCount      int             `json:"batch_count"`
	DetailCount     int             `json:"detail_count"`
	Matched         int             `json:"matched"`
	AutoMatched     int             `json:"auto_matched"`
	Mismatched      int             `json:"mismatched"`
	PlatformTotal   decimal.Decimal `json:"platform_total"`
	InternalTotal   decimal.Decimal `json:"internal_total"`
	DifferenceTotal decimal.Decimal `json:"difference_total"`
	MatchRate       decimal.Decimal `json:"match_rate"`
}

// ReportBatchRow is one batch's contribution to a report
type ReportBatchRow struct {
	BatchID            int64           `json:"batch_id"`
	BatchNo            string          `json:"batch_no"`
	ReconciliationDate string          `json:"reconciliation_date"`
	Status             BatchStatus     `json:"status"`
	DetailCount        int             `json:"detail_count"`
	Matched            int             `json:"matched"`
	AutoMatched        int             `json:"auto_matched"`
	Mismatched         int             `json:"mismatched"`
	PlatformTotal      decimal.Decimal `json:"platform_total"`
	InternalTotal      decimal.Decimal `json:"internal_total"`
	DifferenceTotal    decimal.Decimal `json:"difference_total"`
}

// ReportBreakdownItem aggregates details sharing one difference type
type ReportBreakdownItem struct {
	DifferenceType  DifferenceType  `json:"difference_type"`
	Count           int             `json:"count"`
	DifferenceTotal decimal.Decimal `json:"difference_total"`
}

// ReportChart is a per-day series suitable for plotting
type ReportChart struct {
	Dates      []string          `json:"dates"`
	Platform   []decimal.Decimal `json:"platform"`
	Internal   []decimal.Decimal `json:"internal"`
	Difference []decimal.Decimal `json:"difference"`
	MatchRates []decimal.Decimal `json:"match_rates"`
}

package service

import (
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// CreateBatchRequest describes a new batch. Unset tolerances fall back to the
// configured defaults.
type CreateBatchRequest struct {
	ReconciliationDate  string           `json:"reconciliation_date" validate:"required,datetime=2006-01-02"`
	ChannelIDs          []int64          `json:"channel_ids" validate:"omitempty,dive,gt=0"`
	ProjectIDs          []int64          `json:"project_ids" validate:"omitempty,dive,gt=0"`
	ReportingCurrency   string           `json:"reporting_currency" validate:"omitempty,currency"`
	ToleranceAbs        *decimal.Decimal `json:"tolerance_abs" validate:"omitempty,nonnegative"`
	ToleranceRel        *decimal.Decimal `json:"tolerance_rel" validate:"omitempty,nonnegative"`
	ConfidenceThreshold *decimal.Decimal `json:"confidence_threshold" validate:"omitempty,nonnegative"`
	Notes               string           `json:"notes" validate:"max=2000"`
}

// ReviewRequest is an operator's review decision on a detail
type ReviewRequest struct {
	Decision entity.ReviewDecision `json:"decision" validate:"required,oneof=approve demote mark_exception"`
	Notes    string                `json:"notes" validate:"max=2000"`
}

// AdjustmentRequest appends an adjustment to a detail
type AdjustmentRequest struct {
	AdjustmentType   entity.AdjustmentType `json:"adjustment_type" validate:"required,oneof=spend_adjustment date_adjustment"`
	OriginalAmount   decimal.Decimal       `json:"original_amount" validate:"nonnegative"`
	AdjustmentAmount decimal.Decimal       `json:"adjustment_amount"`
	ReasonCategory   string                `json:"reason_category" validate:"required,max=64"`
	ReasonDetail     string                `json:"reason_detail" validate:"max=2000"`
	EvidenceURL      string                `json:"evidence_url" validate:"omitempty,url"`
	FinanceConfirmed bool                  `json:"finance_confirmed"`
}

// ReportRequest asks for a report over a period
type ReportRequest struct {
	ReportType  entity.ReportType `json:"report_type" validate:"required,oneof=daily weekly monthly"`
	PeriodStart string            `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string            `json:"period_end" validate:"required,datetime=2006-01-02"`
	ChannelIDs  []int64           `json:"channel_ids" validate:"omitempty,dive,gt=0"`
	ProjectIDs  []int64           `json:"project_ids" validate:"omitempty,dive,gt=0"`
}

// DetailResult is the outcome of a detail operation. It is also what replays
// of the same operation id return.
type DetailResult struct {
	Detail         *entity.Detail     `json:"detail"`
	Adjustment     *entity.Adjustment `json:"adjustment,omitempty"`
	AdjustedAmount *decimal.Decimal   `json:"adjusted_amount,omitempty"`
	BatchStatus    entity.BatchStatus `json:"batch_status"`
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Adjustment is an append-only correction to a detail's amounts, subject to
// finance confirmation. AdjustedAmount is always derived, never stored.
type Adjustment struct {
	ID               int64           `json:"id"`
	DetailID         int64           `json:"detail_id"`
	BatchID          int64           `json:"batch_id"`
	AdjustmentType   AdjustmentType  `json:"adjustment_type"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	AdjustmentAmount decimal.Decimal `json:"adjustment_amount"`
	ReasonCategory   string          `json:"reason_category"`
	ReasonDetail     string          `json:"reason_detail,omitempty"`
	EvidenceURL      string          `json:"evidence_url,omitempty"`
	ApprovedBy       string          `json:"approved_by"`
	ApprovedAt       time.Time       `json:"approved_at"`

	FinanceConfirmed   bool       `json:"finance_confirmed"`
	FinanceConfirmedBy string     `json:"finance_confirmed_by,omitempty"`
	FinanceConfirmedAt *time.Time `json:"finance_confirmed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AdjustedAmount is original + adjustment
func (a *Adjustment) AdjustedAmount() decimal.Decimal {
	return a.OriginalAmount.Add(a.AdjustmentAmount)
}

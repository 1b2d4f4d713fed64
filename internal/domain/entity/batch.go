package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the slack within which a non-zero difference is still auto-matched
type Tolerance struct {
	Absolute            decimal.Decimal `json:"absolute"`
	Relative            decimal.Decimal `json:"relative"`
	ConfidenceThreshold decimal.Decimal `json:"confidence_threshold"`
}

// BatchScope narrows the accounts a batch reconciles. Empty slices mean "all".
type BatchScope struct {
	ChannelIDs []int64 `json:"channel_ids,omitempty"`
	ProjectIDs []int64 `json:"project_ids,omitempty"`
}

// BatchCounters are the per-status detail counts of a batch
type BatchCounters struct {
	Total          int `json:"total"`
	Matched        int `json:"matched"`
	Mismatched     int `json:"mismatched"`
	AutoMatched    int `json:"auto_matched"`
	ManualReviewed int `json:"manual_reviewed"`
}

// BatchSums are the monetary sums of a batch in reporting currency
type BatchSums struct {
	PlatformTotal   decimal.Decimal `json:"platform_total"`
	InternalTotal   decimal.Decimal `json:"internal_total"`
	DifferenceTotal decimal.Decimal `json:"difference_total"`
}

// Batch is one reconciliation run scoped to a single date and a set of accounts
type Batch struct {
	ID                 int64         `json:"id"`
	BatchNo            string        `json:"batch_no"`
	ReconciliationDate time.Time     `json:"reconciliation_date"`
	Status             BatchStatus   `json:"status"`
	Version            int64         `json:"version"`
	Scope              BatchScope    `json:"scope"`
	ReportingCurrency  string        `json:"reporting_currency,omitempty"`
	Tolerance          Tolerance     `json:"tolerance"`
	Counters           BatchCounters `json:"counters"`
	Sums               BatchSums     `json:"sums"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	ExceptionReason    string        `json:"exception_reason,omitempty"`
	CreatedBy          string        `json:"created_by"`
	Notes              string        `json:"notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// IsReviewable reports whether detail operations are allowed on the batch
func (b *Batch) IsReviewable() bool {
	return b.Status == BatchStatusCompleted
}

// DateString returns the reconciliation date as YYYY-MM-DD
func (b *Batch) DateString() string {
	return b.ReconciliationDate.Format(DateLayout)
}

// BatchFilter narrows batch listings
type BatchFilter struct {
	Status   BatchStatus
	DateFrom *time.Time
	DateTo   *time.Time
}

// DetailFilter narrows detail listings
type DetailFilter struct {
	MatchStatus    MatchStatus
	DifferenceType DifferenceType
}

// Page is an offset/limit window
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize clamps the page into a sane window
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

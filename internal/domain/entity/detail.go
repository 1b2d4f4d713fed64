package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Detail is the per-account record within a batch holding external vs internal
// spend and the match outcome. One detail exists per (batch, ad_account).
type Detail struct {
	ID          int64 `json:"id"`
	BatchID     int64 `json:"batch_id"`
	AdAccountID int64 `json:"ad_account_id"`
	ProjectID   int64 `json:"project_id"`
	ChannelID   int64 `json:"channel_id"`

	ExternalAmount   decimal.Decimal `json:"external_amount"`
	ExternalCurrency string          `json:"external_currency"`
	ExternalDate     *time.Time      `json:"external_date,omitempty"`

	InternalAmount   decimal.Decimal `json:"internal_amount"`
	InternalCurrency string          `json:"internal_currency"`
	InternalDate     *time.Time      `json:"internal_date,omitempty"`

	ReportingCurrency    string          `json:"reporting_currency"`
	ExchangeRate         decimal.Decimal `json:"exchange_rate"`
	InternalExchangeRate decimal.Decimal `json:"internal_exchange_rate"`
	SpendDifference      decimal.Decimal `json:"spend_difference"`

	MatchStatus    MatchStatus     `json:"match_status"`
	OriginalStatus MatchStatus     `json:"original_status"`
	DifferenceType DifferenceType  `json:"difference_type"`
	Reason         string          `json:"reason,omitempty"`
	AutoConfidence decimal.Decimal `json:"auto_confidence"`

	ReviewedBy     string         `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewed_at,omitempty"`
	ReviewDecision ReviewDecision `json:"review_decision,omitempty"`
	ReviewNotes    string         `json:"review_notes,omitempty"`

	ResolutionType  string     `json:"resolution_type,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMatched is derived from MatchStatus
func (d *Detail) IsMatched() bool {
	return d.MatchStatus.IsMatched()
}

// NormalizedExternal is the external amount in reporting currency
func (d *Detail) NormalizedExternal() decimal.Decimal {
	return Normalize(d.ExternalAmount, d.ExchangeRate)
}

// NormalizedInternal is the internal amount in reporting currency
func (d *Detail) NormalizedInternal() decimal.Decimal {
	return Normalize(d.InternalAmount, d.InternalExchangeRate)
}

// IsTerminalForBatch reports whether the detail no longer blocks its batch
// from resolving: it is resolved, or the matcher itself matched it.
func (d *Detail) IsTerminalForBatch() bool {
	if d.MatchStatus == MatchStatusResolved {
		return true
	}
	if d.MatchStatus != MatchStatusMatched && d.MatchStatus != MatchStatusAutoMatched {
		return false
	}
	return d.OriginalStatus == MatchStatusMatched || d.OriginalStatus == MatchStatusAutoMatched
}

// IsManuallyApproved reports whether the detail reached matched through review
func (d *Detail) IsManuallyApproved() bool {
	return d.MatchStatus == MatchStatusMatched && !d.IsTerminalForBatch()
}

// Normalize converts an amount with a rate, rounded to one minor unit
func Normalize(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

package entity

// BatchStatus is the lifecycle state of a reconciliation batch
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusException  BatchStatus = "exception"
	BatchStatusResolved   BatchStatus = "resolved"
)

// IsValid returns true if the status is a known batch status
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted,
		BatchStatusException, BatchStatusResolved:
		return true
	}
	return false
}

// MatchStatus classifies a detail's agreement between external and internal spend
type MatchStatus string

const (
	MatchStatusPending      MatchStatus = "pending"
	MatchStatusMatched      MatchStatus = "matched"
	MatchStatusAutoMatched  MatchStatus = "auto_matched"
	MatchStatusManualReview MatchStatus = "manual_review"
	MatchStatusException    MatchStatus = "exception"
	MatchStatusResolved     MatchStatus = "resolved"
)

// IsValid returns true if the status is a known match status
func (s MatchStatus) IsValid() bool {
	switch s {
	case MatchStatusPending, MatchStatusMatched, MatchStatusAutoMatched,
		MatchStatusManualReview, MatchStatusException, MatchStatusResolved:
		return true
	}
	return false
}

// IsMatched reports whether a detail in this status counts as matched.
// is_matched is always derived from the status, never stored on its own.
func (s MatchStatus) IsMatched() bool {
	return s == MatchStatusMatched || s == MatchStatusAutoMatched || s == MatchStatusResolved
}

// DifferenceType is the categorical reason external and internal spend disagree
type DifferenceType string

const (
	DifferenceNone                     DifferenceType = "none"
	DifferenceMissingInternal          DifferenceType = "missing_internal"
	DifferenceMissingExternal          DifferenceType = "missing_external"
	DifferenceCurrencyMismatch         DifferenceType = "currency_mismatch"
	DifferenceDateMismatch             DifferenceType = "date_mismatch"
	DifferenceAmountMismatch           DifferenceType = "amount_mismatch"
	DifferenceExternalFetchFailed      DifferenceType = "external_fetch_failed"
	DifferenceInternalFetchFailed      DifferenceType = "internal_fetch_failed"
	DifferenceCurrencyConversionFailed DifferenceType = "currency_conversion_failed"
	DifferenceProcessingAborted        DifferenceType = "processing_aborted"
)

// IsValid returns true if the type is a known difference type
func (t DifferenceType) IsValid() bool {
	switch t {
	case DifferenceNone, DifferenceMissingInternal, DifferenceMissingExternal,
		DifferenceCurrencyMismatch, DifferenceDateMismatch, DifferenceAmountMismatch,
		DifferenceExternalFetchFailed, DifferenceInternalFetchFailed,
		DifferenceCurrencyConversionFailed,
		DifferenceProcessingAborted:
		return true
	}
	return false
}

// AdjustmentType selects which side of a detail an adjustment corrects
type AdjustmentType string

const (
	AdjustmentTypeSpend AdjustmentType = "spend_adjustment"
	AdjustmentTypeDate  AdjustmentType = "date_adjustment"
)

// IsValid returns true if the type is a known adjustment type
func (t AdjustmentType) IsValid() bool {
	return t == AdjustmentTypeSpend || t == AdjustmentTypeDate
}

// ReviewDecision is the outcome an operator chooses when reviewing a detail
type ReviewDecision string

const (
	ReviewApprove       ReviewDecision = "approve"
	ReviewDemote        ReviewDecision = "demote"
	ReviewMarkException ReviewDecision = "mark_exception"
)

// IsValid returns true if the decision is known
func (d ReviewDecision) IsValid() bool {
	return d == ReviewApprove || d == ReviewDemote || d == ReviewMarkException
}

// ReportType selects the period semantics of a report
type ReportType string

const (
	ReportTypeDaily   ReportType = "daily"
	ReportTypeWeekly  ReportType = "weekly"
	ReportTypeMonthly ReportType = "monthly"
)

// IsValid returns true if the report type is known
func (t ReportType) IsValid() bool {
	return t == ReportTypeDaily || t == ReportTypeWeekly || t == ReportTypeMonthly
}

// Resolution kinds recorded on a resolved detail
const (
	ResolutionAdjusted     = "adjusted"
	ResolutionNoAdjustment = "no_adjustment"
)

// Batch exception reasons
const (
	ReasonCancelled            = "cancelled"
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDirectoryUnavailable = "directory_unavailable"
	ReasonDetailsMissing       = "details_missing"
)

// Daily report entry status that feeds internal totals
const DailyReportStatusApproved = "approved"

// DateLayout is the calendar-day layout used for reconciliation dates
const DateLayout = "2006-01-02"

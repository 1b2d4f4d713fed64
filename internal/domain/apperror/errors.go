// Package apperror defines the error kinds the reconciliation core surfaces to
// callers. Every user-visible failure carries a Kind and a stable Code.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is the contract-level category of an error
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindConflict           Kind = "ConflictError"
	KindNotFound           Kind = "NotFoundError"
	KindExternalTransient  Kind = "ExternalTransient"
	KindExternalPermanent  Kind = "ExternalPermanent"
	KindBatchNotReviewable Kind = "BatchNotReviewable"
	KindPolicyViolation    Kind = "PolicyViolation"
	KindInternal           Kind = "InternalError"
)

// Stable error codes
const (
	CodeInvalidInput            = "INVALID_INPUT"
	CodeBatchAlreadyRunning     = "BATCH_ALREADY_RUNNING"
	CodeBatchNotPending         = "BATCH_NOT_PENDING"
	CodeScopeOverlap            = "SCOPE_OVERLAP"
	CodeVersionConflict         = "VERSION_CONFLICT"
	CodeDuplicateBatchNo        = "DUPLICATE_BATCH_NO"
	CodeDuplicateDetail         = "DUPLICATE_DETAIL"
	CodeBatchNotFound           = "BATCH_NOT_FOUND"
	CodeDetailNotFound          = "DETAIL_NOT_FOUND"
	CodeAdjustmentNotFound      = "ADJUSTMENT_NOT_FOUND"
	CodeReportNotFound          = "REPORT_NOT_FOUND"
	CodePlatformUnavailable     = "PLATFORM_UNAVAILABLE"
	CodeRateUnavailable         = "RATE_UNAVAILABLE"
	CodeReportsUnavailable      = "DAILY_REPORTS_UNAVAILABLE"
	CodeDirectoryUnavailable    = "DIRECTORY_UNAVAILABLE"
	CodeAdapterMissing          = "ADAPTER_MISSING"
	CodePlatformRejected        = "PLATFORM_REJECTED"
	CodeBatchNotReviewable      = "BATCH_NOT_REVIEWABLE"
	CodeDetailResolved          = "DETAIL_RESOLVED"
	CodeInvalidDetailState      = "INVALID_DETAIL_STATE"
	CodeReasonRequired          = "REASON_REQUIRED"
	CodeOriginalAmountMismatch  = "ORIGINAL_AMOUNT_MISMATCH"
	CodeAdjustmentConfirmed     = "ADJUSTMENT_ALREADY_CONFIRMED"
	CodeBatchHasDetails         = "BATCH_HAS_DETAILS"
	CodeOperationReplayMismatch = "OPERATION_REPLAY_MISMATCH"
	CodeExportDisabled          = "EXPORT_DISABLED"
	CodeInternal                = "INTERNAL"
)

// Error is a tagged error value carrying one of the contract kinds
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same kind and code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// New creates an error of the given kind
func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind Kind, code string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation reports malformed input
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, CodeInvalidInput, format, args...)
}

// Conflict reports a CAS failure or uniqueness violation
func Conflict(code, format string, args ...interface{}) *Error {
	return New(KindConflict, code, format, args...)
}

// NotFound reports an unknown id
func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}

// Transient reports a retryable external failure
func Transient(code string, err error, format string, args ...interface{}) *Error {
	return Wrap(KindExternalTransient, code, err, format, args...)
}

// Permanent reports an unrecoverable external failure
func Permanent(code string, err error, format string, args ...interface{}) *Error {
	return Wrap(KindExternalPermanent, code, err, format, args...)
}

// NotReviewable reports an operation on a batch in an incompatible state
func NotReviewable(format string, args ...interface{}) *Error {
	return New(KindBatchNotReviewable, CodeBatchNotReviewable, format, args...)
}

// Policy reports an operation the workflow forbids
func Policy(code, format string, args ...interface{}) *Error {
	return New(KindPolicyViolation, code, format, args...)
}

// Internal wraps an unexpected failure
func Internal(err error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, CodeInternal, err, format, args...)
}

// As extracts an *Error from an error chain
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or CodeInternal for foreign errors
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsRetryable reports whether a caller may retry: transient failures and conflicts
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindExternalTransient || k == KindConflict
}

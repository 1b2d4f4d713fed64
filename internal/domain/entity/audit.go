package entity

import "time"

// Audit entity types
const (
	AuditEntityBatch      = "batch"
	AuditEntityDetail     = "detail"
	AuditEntityAdjustment = "adjustment"
	AuditEntityReport     = "report"
)

// Audit operations
const (
	AuditOpCreateBatch     = "create_batch"
	AuditOpStartBatch      = "start_batch"
	AuditOpCompleteBatch   = "complete_batch"
	AuditOpFailBatch       = "fail_batch"
	AuditOpResolveBatch    = "resolve_batch"
	AuditOpDeleteBatch     = "delete_batch"
	AuditOpReview          = "review_detail"
	AuditOpAdjust          = "adjust_detail"
	AuditOpFinanceConfirm  = "finance_confirm"
	AuditOpResolveNoAdjust = "resolve_without_adjustment"
	AuditOpGenerateReport  = "generate_report"
	AuditOpExportReport    = "export_report"
	AuditOpInternalError   = "internal_error"
)

// AuditEntry is one append-only audit log row capturing a state transition
type AuditEntry struct {
	ID           int64     `json:"id"`
	EntityType   string    `json:"entity_type"`
	EntityID     int64     `json:"entity_id"`
	BatchID      int64     `json:"batch_id"`
	Actor        string    `json:"actor"`
	Operation    string    `json:"operation"`
	BeforeStatus string    `json:"before_status,omitempty"`
	AfterStatus  string    `json:"after_status,omitempty"`
	Payload      string    `json:"payload,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// DetailOperation records the result of a fingerprinted detail operation so
// replays with the same op id return the prior result without side effects
type DetailOperation struct {
	DetailID  int64     `json:"detail_id"`
	OpID      string    `json:"op_id"`
	Operation string    `json:"operation"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}

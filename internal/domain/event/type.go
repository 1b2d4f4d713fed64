package event

// Type identifies the type of domain event
type Type string

const (
	TypeBatchStarted    Type = "batch.started"
	TypeBatchCompleted  Type = "batch.completed"
	TypeBatchFailed     Type = "batch.failed"
	TypeBatchResolved   Type = "batch.resolved"
	TypeDetailResolved  Type = "detail.resolved"
	TypeReportGenerated Type = "report.generated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeBatchStarted,
		TypeBatchCompleted,
		TypeBatchFailed,
		TypeBatchResolved,
		TypeDetailResolved,
		TypeReportGenerated:
		return true
	default:
		return false
	}
}

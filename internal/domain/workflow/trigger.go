package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

// Batch triggers
const (
	TriggerStart    Trigger = "START"
	TriggerComplete Trigger = "COMPLETE"
	TriggerFail     Trigger = "FAIL"
	TriggerCancel   Trigger = "CANCEL"
	TriggerResolve  Trigger = "RESOLVE"
)

// Detail triggers
const (
	TriggerApprove       Trigger = "APPROVE"
	TriggerDemote        Trigger = "DEMOTE"
	TriggerMarkException Trigger = "MARK_EXCEPTION"
	TriggerSettle        Trigger = "SETTLE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

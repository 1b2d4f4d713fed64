package workflow

// State is a lifecycle state shared by batch and detail state machines.
// Batch and detail statuses overlap on pending, exception and resolved.
type State string

const (
	StatePending      State = "pending"
	StateProcessing   State = "processing"
	StateCompleted    State = "completed"
	StateException    State = "exception"
	StateResolved     State = "resolved"
	StateMatched      State = "matched"
	StateAutoMatched  State = "auto_matched"
	StateManualReview State = "manual_review"
)

var validStates = map[State]bool{
	StatePending:      true,
	StateProcessing:   true,
	StateCompleted:    true,
	StateException:    true,
	StateResolved:     true,
	StateMatched:      true,
	StateAutoMatched:  true,
	StateManualReview: true,
}

var terminalStates = map[State]bool{
	StateResolved: true,
}

// IsTerminal returns true if no transition leaves the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known state
func (s State) IsValid() bool {
	return validStates[s]
}

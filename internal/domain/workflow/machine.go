package workflow

import "context"

// StateMachine tracks a current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured for the current state
	CanFire(trigger Trigger) bool

	// Target evaluates the trigger without moving, returning the state Fire would reach
	Target(ctx context.Context, trigger Trigger) (State, error)

	// Fire executes the trigger, moving to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers configured for the current state, sorted
	PermittedTriggers() []Trigger
}

package workflow

import (
	"context"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	domainwf "github.com/garyjia/spend-reconciliation/internal/domain/workflow"
)

// BuildBatchStateMachine creates a state machine for the batch lifecycle
func BuildBatchStateMachine(initialState domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerStart, domainwf.StateProcessing)

	builder.Configure(domainwf.StateProcessing).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted).
		Permit(domainwf.TriggerFail, domainwf.StateException).
		Permit(domainwf.TriggerCancel, domainwf.StateException)

	builder.Configure(domainwf.StateCompleted).
		Permit(domainwf.TriggerResolve, domainwf.StateResolved)

	// EXCEPTION and RESOLVED have no outgoing transitions; restart means a new batch

	return builder.Build(initialState)
}

// BuildDetailStateMachine creates a state machine for one detail. Settling a
// matched detail is only permitted when the match came from a manual approval.
func BuildDetailStateMachine(detail *entity.Detail) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateAutoMatched).
		Permit(domainwf.TriggerApprove, domainwf.StateMatched).
		Permit(domainwf.TriggerDemote, domainwf.StateManualReview).
		Permit(domainwf.TriggerMarkException, domainwf.StateException)

	for _, s := range []domainwf.State{domainwf.StateManualReview, domainwf.StateException} {
		builder.Configure(s).
			Permit(domainwf.TriggerApprove, domainwf.StateMatched).
			Permit(domainwf.TriggerDemote, domainwf.StateManualReview).
			Permit(domainwf.TriggerMarkException, domainwf.StateException).
			Permit(domainwf.TriggerSettle, domainwf.StateResolved)
	}

	builder.Configure(domainwf.StateMatched).
		PermitIf(domainwf.TriggerSettle, domainwf.StateResolved, func(ctx context.Context) bool {
			return detail.IsManuallyApproved()
		})

	return builder.Build(domainwf.State(detail.MatchStatus))
}

// DecisionTrigger maps a review decision to its detail trigger
func DecisionTrigger(decision entity.ReviewDecision) (domainwf.Trigger, bool) {
	switch decision {
	case entity.ReviewApprove:
		return domainwf.TriggerApprove, true
	case entity.ReviewDemote:
		return domainwf.TriggerDemote, true
	case entity.ReviewMarkException:
		return domainwf.TriggerMarkException, true
	}
	return "", false
}

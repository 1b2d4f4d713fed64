package entity

import "github.com/shopspring/decimal"

// Aggregate recomputes batch counters and sums from its details. It is the
// single authoritative source for batch aggregates: callers never increment
// counters in place.
func Aggregate(details []*Detail) (BatchCounters, BatchSums) {
	var counters BatchCounters
	sums := BatchSums{
		PlatformTotal:   decimal.Zero,
		InternalTotal:   decimal.Zero,
		DifferenceTotal: decimal.Zero,
	}

	for _, d := range details {
		counters.Total++

		switch d.MatchStatus {
		case MatchStatusMatched, MatchStatusResolved:
			counters.Matched++
		case MatchStatusAutoMatched:
			counters.AutoMatched++
		default:
			counters.Mismatched++
		}

		if d.ReviewedAt != nil {
			counters.ManualReviewed++
		}

		sums.PlatformTotal = sums.PlatformTotal.Add(d.NormalizedExternal())
		sums.InternalTotal = sums.InternalTotal.Add(d.NormalizedInternal())
		sums.DifferenceTotal = sums.DifferenceTotal.Add(d.SpendDifference)
	}

	return counters, sums
}

// AllTerminal reports whether every detail is terminal for batch resolution.
// An empty detail set is never considered resolvable.
func AllTerminal(details []*Detail) bool {
	if len(details) == 0 {
		return false
	}
	for _, d := range details {
		if !d.IsTerminalForBatch() {
			return false
		}
	}
	return true
}

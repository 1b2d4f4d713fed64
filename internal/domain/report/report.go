// Package report validates report periods and builds report payloads from
// persisted batches and details.
package report

import (
	"sort"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
)

const (
	weeklyMaxDays = 7
	ratePlaces    = 4
)

// ReportableStatuses are the batch statuses whose details feed a report
var ReportableStatuses = []entity.BatchStatus{
	entity.BatchStatusCompleted,
	entity.BatchStatusResolved,
	entity.BatchStatusException,
}

// ValidatePeriod checks the period against the report type.
// Weekly spans are counted inclusively, so start..start+6 is the widest week.
func ValidatePeriod(reportType entity.ReportType, start, end time.Time) error {
	start, end = truncate(start), truncate(end)
	if end.Before(start) {
		return apperror.Validation("period end %s is before start %s", end.Format(entity.DateLayout), start.Format(entity.DateLayout))
	}

	switch reportType {
	case entity.ReportTypeDaily:
		if !end.Equal(start) {
			return apperror.Validation("daily report must cover a single day")
		}
	case entity.ReportTypeWeekly:
		if days := int(end.Sub(start).Hours()/24) + 1; days > weeklyMaxDays {
			return apperror.Validation("weekly report spans %d days, max %d", days, weeklyMaxDays)
		}
	case entity.ReportTypeMonthly:
		if start.Year() != end.Year() || start.Month() != end.Month() {
			return apperror.Validation("monthly report must stay within one calendar month")
		}
	default:
		return apperror.Validation("unknown report type %q", reportType)
	}
	return nil
}

// Build assembles the payload and chart for the given batches. Details not
// belonging to one of the batches, or outside the scope, are ignored.
func Build(batches []*entity.Batch, details []*entity.Detail, scope entity.ReportScope, start, end time.Time) (entity.ReportPayload, *entity.ReportChart) {
	byBatch := make(map[int64][]*entity.Detail, len(batches))
	for _, d := range details {
		if inScope(d, scope) {
			byBatch[d.BatchID] = append(byBatch[d.BatchID], d)
		}
	}

	ordered := append([]*entity.Batch(nil), batches...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ReconciliationDate.Equal(ordered[j].ReconciliationDate) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].ReconciliationDate.Before(ordered[j].ReconciliationDate)
	})

	payload := entity.ReportPayload{
		Summary: entity.ReportSummary{
			PlatformTotal:   decimal.Zero,
			InternalTotal:   decimal.Zero,
			DifferenceTotal: decimal.Zero,
			MatchRate:       decimal.Zero,
		},
		Batches:   []entity.ReportBatchRow{},
		Breakdown: []entity.ReportBreakdownItem{},
	}

	days := newDaySeries(start, end)
	breakdown := map[entity.DifferenceType]*entity.ReportBreakdownItem{}
	scoped := len(scope.ChannelIDs) > 0 || len(scope.ProjectIDs) > 0

	for _, b := range ordered {
		rows := byBatch[b.ID]
		if scoped && len(rows) == 0 {
			continue
		}
		counters, sums := entity.Aggregate(rows)

		payload.Batches = append(payload.Batches, entity.ReportBatchRow{
			BatchID:            b.ID,
			BatchNo:            b.BatchNo,
			ReconciliationDate: b.DateString(),
			Status:             b.Status,
			DetailCount:        counters.Total,
			Matched:            counters.Matched,
			AutoMatched:        counters.AutoMatched,
			Mismatched:         counters.Mismatched,
			PlatformTotal:      sums.PlatformTotal,
			InternalTotal:      sums.InternalTotal,
			DifferenceTotal:    sums.DifferenceTotal,
		})

		s := &payload.Summary
		s.BatchCount++
		s.DetailCount += counters.Total
		s.Matched += counters.Matched
		s.AutoMatched += counters.AutoMatched
		s.Mismatched += counters.Mismatched
		s.PlatformTotal = s.PlatformTotal.Add(sums.PlatformTotal)
		s.InternalTotal = s.InternalTotal.Add(sums.InternalTotal)
		s.DifferenceTotal = s.DifferenceTotal.Add(sums.DifferenceTotal)

		days.add(b.DateString(), counters, sums)

		for _, d := range rows {
			if d.DifferenceType == "" || d.DifferenceType == entity.DifferenceNone {
				continue
			}
			item, ok := breakdown[d.DifferenceType]
			if !ok {
				item = &entity.ReportBreakdownItem{DifferenceType: d.DifferenceType, DifferenceTotal: decimal.Zero}
				breakdown[d.DifferenceType] = item
			}
			item.Count++
			item.DifferenceTotal = item.DifferenceTotal.Add(d.SpendDifference)
		}
	}

	payload.Summary.MatchRate = matchRate(payload.Summary.Matched+payload.Summary.AutoMatched, payload.Summary.DetailCount)

	for _, item := range breakdown {
		payload.Breakdown = append(payload.Breakdown, *item)
	}
	sort.Slice(payload.Breakdown, func(i, j int) bool {
		return payload.Breakdown[i].DifferenceType < payload.Breakdown[j].DifferenceType
	})

	return payload, days.chart()
}

func inScope(d *entity.Detail, scope entity.ReportScope) bool {
	return containsOrEmpty(scope.ChannelIDs, d.ChannelID) && containsOrEmpty(scope.ProjectIDs, d.ProjectID)
}

func containsOrEmpty(ids []int64, id int64) bool {
	if len(ids) == 0 {
		return true
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func matchRate(matched, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(matched)).Div(decimal.NewFromInt(int64(total))).Round(ratePlaces)
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

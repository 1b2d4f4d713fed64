package report

import (
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/shopspring/decimal"
)

type dayPoint struct {
	platform   decimal.Decimal
	internal   decimal.Decimal
	difference decimal.Decimal
	matched    int
	total      int
}

// daySeries keeps one zero-filled point per calendar day of the period
type daySeries struct {
	dates  []string
	points map[string]*dayPoint
}

func newDaySeries(start, end time.Time) *daySeries {
	s := &daySeries{points: map[string]*dayPoint{}}
	for day := truncate(start); !day.After(truncate(end)); day = day.AddDate(0, 0, 1) {
		key := day.Format(entity.DateLayout)
		s.dates = append(s.dates, key)
		s.points[key] = &dayPoint{platform: decimal.Zero, internal: decimal.Zero, difference: decimal.Zero}
	}
	return s
}

func (s *daySeries) add(date string, counters entity.BatchCounters, sums entity.BatchSums) {
	p, ok := s.points[date]
	if !ok {
		return
	}
	p.platform = p.platform.Add(sums.PlatformTotal)
	p.internal = p.internal.Add(sums.InternalTotal)
	p.difference = p.difference.Add(sums.DifferenceTotal)
	p.matched += counters.Matched + counters.AutoMatched
	p.total += counters.Total
}

func (s *daySeries) chart() *entity.ReportChart {
	c := &entity.ReportChart{
		Dates:      append([]string{}, s.dates...),
		Platform:   make([]decimal.Decimal, 0, len(s.dates)),
		Internal:   make([]decimal.Decimal, 0, len(s.dates)),
		Difference: make([]decimal.Decimal, 0, len(s.dates)),
		MatchRates: make([]decimal.Decimal, 0, len(s.dates)),
	}
	for _, date := range s.dates {
		p := s.points[date]
		c.Platform = append(c.Platform, p.platform)
		c.Internal = append(c.Internal, p.internal)
		c.Difference = append(c.Difference, p.difference)
		c.MatchRates = append(c.MatchRates, matchRate(p.matched, p.total))
	}
	return c
}

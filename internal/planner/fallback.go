package planner

import (
	"time"

	"github.com/robfig/cron/v3"
)

// filteredSchedule skips cron instants whose occurrence date fails days.
// The occurrence date is the fire date minus startOffset days, so a
// midpoint after midnight is attributed to the window's start date.
type filteredSchedule struct {
	inner       cron.Schedule
	days        DayFilter
	loc         *time.Location
	startOffset int
}

// maxFallbackSteps caps inner.Next calls for very frequent expressions.
const maxFallbackSteps = 1 << 20

func (f filteredSchedule) Next(t time.Time) time.Time {
	if f.days.IsZero() {
		return f.inner.Next(t)
	}
	horizon := t.AddDate(0, 0, maxSearchDays)
	for i := 0; i < maxFallbackSteps; i++ {
		n := f.inner.Next(t)
		if n.IsZero() || n.After(horizon) {
			return time.Time{}
		}
		if f.days.Matches(n.In(f.loc).AddDate(0, 0, -f.startOffset)) {
			return n
		}
		t = n
	}
	return time.Time{}
}

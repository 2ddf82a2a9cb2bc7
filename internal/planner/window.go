package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"greensched/internal/forecast"
)

type FixedWindowSpec struct {
	Start    TimeOfDay
	End      TimeOfDay
	Location *time.Location
	Duration time.Duration
	Zone     string
	Days     DayFilter
	// Cron replaces the computed midpoint fallback.
	Cron string
}

func (s FixedWindowSpec) Validate() Problems {
	var ps Problems
	ps = ps.add(CheckDuration(s.Duration))
	ps = ps.add(CheckZone(s.Zone))
	return ps.add(CheckCron(s.Cron))
}

// FixedWindow allows one run per eligible day inside [Start, End) of local
// time. End <= Start means the window crosses midnight.
type FixedWindow struct {
	spec     FixedWindowSpec
	fallback cron.Schedule
}

var _ Constraints = (*FixedWindow)(nil)

func NewFixedWindow(spec FixedWindowSpec) (*FixedWindow, error) {
	if spec.Location == nil {
		spec.Location = time.UTC
	}
	if ps := spec.Validate(); len(ps) > 0 {
		return nil, ps
	}

	w := &FixedWindow{spec: spec}
	if spec.Cron != "" {
		sched, err := ParseCron(spec.Cron)
		if err != nil {
			return nil, err
		}
		w.fallback = filteredSchedule{inner: sched, days: spec.Days, loc: spec.Location}
		return w, nil
	}

	mid, shift := w.midpoint()
	sched, err := ParseCron(fmt.Sprintf("0 %d %d * * *", mid.Minute, mid.Hour))
	if err != nil {
		return nil, err
	}
	w.fallback = filteredSchedule{inner: sched, days: spec.Days, loc: spec.Location, startOffset: shift}
	return w, nil
}

func (w *FixedWindow) Kind() Kind { return KindFixedWindow }
func (w *FixedWindow) Zone() string { return w.spec.Zone }
func (w *FixedWindow) Location() *time.Location { return w.spec.Location }
func (w *FixedWindow) Duration() time.Duration { return w.spec.Duration }
func (w *FixedWindow) Days() DayFilter { return w.spec.Days }
func (w *FixedWindow) Cron() string { return w.spec.Cron }
func (w *FixedWindow) Window() (start, end TimeOfDay) { return w.spec.Start, w.spec.End }

func (w *FixedWindow) overnight() bool { return w.spec.End.offset() <= w.spec.Start.offset() }

func (w *FixedWindow) String() string {
	return fmt.Sprintf("fixedWindow %s-%s %s duration=%s zone=%s %s",
		w.spec.Start, w.spec.End, w.spec.Location, w.spec.Duration, w.spec.Zone, w.spec.Days)
}

// Occurrence returns the first eligible window whose end is after t.
func (w *FixedWindow) Occurrence(t time.Time) (start, end time.Time, err error) {
	loc := w.spec.Location
	local := t.In(loc)
	y, m, d := local.Date()
	for i := -1; i < maxSearchDays; i++ {
		// Noon avoids DST edge cases when stepping dates.
		day := time.Date(y, m, d+i, 12, 0, 0, 0, loc)
		if !w.spec.Days.Matches(day) {
			continue
		}
		start = w.spec.Start.On(day, loc)
		end = w.spec.End.On(day, loc)
		if w.overnight() {
			end = w.spec.End.On(day.AddDate(0, 0, 1), loc)
		}
		// A start inside a DST gap is normalized forward and may pass the end.
		if end.Before(start) {
			end = start
		}
		if end.After(t) {
			return start, end, nil
		}
	}
	return time.Time{}, time.Time{}, errors.Wrapf(ErrNoOccurrence, "%s after %s", w, t.Format(time.RFC3339))
}

func (w *FixedWindow) Plan(ctx context.Context, src forecast.Source, req Request) (Period, error) {
	ws, we, err := w.Occurrence(req.after())
	if err != nil {
		return Period{}, err
	}

	lo := ws
	if req.Now.After(lo) {
		lo = req.Now
	}
	if !lo.Before(we) {
		// Window already over; the caller's grace rule decides.
		return Period{Start: we, End: we, WindowStart: ws, WindowEnd: we, Zone: w.spec.Zone}, nil
	}

	if src == nil {
		return Period{}, cannotPlan(nil, "no forecast source")
	}
	fc, err := src.Forecast(ctx, w.spec.Zone, lo, we)
	if err != nil {
		return Period{}, cannotPlan(err, "forecast for "+w.spec.Zone)
	}
	if !fc.Usable() {
		return Period{}, cannotPlan(nil, "forecast for "+w.spec.Zone+" has no samples")
	}

	best, ok := greenest(fc.Samples, lo, we, w.spec.Duration, we)
	if !ok {
		return Period{}, cannotPlan(nil, "forecast for "+w.spec.Zone+" does not cover the window")
	}
	return Period{
		Start:       best.start,
		End:         best.end,
		WindowStart: ws,
		WindowEnd:   we,
		Zone:        w.spec.Zone,
		Intensity:   best.score,
	}, nil
}

func (w *FixedWindow) Fallback(req Request) (time.Time, bool) {
	next := w.fallback.Next(req.after().In(w.spec.Location))
	return next, !next.IsZero()
}

// FallbackEnd returns the end of the window holding at, or at itself when
// the fallback instant lies outside every window.
func (w *FixedWindow) FallbackEnd(at time.Time) time.Time {
	ws, we, err := w.Occurrence(at)
	if err != nil || ws.After(at) {
		return at
	}
	return we
}

// midpoint returns the window's middle at minute precision and whether it
// falls on the day after the window's start.
func (w *FixedWindow) midpoint() (TimeOfDay, int) {
	s, e := w.spec.Start.offset(), w.spec.End.offset()
	if e <= s {
		e += 24 * time.Hour
	}
	mid := (s + (e-s)/2).Truncate(time.Minute)
	shift := 0
	if mid >= 24*time.Hour {
		mid -= 24 * time.Hour
		shift = 1
	}
	return TimeOfDay{Hour: int(mid / time.Hour), Minute: int(mid % time.Hour / time.Minute)}, shift
}

package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"greensched/internal/forecast"
)

type SuccessiveSpec struct {
	InitialStart    time.Time
	InitialMaxDelay time.Duration
	MinGap          time.Duration
	MaxGap          time.Duration
	Duration        time.Duration
	Zone            string
	Location        *time.Location
	Cron            string
}

func (s SuccessiveSpec) Validate() Problems {
	var ps Problems
	ps = ps.add(CheckDuration(s.Duration))
	ps = append(ps, CheckGaps(s.InitialMaxDelay, s.MinGap, s.MaxGap)...)
	ps = ps.add(CheckZone(s.Zone))
	if s.InitialStart.IsZero() {
		ps = append(ps, errors.New("initial start time must be set"))
	}
	return ps.add(CheckCron(s.Cron))
}

// Successive schedules each run between MinGap and MaxGap after the previous
// run's start. The first run lands in [InitialStart, InitialStart+InitialMaxDelay].
type Successive struct {
	spec     SuccessiveSpec
	fallback cron.Schedule
}

var _ Constraints = (*Successive)(nil)

func NewSuccessive(spec SuccessiveSpec) (*Successive, error) {
	if spec.Location == nil {
		spec.Location = time.UTC
	}
	if ps := spec.Validate(); len(ps) > 0 {
		return nil, ps
	}
	s := &Successive{spec: spec}
	if spec.Cron != "" {
		sched, err := ParseCron(spec.Cron)
		if err != nil {
			return nil, err
		}
		s.fallback = sched
	}
	return s, nil
}

func (s *Successive) Kind() Kind { return KindSuccessive }
func (s *Successive) Zone() string { return s.spec.Zone }
func (s *Successive) Location() *time.Location { return s.spec.Location }
func (s *Successive) Duration() time.Duration { return s.spec.Duration }
func (s *Successive) Cron() string { return s.spec.Cron }

func (s *Successive) Gaps() (initialDelay, minGap, maxGap time.Duration) {
	return s.spec.InitialMaxDelay, s.spec.MinGap, s.spec.MaxGap
}

func (s *Successive) String() string {
	return fmt.Sprintf("successive initial=%s delay<=%s gap=%s..%s duration=%s zone=%s",
		s.spec.InitialStart.In(s.spec.Location).Format(time.RFC3339), s.spec.InitialMaxDelay,
		s.spec.MinGap, s.spec.MaxGap, s.spec.Duration, s.spec.Zone)
}

// Bounds returns the allowed start range for the run after lastStart.
func (s *Successive) Bounds(lastStart time.Time) (lo, hi time.Time) {
	if lastStart.IsZero() {
		return s.spec.InitialStart, s.spec.InitialStart.Add(s.spec.InitialMaxDelay)
	}
	return lastStart.Add(s.spec.MinGap), lastStart.Add(s.spec.MaxGap)
}

// Plan ignores req.After: the range is anchored to req.LastStart.
func (s *Successive) Plan(ctx context.Context, src forecast.Source, req Request) (Period, error) {
	lo, hi := s.Bounds(req.LastStart)
	start := lo
	if req.Now.After(start) {
		start = req.Now
	}
	if start.After(hi) {
		return Period{Start: hi, End: hi, WindowStart: lo, WindowEnd: hi, Zone: s.spec.Zone}, nil
	}

	if src == nil {
		return Period{}, cannotPlan(nil, "no forecast source")
	}
	fc, err := src.Forecast(ctx, s.spec.Zone, start, hi.Add(s.spec.Duration))
	if err != nil {
		return Period{}, cannotPlan(err, "forecast for "+s.spec.Zone)
	}
	if !fc.Usable() {
		return Period{}, cannotPlan(nil, "forecast for "+s.spec.Zone+" has no samples")
	}

	best, ok := greenest(fc.Samples, start, hi, s.spec.Duration, time.Time{})
	if !ok {
		return Period{}, cannotPlan(nil, "forecast for "+s.spec.Zone+" does not cover the range")
	}
	return Period{
		Start:       best.start,
		End:         best.end,
		WindowStart: lo,
		WindowEnd:   hi,
		Zone:        s.spec.Zone,
		Intensity:   best.score,
	}, nil
}

// FallbackEnd is at: the next range is anchored to the run itself.
func (s *Successive) FallbackEnd(at time.Time) time.Time { return at }

// Fallback uses the explicit cron when set, else the middle of the current
// gap range. A middle already at or before req.After moves to the range end.
// When the whole range has passed the run is due at req.Now: the anchor
// moves with every run, so this cannot repeat an instant already fired.
func (s *Successive) Fallback(req Request) (time.Time, bool) {
	after := req.after()
	if s.fallback != nil {
		next := s.fallback.Next(after.In(s.spec.Location))
		return next, !next.IsZero()
	}
	lo, hi := s.Bounds(req.LastStart)
	for _, t := range []time.Time{lo.Add(hi.Sub(lo) / 2), hi} {
		if t.After(after) {
			return t, true
		}
	}
	if req.Now.IsZero() {
		return time.Time{}, false
	}
	return req.Now, true
}

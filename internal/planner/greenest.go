package planner

import (
	"sort"
	"time"

	"greensched/internal/forecast"
)

// scoreEpsilon is the tolerance under which two candidate scores tie.
const scoreEpsilon = 1e-9

// series is the forecast as a step function: sample i holds over
// [t[i], t[i+1]) and the last sample holds indefinitely.
type series struct {
	t      []time.Time
	v      []float64
	prefix []float64 // integral from t[0] to t[i], in value*seconds
}

func newSeries(samples []forecast.Sample) series {
	sorted := append([]forecast.Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var s series
	for _, smp := range sorted {
		// Duplicate timestamps: the later sample wins.
		if n := len(s.t); n > 0 && smp.Time.Equal(s.t[n-1]) {
			s.v[n-1] = smp.Value
			continue
		}
		s.t = append(s.t, smp.Time)
		s.v = append(s.v, smp.Value)
	}
	s.prefix = make([]float64, len(s.t))
	for i := 1; i < len(s.t); i++ {
		s.prefix[i] = s.prefix[i-1] + s.v[i-1]*s.t[i].Sub(s.t[i-1]).Seconds()
	}
	return s
}

func (s series) empty() bool { return len(s.t) == 0 }

func (s series) integral(x time.Time) float64 {
	if !x.After(s.t[0]) {
		return 0
	}
	i := sort.Search(len(s.t), func(i int) bool { return s.t[i].After(x) }) - 1
	return s.prefix[i] + s.v[i]*x.Sub(s.t[i]).Seconds()
}

// mean is the time-weighted mean over [a, b), counting only the part
// covered by the series.
func (s series) mean(a, b time.Time) (float64, bool) {
	if a.Before(s.t[0]) {
		a = s.t[0]
	}
	if !b.After(a) {
		return 0, false
	}
	return (s.integral(b) - s.integral(a)) / b.Sub(a).Seconds(), true
}

type choice struct {
	start time.Time
	end   time.Time
	score float64
}

// greenest picks the start in [lo, hi] whose run [start, start+dur) has the
// lowest mean intensity. Candidates are lo and every sample time inside
// (lo, hi]. A non-zero clip truncates runs at clip and excludes starts at or
// after it. Ties go to the earliest candidate.
func greenest(samples []forecast.Sample, lo, hi time.Time, dur time.Duration, clip time.Time) (choice, bool) {
	s := newSeries(samples)
	if s.empty() || hi.Before(lo) {
		return choice{}, false
	}

	candidates := []time.Time{lo}
	for _, t := range s.t {
		if !t.After(lo) || t.After(hi) {
			continue
		}
		if !clip.IsZero() && !t.Before(clip) {
			continue
		}
		candidates = append(candidates, t)
	}

	var (
		best  choice
		found bool
	)
	for _, start := range candidates {
		end := start.Add(dur)
		if !clip.IsZero() && end.After(clip) {
			end = clip
		}
		score, ok := s.mean(start, end)
		if !ok {
			continue
		}
		if !found || score < best.score-scoreEpsilon {
			best = choice{start: start, end: end, score: score}
			found = true
		}
	}
	return best, found
}

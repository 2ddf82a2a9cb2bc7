package planner

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/forecast"
)

func amsterdam(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return loc
}

// greenAt serves 300 everywhere except a 100 band for one hour from low.
func greenAt(loc *time.Location, low TimeOfDay) forecast.Source {
	start := low.offset()
	return forecast.Profile{
		Location: loc,
		Step:     15 * time.Minute,
		Base:     300,
		Bands:    []forecast.Band{{Start: start, End: (start + time.Hour) % (24 * time.Hour), Value: 100}},
	}
}

func mustWindow(t *testing.T, spec FixedWindowSpec) *FixedWindow {
	t.Helper()
	w, err := NewFixedWindow(spec)
	require.NoError(t, err)
	return w
}

func TestFixedWindowPlanPicksGreenestStart(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	w := mustWindow(t, FixedWindowSpec{
		Start: TimeOfDay{Hour: 5, Minute: 15}, End: TimeOfDay{Hour: 8, Minute: 15},
		Location: ams, Duration: 2 * time.Hour, Zone: "NL",
	})
	now := time.Date(2024, 6, 3, 4, 16, 0, 0, ams)

	p, err := w.Plan(context.Background(), greenAt(ams, TimeOfDay{Hour: 7, Minute: 15}), Request{Now: now})
	require.NoError(t, err)
	require.NoError(t, p.Validate())
	assert.Equal(t, time.Date(2024, 6, 3, 7, 15, 0, 0, ams), p.Start)
	assert.Equal(t, time.Date(2024, 6, 3, 8, 15, 0, 0, ams), p.End, "end is clipped to the window end")
	assert.Equal(t, time.Date(2024, 6, 3, 5, 15, 0, 0, ams), p.WindowStart)
	assert.InDelta(t, 100.0, p.Intensity, 1e-9)
}

func TestFixedWindowOvernightOccurrence(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	w := mustWindow(t, FixedWindowSpec{
		Start: TimeOfDay{Hour: 23, Minute: 15}, End: TimeOfDay{Hour: 2, Minute: 15},
		Location: ams, Duration: time.Hour, Zone: "NL",
	})

	tests := []struct {
		name      string
		after     time.Time
		wantStart time.Time
	}{
		{"evening before", time.Date(2024, 6, 3, 22, 16, 0, 0, ams), time.Date(2024, 6, 3, 23, 15, 0, 0, ams)},
		{"in progress after midnight", time.Date(2024, 6, 4, 1, 16, 0, 0, ams), time.Date(2024, 6, 3, 23, 15, 0, 0, ams)},
		{"at window end", time.Date(2024, 6, 4, 2, 15, 0, 0, ams), time.Date(2024, 6, 4, 23, 15, 0, 0, ams)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ws, we, err := w.Occurrence(tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, ws)
			assert.Equal(t, 3*time.Hour, we.Sub(ws))
		})
	}
}

func TestFixedWindowDayFilterUsesStartDate(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	mon, err := NewDayFilter([]time.Weekday{time.Monday}, nil)
	require.NoError(t, err)
	w := mustWindow(t, FixedWindowSpec{
		Start: TimeOfDay{Hour: 23, Minute: 15}, End: TimeOfDay{Hour: 2, Minute: 15},
		Location: ams, Duration: time.Hour, Zone: "NL", Days: mon,
	})

	// Tuesday 01:00 belongs to Monday's window.
	ws, _, err := w.Occurrence(time.Date(2024, 6, 4, 1, 0, 0, 0, ams))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 3, 23, 15, 0, 0, ams), ws)

	// Tuesday 03:00 is past it; next is the following Monday.
	ws, _, err = w.Occurrence(time.Date(2024, 6, 4, 3, 0, 0, 0, ams))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 23, 15, 0, 0, ams), ws)
}

func TestFixedWindowPastEndReturnsDegeneratePeriod(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	w := mustWindow(t, FixedWindowSpec{
		Start: TimeOfDay{Hour: 5, Minute: 15}, End: TimeOfDay{Hour: 8, Minute: 15},
		Location: ams, Duration: 2 * time.Hour, Zone: "NL",
	})
	called := false
	src := forecast.SourceFunc(func(context.Context, string, time.Time, time.Time) (forecast.Forecast, error) {
		called = true
		return forecast.Forecast{}, nil
	})

	now := time.Date(2024, 6, 3, 8, 15, 30, 0, ams)
	p, err := w.Plan(context.Background(), src, Request{Now: now, After: now.Add(-time.Minute)})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, time.Date(2024, 6, 3, 8, 15, 0, 0, ams), p.Start)
	assert.Equal(t, p.Start, p.End)
}

func TestFixedWindowUnavailableForecast(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	w := mustWindow(t, FixedWindowSpec{
		Start: TimeOfDay{Hour: 5, Minute: 15}, End: TimeOfDay{Hour: 8, Minute: 15},
		Location: ams, Duration: 2 * time.Hour, Zone: "NL",
	})
	now := time.Date(2024, 6, 3, 4, 16, 0, 0, ams)

	_, err := w.Plan(context.Background(), forecast.Disabled{}, Request{Now: now})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCannotPlan))
	assert.True(t, errors.Is(err, forecast.ErrUnavailable))

	empty := forecast.SourceFunc(func(context.Context, string, time.Time, time.Time) (forecast.Forecast, error) {
		return forecast.Forecast{Zone: "NL"}, nil
	})
	_, err = w.Plan(context.Background(), empty, Request{Now: now})
	assert.True(t, errors.Is(err, ErrCannotPlan))
}

func TestFixedWindowFallback(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	mon, err := NewDayFilter([]time.Weekday{time.Monday}, nil)
	require.NoError(t, err)
	sunday := time.Date(2024, 6, 2, 12, 0, 0, 0, ams)

	tests := []struct {
		name string
		spec FixedWindowSpec
		want time.Time
	}{
		{
			name: "computed midpoint",
			spec: FixedWindowSpec{Start: TimeOfDay{Hour: 5, Minute: 15}, End: TimeOfDay{Hour: 8, Minute: 15}},
			want: time.Date(2024, 6, 3, 6, 45, 0, 0, ams),
		},
		{
			name: "overnight midpoint belongs to start date",
			spec: FixedWindowSpec{Start: TimeOfDay{Hour: 23, Minute: 15}, End: TimeOfDay{Hour: 2, Minute: 15}, Days: mon},
			want: time.Date(2024, 6, 4, 0, 45, 0, 0, ams),
		},
		{
			name: "explicit cron",
			spec: FixedWindowSpec{Start: TimeOfDay{Hour: 5, Minute: 15}, End: TimeOfDay{Hour: 8, Minute: 15}, Cron: "0 15 10 * * ?"},
			want: time.Date(2024, 6, 2, 12, 0, 0, 0, ams).Add(22*time.Hour + 15*time.Minute),
		},
		{
			name: "explicit cron honours day filter",
			spec: FixedWindowSpec{Start: TimeOfDay{Hour: 5, Minute: 15}, End: TimeOfDay{Hour: 8, Minute: 15}, Cron: "15 10 * * *", Days: mon},
			want: time.Date(2024, 6, 3, 10, 15, 0, 0, ams),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec := tt.spec
			spec.Location, spec.Duration, spec.Zone = ams, time.Hour, "NL"
			w := mustWindow(t, spec)
			got, ok := w.Fallback(Request{Now: sunday, After: sunday})
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestFixedWindowFallbackEnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		start, end TimeOfDay
		cron       string
		at         time.Time
		want       time.Time
	}{
		{
			name:  "midpoint consumes the window",
			start: TimeOfDay{Hour: 5, Minute: 15}, end: TimeOfDay{Hour: 8, Minute: 15},
			at:   time.Date(2024, 6, 3, 6, 45, 0, 0, time.UTC),
			want: time.Date(2024, 6, 3, 8, 15, 0, 0, time.UTC),
		},
		{
			name:  "cron outside the window",
			start: TimeOfDay{Hour: 5, Minute: 15}, end: TimeOfDay{Hour: 8, Minute: 15}, cron: "0 15 10 * * ?",
			at:   time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC),
			want: time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC),
		},
		{
			name:  "overnight midpoint after midnight",
			start: TimeOfDay{Hour: 22}, end: TimeOfDay{Hour: 4},
			at:   time.Date(2024, 6, 4, 1, 0, 0, 0, time.UTC),
			want: time.Date(2024, 6, 4, 4, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := mustWindow(t, FixedWindowSpec{Start: tt.start, End: tt.end, Cron: tt.cron, Location: time.UTC, Duration: time.Hour, Zone: "NL"})
			got := w.FallbackEnd(tt.at)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestNewFixedWindowCollectsProblems(t *testing.T) {
	t.Parallel()

	_, err := NewFixedWindow(FixedWindowSpec{Cron: "not a cron"})
	require.Error(t, err)
	var ps Problems
	require.True(t, errors.As(err, &ps))
	assert.Len(t, ps, 3)
}

// randomSource returns a new random series for every call.
func randomSource(rng *rand.Rand) forecast.Source {
	return forecast.SourceFunc(func(_ context.Context, zone string, from, to time.Time) (forecast.Forecast, error) {
		step := time.Duration(1+rng.Intn(60)) * time.Minute
		fc := forecast.Forecast{Zone: zone}
		for ts := from.Truncate(step); ts.Before(to); ts = ts.Add(step) {
			fc.Samples = append(fc.Samples, forecast.Sample{Time: ts, Value: float64(rng.Intn(500))})
		}
		return fc, nil
	})
}

func TestFixedWindowPeriodStaysInsideWindow(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, ams)

	for i := 0; i < 500; i++ {
		var days DayFilter
		if rng.Intn(3) == 0 {
			var err error
			days, err = NewDayFilter([]time.Weekday{time.Weekday(rng.Intn(7))}, []int{1 + rng.Intn(31)})
			require.NoError(t, err)
		}
		spec := FixedWindowSpec{
			Start:    TimeOfDay{Hour: rng.Intn(24), Minute: rng.Intn(60)},
			End:      TimeOfDay{Hour: rng.Intn(24), Minute: rng.Intn(60)},
			Location: ams,
			Duration: time.Duration(1+rng.Intn(600)) * time.Minute,
			Zone:     "NL",
			Days:     days,
		}
		w := mustWindow(t, spec)
		now := base.Add(time.Duration(rng.Int63n(int64(180 * 24 * time.Hour))))

		p, err := w.Plan(context.Background(), randomSource(rng), Request{Now: now})
		require.NoError(t, err, w.String())

		assert.False(t, p.Start.Before(p.WindowStart), "%s: start %s before %s", w, p.Start, p.WindowStart)
		assert.False(t, p.End.After(p.WindowEnd), "%s: end %s after %s", w, p.End, p.WindowEnd)
		assert.False(t, p.End.Before(p.Start), w.String())
		assert.True(t, days.Matches(p.WindowStart), "%s: window on filtered date %s", w, p.WindowStart)

		fb, ok := w.Fallback(Request{Now: now, After: now})
		require.True(t, ok)
		fws, fwe, err := w.Occurrence(fb.Add(-time.Nanosecond))
		require.NoError(t, err)
		assert.False(t, fb.Before(fws) || fb.After(fwe), "%s: fallback %s outside %s..%s", w, fb, fws, fwe)
		assert.True(t, days.Matches(fws), "%s: fallback on filtered date", w)
	}
}

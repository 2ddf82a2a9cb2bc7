package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/forecast"
)

func TestScenarioFixedWindowFiresOncePerDay(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	h := newHarness(t, time.Date(2024, 6, 3, 4, 16, 0, 0, ams), greenFrom(ams, hm(7, 16)))
	rec := &recorder{}
	h.register(Definition{
		ID: "a", FixedWindow: "05:15 08:15", Duration: "PT2H",
		TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	assert.Equal(t, 0, rec.count())
	info := h.job("a")
	assertInstant(t, h.at(3, 7, 16), info.NextFire)
	assert.False(t, info.Fallback)

	h.clk.Set(h.at(3, 7, 15))
	assert.Equal(t, 0, rec.count())

	h.clk.Set(h.at(3, 7, 16))
	assert.Equal(t, 1, rec.count())

	h.clk.Shift(4 * time.Minute)
	assert.Equal(t, 1, rec.count(), "no second fire in the same window")

	h.clk.Set(h.at(4, 0, 1))
	assert.Equal(t, 1, rec.count())
	h.clk.Set(h.at(4, 7, 16))
	assert.Equal(t, 2, rec.count())
	assertInstants(t, []time.Time{h.at(3, 7, 16), h.at(4, 7, 16)}, rec.fireTimes())
}

func TestScenarioDayOfWeek(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	// 2024-06-02 is a Sunday.
	h := newHarness(t, time.Date(2024, 6, 2, 4, 16, 0, 0, ams), greenFrom(ams, hm(7, 16)))
	rec := &recorder{}
	h.register(Definition{
		ID: "b", FixedWindow: "05:15 08:15", Duration: "2h", DayOfWeek: "MON",
		TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	h.clk.Set(h.at(2, 7, 16))
	assert.Equal(t, 0, rec.count())

	h.clk.Shift(24 * time.Hour)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, time.Monday, rec.fireTimes()[0].Weekday())
}

func TestScenarioDayOfMonth(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	h := newHarness(t, time.Date(2024, 7, 1, 4, 16, 0, 0, ams), greenFrom(ams, hm(7, 16)))
	rec := &recorder{}
	h.register(Definition{
		ID: "c", FixedWindow: "05:15 08:15", Duration: "2h", DayOfMonth: "2,15",
		TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	for _, m := range []int{15, 16, 17} {
		h.clk.Set(h.at(1, 7, m))
	}
	h.clk.Set(h.at(1, 9, 0))
	assert.Equal(t, 0, rec.count())

	h.clk.Set(h.at(2, 7, 16))
	assert.Equal(t, 1, rec.count())

	h.clk.Set(h.at(14, 7, 16))
	h.clk.Set(h.at(14, 9, 0))
	assert.Equal(t, 1, rec.count())

	h.clk.Set(h.at(15, 7, 16))
	assert.Equal(t, 2, rec.count())
	assertInstants(t, []time.Time{h.at(2, 7, 16), h.at(15, 7, 16)}, rec.fireTimes())
}

func TestScenarioUnavailableForecastUsesExplicitCron(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	h := newHarness(t, time.Date(2024, 6, 3, 4, 16, 0, 0, ams), forecast.Disabled{})
	rec := &recorder{}
	h.register(Definition{
		ID: "d", FixedWindow: "05:15 08:15", Duration: "2h", Cron: "0 15 10 * * ?",
		TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	info := h.job("d")
	assert.True(t, info.Fallback)
	assertInstant(t, h.at(3, 10, 15), info.NextFire)
	assert.NotEmpty(t, info.LastPlanError)

	for _, tm := range []time.Time{h.at(3, 5, 15), h.at(3, 7, 16), h.at(3, 8, 14), h.at(3, 10, 14)} {
		h.clk.Set(tm)
	}
	assert.Equal(t, 0, rec.count())

	h.clk.Set(h.at(3, 10, 15))
	assert.Equal(t, 1, rec.count())
	h.clk.Set(h.at(3, 10, 16))
	h.clk.Set(h.at(3, 23, 0))
	assert.Equal(t, 1, rec.count())

	h.clk.Set(h.at(4, 10, 15))
	assert.Equal(t, 2, rec.count())
	for _, ft := range rec.fireTimes() {
		assert.Equal(t, 10, ft.Hour())
		assert.Equal(t, 15, ft.Minute())
	}
}

func TestScenarioOvernightWindow(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	h := newHarness(t, time.Date(2024, 6, 3, 22, 16, 0, 0, ams), greenFrom(ams, hm(1, 16)))
	rec := &recorder{}
	h.register(Definition{
		ID: "e", FixedWindow: "23:15 02:15", Duration: "2h",
		TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	assertInstant(t, h.at(4, 1, 16), h.job("e").NextFire)

	h.clk.Set(h.at(3, 23, 30))
	h.clk.Set(h.at(4, 1, 15))
	assert.Equal(t, 0, rec.count())

	h.clk.Set(h.at(4, 1, 16))
	assert.Equal(t, 1, rec.count())
	h.clk.Shift(4 * time.Minute)
	h.clk.Set(h.at(4, 2, 15))
	assert.Equal(t, 1, rec.count())
}

func TestGraceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		offset time.Duration
		fires  bool
	}{
		{"before deadline", -time.Nanosecond, true},
		{"at deadline", 0, true},
		{"after deadline", time.Nanosecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ams := amsterdam(t)
			h := newHarness(t, time.Date(2024, 6, 3, 4, 16, 0, 0, ams), greenFrom(ams, hm(7, 16)))
			rec := &recorder{}
			h.register(Definition{
				ID: "g", FixedWindow: "05:15 08:15", Duration: "2h", OverdueGracePeriod: "PT30M",
				TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL", Paused: true,
			}, rec, nil)
			h.start()

			h.clk.Set(h.at(3, 7, 16))
			require.Equal(t, 0, rec.count(), "paused")

			deadline := h.at(3, 8, 45)
			assertInstant(t, deadline, h.job("g").Deadline)

			require.NoError(t, h.svc.ResumeJob("g"))
			h.clk.Set(deadline.Add(tt.offset))

			info := h.job("g")
			if tt.fires {
				assert.Equal(t, 1, rec.count())
				assert.Zero(t, info.Missed)
			} else {
				assert.Equal(t, 0, rec.count())
				assert.EqualValues(t, 1, info.Missed)
				assertInstant(t, h.at(4, 7, 16), info.NextFire)
			}
		})
	}
}

func TestOverdueStartupFiresWithinGrace(t *testing.T) {
	t.Parallel()

	ams := amsterdam(t)
	// Started after the window closed but inside the grace period.
	h := newHarness(t, time.Date(2024, 6, 3, 8, 30, 0, 0, ams), greenFrom(ams, hm(7, 16)))
	rec := &recorder{}
	h.register(Definition{
		ID: "late", FixedWindow: "05:15 08:15", Duration: "2h", OverdueGracePeriod: "1h",
		TimeZone: "Europe/Amsterdam", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	require.Equal(t, 1, rec.count())
	assertInstant(t, h.at(3, 8, 30), rec.fireTimes()[0])

	h.clk.Set(h.at(3, 9, 0))
	assert.Equal(t, 1, rec.count())
	assertInstant(t, h.at(4, 7, 16), h.job("late").NextFire)
}

func TestSuccessiveFallbackCadence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), forecast.Disabled{})
	rec := &recorder{}
	h.register(Definition{
		ID: "s", Successive: "0s 1h 2h", Duration: "30m", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	require.Equal(t, 1, rec.count(), "first run is due at the initial start")

	h.clk.Shift(89 * time.Minute)
	assert.Equal(t, 1, rec.count())
	h.clk.Shift(time.Minute)
	assert.Equal(t, 2, rec.count(), "fallback is the middle of the gap range")

	// The next range is planned on the following tick.
	h.clk.Shift(time.Second)
	assertInstant(t, h.clk.Now().Add(90*time.Minute-time.Second), h.job("s").NextFire)
	h.clk.Shift(90*time.Minute - time.Second)
	assert.Equal(t, 3, rec.count())
}

func TestSuccessivePlansGreenestInGapRange(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	h := newHarness(t, start, greenFrom(time.UTC, hm(5, 0)))
	rec := &recorder{}
	h.register(Definition{
		ID: "s", Successive: "PT0S PT4H PT8H", Duration: "PT30M", CarbonIntensityZone: "NL",
	}, rec, nil)
	h.start()

	require.Equal(t, 1, rec.count())
	h.clk.Shift(time.Second)
	info := h.job("s")
	require.NotNil(t, info.Period)
	assertInstant(t, start.Add(5*time.Hour), info.NextFire)
	assertInstant(t, start.Add(4*time.Hour), info.Period.WindowStart)
	assertInstant(t, start.Add(8*time.Hour), info.Period.WindowEnd)

	h.clk.Set(start.Add(5 * time.Hour))
	assert.Equal(t, 2, rec.count())
}

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/forecast"
)

func steps(t0 time.Time, step time.Duration, values ...float64) []forecast.Sample {
	out := make([]forecast.Sample, len(values))
	for i, v := range values {
		out[i] = forecast.Sample{Time: t0.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

func TestGreenestPicksLowestMean(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	samples := steps(t0, time.Hour, 5, 4, 1, 1, 6, 6)

	got, ok := greenest(samples, t0, t0.Add(4*time.Hour), 2*time.Hour, time.Time{})
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Hour), got.start)
	assert.Equal(t, t0.Add(4*time.Hour), got.end)
	assert.InDelta(t, 1.0, got.score, 1e-12)
}

func TestGreenestTieGoesToEarliest(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	samples := steps(t0, time.Hour, 3, 2, 3, 2, 3)

	got, ok := greenest(samples, t0, t0.Add(4*time.Hour), time.Hour, time.Time{})
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), got.start)
}

func TestGreenestUsesMeanNotSum(t *testing.T) {
	t.Parallel()

	// Clipped at 03:00, the 02:00 start covers a single hour at 3. Its
	// integral is smaller than two hours at 2, but its mean is higher.
	t0 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	samples := steps(t0, time.Hour, 2, 2, 3)
	clip := t0.Add(3 * time.Hour)

	got, ok := greenest(samples, t0, clip, 2*time.Hour, clip)
	require.True(t, ok)
	assert.Equal(t, t0, got.start)
	assert.Equal(t, t0.Add(2*time.Hour), got.end)
	assert.InDelta(t, 2.0, got.score, 1e-12)
}

func TestGreenestMidSampleLowerBound(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	samples := steps(t0, time.Hour, 2, 8, 1)
	lo := t0.Add(30 * time.Minute)

	// Candidates: 00:30, 01:00, 02:00.
	got, ok := greenest(samples, lo, t0.Add(2*time.Hour), 30*time.Minute, time.Time{})
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Hour), got.start)

	got, ok = greenest(samples, lo, t0.Add(90*time.Minute), 30*time.Minute, time.Time{})
	require.True(t, ok)
	assert.Equal(t, lo, got.start, "the last sample time past hi is not a candidate")
}

func TestGreenestIgnoresUncoveredTime(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 6, 3, 1, 0, 0, 0, time.UTC)
	samples := steps(t0, time.Hour, 4)

	got, ok := greenest(samples, t0.Add(-2*time.Hour), t0.Add(-time.Hour), time.Hour, time.Time{})
	assert.False(t, ok, "no candidate overlaps the series")

	got, ok = greenest(samples, t0.Add(-30*time.Minute), t0, time.Hour, time.Time{})
	require.True(t, ok)
	assert.InDelta(t, 4.0, got.score, 1e-12)
}

func TestGreenestDuplicateTimestampsLastWins(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	samples := []forecast.Sample{{Time: t0, Value: 10}, {Time: t0, Value: 2}}
	got, ok := greenest(samples, t0, t0, time.Hour, time.Time{})
	require.True(t, ok)
	assert.InDelta(t, 2.0, got.score, 1e-12)
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualNotifiesInOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 6, 3, 4, 16, 0, 0, time.UTC)
	m := NewManual(start)

	var got []string
	m.OnChange(func(now time.Time) { got = append(got, "a@"+now.Format("15:04")) })
	cancelB := m.OnChange(func(now time.Time) { got = append(got, "b@"+now.Format("15:04")) })

	m.Shift(3 * time.Hour)
	require.Equal(t, []string{"a@07:16", "b@07:16"}, got)

	cancelB()
	m.Set(start.Add(4 * time.Hour))
	assert.Equal(t, []string{"a@07:16", "b@07:16", "a@08:16"}, got)
	assert.Equal(t, start.Add(4*time.Hour), m.Now())
}

func TestListenerMayReadClock(t *testing.T) {
	t.Parallel()

	m := NewManual(time.Unix(0, 0))
	var seen time.Time
	m.OnChange(func(time.Time) { seen = m.Now() })
	m.Shift(time.Minute)
	assert.Equal(t, time.Unix(60, 0), seen)
}

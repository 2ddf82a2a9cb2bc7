package planner

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"2h", 2 * time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{"PT2H", 2 * time.Hour, true},
		{"pt15m", 15 * time.Minute, true},
		{"P1DT30M", 24*time.Hour + 30*time.Minute, true},
		{"P1W", 7 * 24 * time.Hour, true},
		{"PT0.5S", 500 * time.Millisecond, true},
		{"PT0S", 0, true},
		{"-PT1M", -time.Minute, true},
		{"P", 0, false},
		{"PT", 0, false},
		{"P1M", 0, false},
		{"PT1D", 0, false},
		{"P1H", 0, false},
		{"PTXH", 0, false},
		{"two hours", 0, false},
		{"", 0, false},
		{"P1000000000D", 0, false},
		{"PT9999999999999H", 0, false},
		{"P52W", 52 * 7 * 24 * time.Hour, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDuration(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDurationErrorMentionsISO(t *testing.T) {
	t.Parallel()

	_, err := ParseDuration("PT2X")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ISO 8601 duration format")
	assert.NotEmpty(t, errors.FlattenHints(err))

	_, err = ParseDuration("P1000000000D")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestParseWindow(t *testing.T) {
	t.Parallel()

	start, end, err := ParseWindow("23:15 02:15")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 23, Minute: 15}, start)
	assert.Equal(t, TimeOfDay{Hour: 2, Minute: 15}, end)

	_, _, err = ParseWindow("05:15")
	require.Error(t, err)
	_, _, err = ParseWindow("05:15 25:00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixed window end")
}

func TestParseGaps(t *testing.T) {
	t.Parallel()

	d0, lo, hi, err := ParseGaps("PT0S 12h P1D")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d0)
	assert.Equal(t, 12*time.Hour, lo)
	assert.Equal(t, 24*time.Hour, hi)

	_, _, _, err = ParseGaps("1h 2h")
	require.Error(t, err)
}

func TestParseCronAcceptsQuartzQuestionMark(t *testing.T) {
	t.Parallel()

	_, err := ParseCron("0 15 10 * * ?")
	require.NoError(t, err)
	_, err = ParseCron("15 10 * * *")
	require.NoError(t, err)
	_, err = ParseCron("61 * * * *")
	require.Error(t, err)
}

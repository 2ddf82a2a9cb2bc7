package planner

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/sosodev/duration"
)

// cronParser accepts 5- or 6-field expressions (seconds optional), Quartz "?"
// and descriptors such as @daily. CRON_TZ= prefixes are honoured.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a fallback cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("cron expression is empty")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "invalid cron expression %q", expr),
			`use five or six fields, e.g. "0 15 10 * * ?" or "15 10 * * *"`)
	}
	return sched, nil
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute + time.Duration(t.Second)*time.Second
}

// On returns t on the date of day in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, loc)
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, errors.WithHint(errors.Newf("invalid time of day %q", s), `use "HH:MM", e.g. "05:15"`)
}

// ParseWindow parses "HH:MM HH:MM". The end may be before the start, which
// makes the window cross midnight.
func ParseWindow(s string) (start, end TimeOfDay, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return TimeOfDay{}, TimeOfDay{}, errors.WithHint(
			errors.Newf("invalid fixed window %q: expected two times of day", s),
			`use "HH:MM HH:MM", e.g. "05:15 08:15" or "23:15 02:15"`)
	}
	if start, err = ParseTimeOfDay(fields[0]); err != nil {
		return TimeOfDay{}, TimeOfDay{}, errors.Wrapf(err, "fixed window start")
	}
	if end, err = ParseTimeOfDay(fields[1]); err != nil {
		return TimeOfDay{}, TimeOfDay{}, errors.Wrapf(err, "fixed window end")
	}
	return start, end, nil
}

// ParseGaps parses "initialMaxDelay minimumGap maximumGap".
func ParseGaps(s string) (initialDelay, minGap, maxGap time.Duration, err error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return 0, 0, 0, errors.WithHint(
			errors.Newf("invalid successive spec %q: expected three durations", s),
			`use "initialMaxDelay minimumGap maximumGap", e.g. "0s 12h 24h" or "PT0S PT12H PT24H"`)
	}
	out := make([]time.Duration, 3)
	for i, f := range fields {
		d, err := ParseDuration(f)
		if err != nil {
			return 0, 0, 0, errors.Wrapf(err, "successive field %d", i+1)
		}
		out[i] = d
	}
	return out[0], out[1], out[2], nil
}

// ParseDuration accepts Go durations ("2h", "1h30m") and ISO 8601 durations
// ("PT2H", "P1DT30M", "PT0.5S"). Days are 24 hours and weeks 7 days.
// Years and months are rejected since their length is ambiguous.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("duration is empty")
	}
	body := strings.TrimPrefix(s, "-")
	if strings.HasPrefix(body, "P") || strings.HasPrefix(body, "p") {
		return parseISODuration(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WithHint(
			errors.Newf("invalid ISO 8601 duration format: %q", s),
			`use ISO 8601 ("PT2H", "P1DT30M") or Go syntax ("2h", "90m")`)
	}
	return d, nil
}

// isoDuration is the accepted ISO 8601 subset: weeks, days and a time part,
// without years or months.
var isoDuration = regexp.MustCompile(`^P(?:\d+(?:\.\d+)?W)?(?:\d+(?:\.\d+)?D)?(?:T(?:\d+(?:\.\d+)?H)?(?:\d+(?:\.\d+)?M)?(?:\d+(?:\.\d+)?S)?)?$`)

// maxISOSeconds keeps the conversion inside time.Duration.
const maxISOSeconds = float64(math.MaxInt64/int64(time.Second)) - 1

func parseISODuration(s string) (time.Duration, error) {
	bad := func() error {
		return errors.WithHint(
			errors.Newf("invalid ISO 8601 duration format: %q", s),
			`e.g. "PT2H", "PT15M", "P1DT30M"`)
	}

	body := strings.ToUpper(s)
	neg := strings.HasPrefix(body, "-")
	body = strings.TrimPrefix(body, "-")
	if body == "P" || strings.HasSuffix(body, "T") || !isoDuration.MatchString(body) {
		return 0, bad()
	}
	iso, err := duration.Parse(body)
	if err != nil {
		return 0, bad()
	}

	secs := iso.Weeks*7*86400 + iso.Days*86400 + iso.Hours*3600 + iso.Minutes*60 + iso.Seconds
	if secs > maxISOSeconds {
		return 0, errors.WithHint(
			errors.Newf("ISO 8601 duration %q is out of range", s),
			"durations are limited to about 292 years")
	}
	iso.Negative = false
	d := iso.ToTimeDuration()
	if neg {
		d = -d
	}
	return d, nil
}

package planner

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DayFilter restricts occurrences to certain dates. When both weekdays and
// month days are set, a date matching either is eligible (cron semantics).
// The zero value matches every date.
type DayFilter struct {
	weekdays  uint8  // bit i set => time.Weekday(i)
	monthDays uint32 // bit d set => day d of the month
}

func (f DayFilter) IsZero() bool { return f.weekdays == 0 && f.monthDays == 0 }

func (f DayFilter) Matches(t time.Time) bool {
	if f.IsZero() {
		return true
	}
	if f.weekdays&(1<<uint(t.Weekday())) != 0 {
		return true
	}
	return f.monthDays&(1<<uint(t.Day())) != 0
}

// Weekdays returns the configured weekdays, Monday first.
func (f DayFilter) Weekdays() []time.Weekday {
	var out []time.Weekday
	for i := 1; i <= 7; i++ {
		wd := time.Weekday(i % 7)
		if f.weekdays&(1<<uint(wd)) != 0 {
			out = append(out, wd)
		}
	}
	return out
}

func (f DayFilter) MonthDays() []int {
	var out []int
	for d := 1; d <= 31; d++ {
		if f.monthDays&(1<<uint(d)) != 0 {
			out = append(out, d)
		}
	}
	return out
}

func (f DayFilter) String() string {
	if f.IsZero() {
		return "every day"
	}
	var parts []string
	if wds := f.Weekdays(); len(wds) > 0 {
		names := make([]string, 0, len(wds))
		for _, wd := range wds {
			names = append(names, strings.ToUpper(wd.String()[:3]))
		}
		parts = append(parts, "dayOfWeek="+strings.Join(names, ","))
	}
	if mds := f.MonthDays(); len(mds) > 0 {
		nums := make([]string, 0, len(mds))
		for _, d := range mds {
			nums = append(nums, strconv.Itoa(d))
		}
		parts = append(parts, "dayOfMonth="+strings.Join(nums, ","))
	}
	return strings.Join(parts, " ")
}

// NewDayFilter combines weekday and month-day selections.
func NewDayFilter(weekdays []time.Weekday, monthDays []int) (DayFilter, error) {
	var f DayFilter
	for _, wd := range weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return DayFilter{}, errors.Newf("invalid weekday %d", wd)
		}
		f.weekdays |= 1 << uint(wd)
	}
	for _, d := range monthDays {
		if d < 1 || d > 31 {
			return DayFilter{}, errors.Newf("invalid day of month %d", d)
		}
		f.monthDays |= 1 << uint(d)
	}
	return f, nil
}

var weekdayNames = map[string]time.Weekday{
	"MON": time.Monday, "MONDAY": time.Monday,
	"TUE": time.Tuesday, "TUESDAY": time.Tuesday,
	"WED": time.Wednesday, "WEDNESDAY": time.Wednesday,
	"THU": time.Thursday, "THURSDAY": time.Thursday,
	"FRI": time.Friday, "FRIDAY": time.Friday,
	"SAT": time.Saturday, "SATURDAY": time.Saturday,
	"SUN": time.Sunday, "SUNDAY": time.Sunday,
}

// isoDay maps Monday..Sunday to 1..7.
func isoDay(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

func parseWeekday(tok string) (time.Weekday, error) {
	tok = strings.ToUpper(strings.TrimSpace(tok))
	if wd, ok := weekdayNames[tok]; ok {
		return wd, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 1 || n > 7 {
		return 0, errors.WithHint(
			errors.Newf("invalid day of week %q", tok),
			"use MON..SUN, full names, or ISO numbers 1 (Monday) to 7 (Sunday)")
	}
	return time.Weekday(n % 7), nil
}

// ParseWeekdays parses a comma list of weekdays and inclusive ranges such as
// "MON-FRI". A range may wrap around the week ("FRI-MON").
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var out []time.Weekday
	err := eachListItem(s, func(lo, hi string, isRange bool) error {
		a, err := parseWeekday(lo)
		if err != nil {
			return err
		}
		if !isRange {
			out = append(out, a)
			return nil
		}
		b, err := parseWeekday(hi)
		if err != nil {
			return err
		}
		for d := isoDay(a); ; d = d%7 + 1 {
			out = append(out, time.Weekday(d%7))
			if d == isoDay(b) {
				break
			}
		}
		return nil
	})
	return out, err
}

// ParseMonthDays parses a comma list of days (1..31) and inclusive ranges.
func ParseMonthDays(s string) ([]int, error) {
	var out []int
	err := eachListItem(s, func(lo, hi string, isRange bool) error {
		a, err := parseMonthDay(lo)
		if err != nil {
			return err
		}
		if !isRange {
			out = append(out, a)
			return nil
		}
		b, err := parseMonthDay(hi)
		if err != nil {
			return err
		}
		if b < a {
			return errors.Newf("invalid day of month range %d-%d", a, b)
		}
		for d := a; d <= b; d++ {
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

func parseMonthDay(tok string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil || n < 1 || n > 31 {
		return 0, errors.WithHint(errors.Newf("invalid day of month %q", tok), "use numbers 1 to 31")
	}
	return n, nil
}

func eachListItem(s string, fn func(lo, hi string, isRange bool) error) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return errors.Newf("empty item in list %q", s)
		}
		lo, hi, isRange := strings.Cut(item, "-")
		if err := fn(lo, hi, isRange); err != nil {
			return err
		}
	}
	return nil
}

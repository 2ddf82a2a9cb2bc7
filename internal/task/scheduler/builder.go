package scheduler

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"greensched/internal/planner"
)

// Definition holds the declarative fields of a job, as written by an operator.
type Definition struct {
	ID                  string
	FixedWindow         string // "HH:MM HH:MM"
	Successive          string // "initialMaxDelay minimumGap maximumGap"
	Duration            string
	DayOfWeek           string
	DayOfMonth          string
	Cron                string
	TimeZone            string
	CarbonIntensityZone string
	OverdueGracePeriod  string
	ConcurrentExecution string
	Paused              bool
}

type BuildOptions struct {
	// Now is the initial start of successive jobs. Defaults to time.Now.
	Now             func() time.Time
	DefaultGrace    time.Duration
	DefaultLocation *time.Location
}

func errorf(format string, args ...any) error { return errors.Newf(format, args...) }

// BuildJob parses def into a Job. It reports every problem it finds as one
// *ConfigurationError rather than stopping at the first.
func BuildJob(def Definition, inv Invoker, skip SkipPredicate, opts BuildOptions) (Job, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	id := strings.TrimSpace(def.ID)
	var ps []error
	add := func(err error) {
		if err == nil {
			return
		}
		var list planner.Problems
		if errors.As(err, &list) {
			ps = append(ps, list...)
			return
		}
		ps = append(ps, err)
	}

	if id == "" {
		add(errors.WithHint(errors.New("job id must be specified"), "every job needs a unique id"))
	}
	if inv == nil {
		add(errors.New("invoker must be set"))
	}
	if skip == nil {
		skip = NeverSkip{}
	}

	fixed := strings.TrimSpace(def.FixedWindow)
	succ := strings.TrimSpace(def.Successive)
	switch {
	case fixed != "" && succ != "":
		add(errors.WithHint(errors.New("fixedWindow and successive are mutually exclusive"), "keep exactly one of them"))
	case fixed == "" && succ == "":
		add(errors.WithHint(errors.New("either fixedWindow or successive must be specified"),
			`e.g. fixedWindow: "05:15 08:15" or successive: "0s 12h 24h"`))
	}

	var dur time.Duration
	durOK := false
	if s := strings.TrimSpace(def.Duration); s == "" {
		switch {
		case fixed != "":
			add(errors.New("duration must be specified when fixedWindow is specified"))
		case succ != "":
			add(errors.New("duration must be specified when successive is specified"))
		}
	} else if d, err := planner.ParseDuration(s); err != nil {
		add(errors.Wrap(err, "duration"))
	} else {
		dur, durOK = d, true
	}

	loc := opts.DefaultLocation
	if loc == nil {
		loc = time.UTC
	}
	if tz := strings.TrimSpace(def.TimeZone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			add(errors.WithHint(errors.Wrapf(err, "time zone %q", tz), `use an IANA zone id, e.g. "Europe/Amsterdam"`))
		} else {
			loc = l
		}
	}

	zone := strings.TrimSpace(def.CarbonIntensityZone)

	grace := opts.DefaultGrace
	if s := strings.TrimSpace(def.OverdueGracePeriod); s != "" {
		d, err := planner.ParseDuration(s)
		switch {
		case err != nil:
			add(errors.Wrap(err, "overdue grace period"))
		case d < 0:
			add(errors.Newf("overdue grace period must not be negative, got %s", d))
		default:
			grace = d
		}
	}

	policy, ok := ParseConcurrencyPolicy(def.ConcurrentExecution)
	if !ok {
		add(errors.WithHint(errors.Newf("unknown concurrent execution policy %q", def.ConcurrentExecution), "use PROCEED or SKIP"))
	}

	// Field checks run before the kind is known to be buildable, so problems
	// found together are reported together.
	cronExpr := strings.TrimSpace(def.Cron)
	add(planner.CheckZone(zone))
	add(planner.CheckCron(cronExpr))
	if durOK {
		add(planner.CheckDuration(dur))
	}
	days, err := parseDays(def.DayOfWeek, def.DayOfMonth)
	add(err)
	hasDays := strings.TrimSpace(def.DayOfWeek) != "" || strings.TrimSpace(def.DayOfMonth) != ""
	if hasDays && fixed == "" && succ != "" {
		add(errors.WithHint(errors.New("dayOfWeek and dayOfMonth are only valid with fixedWindow"),
			"successive jobs are spaced by their gaps, not by calendar days"))
	}

	var cons planner.Constraints
	switch {
	case fixed != "" && succ == "":
		start, end, err := planner.ParseWindow(fixed)
		add(err)
		if len(ps) == 0 {
			w, err := planner.NewFixedWindow(planner.FixedWindowSpec{
				Start: start, End: end, Location: loc, Duration: dur, Zone: zone, Days: days, Cron: cronExpr,
			})
			add(err)
			cons = w
		}
	case succ != "" && fixed == "":
		delay, minGap, maxGap, err := planner.ParseGaps(succ)
		if err != nil {
			add(err)
		} else {
			add(planner.CheckGaps(delay, minGap, maxGap).Err())
		}
		if len(ps) == 0 {
			s, err := planner.NewSuccessive(planner.SuccessiveSpec{
				InitialStart: opts.Now(), InitialMaxDelay: delay, MinGap: minGap, MaxGap: maxGap,
				Duration: dur, Zone: zone, Location: loc, Cron: cronExpr,
			})
			add(err)
			cons = s
		}
	}

	if len(ps) > 0 {
		return Job{}, &ConfigurationError{JobID: id, Problems: ps}
	}
	return Job{
		ID:          id,
		Constraints: cons,
		Invoker:     inv,
		Skip:        skip,
		Policy:      policy,
		Grace:       grace,
		Paused:      def.Paused,
	}, nil
}

func parseDays(dow, dom string) (planner.DayFilter, error) {
	var (
		wds  []time.Weekday
		mds  []int
		errs []error
	)
	if s := strings.TrimSpace(dow); s != "" {
		v, err := planner.ParseWeekdays(s)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "dayOfWeek"))
		}
		wds = v
	}
	if s := strings.TrimSpace(dom); s != "" {
		v, err := planner.ParseMonthDays(s)
		if err != nil {
			errs = append(errs, errors.Wrap(err, "dayOfMonth"))
		}
		mds = v
	}
	if len(errs) > 0 {
		return planner.DayFilter{}, planner.Problems(errs)
	}
	return planner.NewDayFilter(wds, mds)
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	logx "greensched/pkg/logx"
)

const (
	DefaultTickInterval          = time.Second
	DefaultForecastRetryInterval = 5 * time.Minute
	DefaultStopTimeout           = 30 * time.Second
	DefaultAdminAddr             = "127.0.0.1:8089"
	DefaultWorkers               = 4
	DefaultQueueSize             = 256
	DefaultHistorySize           = 200
)

// Validate checks everything that can be checked without building jobs.
// Job constraints are validated when the scheduler builds them.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if c.Logging.Level != "" && !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if a := c.Logging.Alert; a.Enabled {
		if strings.TrimSpace(a.URL) == "" {
			add(errors.New("logging.alert.url: required when alerts are enabled"))
		}
		if a.MinLevel != "" && !logx.ValidLevel(a.MinLevel) {
			add(fmt.Errorf("logging.alert.min_level: unknown level %q", a.MinLevel))
		}
		dur("logging.alert.timeout", a.Timeout)
	}

	s := c.Scheduler
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.tick_interval", s.TickInterval)
	dur("scheduler.default_overdue_grace", s.DefaultOverdueGrace)
	dur("scheduler.forecast_retry_interval", s.ForecastRetryInterval)
	dur("scheduler.stop_timeout", s.StopTimeout)

	if te := c.TaskEngine; te != nil {
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			add(errors.New("task_engine: sizes must be >= 0"))
		}
	}

	add(c.Forecast.validate())

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		dur("storage.busy_timeout", st.BusyTimeout)
	}

	if c.Admin.Enabled {
		host, _, err := net.SplitHostPort(c.AdminAddr())
		if err != nil {
			add(fmt.Errorf("admin.addr: %w", err))
		} else if !isLoopback(host) && strings.TrimSpace(c.Admin.Token) == "" {
			add(fmt.Errorf("admin.token: required when binding to non-loopback address %q", c.AdminAddr()))
		}
		dur("admin.read_timeout", c.Admin.ReadTimeout)
		dur("admin.write_timeout", c.Admin.WriteTimeout)
	}

	add(c.Notify.validate())

	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		id := strings.TrimSpace(j.ID)
		switch {
		case id == "":
			add(fmt.Errorf("%s.id: required", path))
		case seen[id]:
			add(fmt.Errorf("%s.id: duplicate job %q", path, id))
		}
		seen[id] = true
		add(j.validateRun(path))
	}

	return errors.Join(errs...)
}

func (f ForecastConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.Driver)) {
	case "", "none":
		return nil
	case "static":
		for zone, samples := range f.Series {
			for i, s := range samples {
				if _, err := time.Parse(time.RFC3339, s.Time); err != nil {
					return fmt.Errorf("forecast.series.%s[%d].time: %w", zone, i, err)
				}
			}
		}
		return nil
	case "profile":
		if f.Profile == nil {
			return errors.New("forecast.profile: required for the profile driver")
		}
		if f.Profile.Timezone != "" {
			if _, err := time.LoadLocation(f.Profile.Timezone); err != nil {
				return fmt.Errorf("forecast.profile.timezone: %w", err)
			}
		}
		if _, err := ParseDurationField("forecast.profile.step", f.Profile.Step); err != nil {
			return err
		}
		for i, b := range f.Profile.Bands {
			if _, err := ParseClock(b.From); err != nil {
				return fmt.Errorf("forecast.profile.bands[%d].from: %w", i, err)
			}
			if _, err := ParseClock(b.To); err != nil {
				return fmt.Errorf("forecast.profile.bands[%d].to: %w", i, err)
			}
		}
		return nil
	case "http":
		if f.HTTP == nil || strings.TrimSpace(f.HTTP.BaseURL) == "" {
			return errors.New("forecast.http.base_url: required for the http driver")
		}
		if _, err := ParseDurationField("forecast.http.timeout", f.HTTP.Timeout); err != nil {
			return err
		}
		_, err := ParseDurationField("forecast.http.cache_ttl", f.HTTP.CacheTTL)
		return err
	default:
		return fmt.Errorf("forecast.driver: unknown driver %q", f.Driver)
	}
}

// notifyEvents are the job events an alert can be sent for.
var notifyEvents = map[string]bool{
	"fired": true, "skipped": true, "dropped": true, "missed": true, "completed": true, "failed": true,
}

func (n NotifyConfig) validate() error {
	if !n.Enabled {
		return nil
	}
	var errs []error
	if strings.TrimSpace(n.URL) == "" {
		errs = append(errs, errors.New("notify.url: required when notify is enabled"))
	}
	for i, e := range n.Events {
		if !notifyEvents[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), "job.")] {
			errs = append(errs, fmt.Errorf("notify.events[%d]: unknown event %q", i, e))
		}
	}
	if n.RatePerSec < 0 || n.RetryMax < 0 {
		errs = append(errs, errors.New("notify: rate_per_sec and retry_max must be >= 0"))
	}
	if _, err := ParseDurationField("notify.dedup_window", n.DedupWindow); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notify.timeout", n.Timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NotifyEvents returns the configured events as bus event types.
func (n NotifyConfig) NotifyEvents() []string {
	out := make([]string, 0, len(n.Events))
	for _, e := range n.Events {
		out = append(out, "job."+strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), "job."))
	}
	return out
}

func (j JobConfig) validateRun(path string) error {
	if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(j.Run)) {
	case "command":
		if j.Command == nil || strings.TrimSpace(j.Command.Line) == "" {
			return fmt.Errorf("%s.command.line: required for run=command", path)
		}
	case "webhook":
		if j.Webhook == nil || strings.TrimSpace(j.Webhook.URL) == "" {
			return fmt.Errorf("%s.webhook.url: required for run=webhook", path)
		}
	case "systemd":
		if j.Systemd == nil || strings.TrimSpace(j.Systemd.Unit) == "" {
			return fmt.Errorf("%s.systemd.unit: required for run=systemd", path)
		}
	case "log", "":
	default:
		return fmt.Errorf("%s.run: unknown invoker %q", path, j.Run)
	}
	return nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// LogConfig maps the logging section to logx.
func (c *Config) LogConfig() logx.Config {
	a := c.Logging.Alert
	timeout, _ := ParseDurationField("logging.alert.timeout", a.Timeout)
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    a.Enabled,
			URL:        a.URL,
			MinLevel:   a.MinLevel,
			RatePerSec: a.RatePerSec,
			Timeout:    timeout,
		},
	}
}

func (c *Config) AdminAddr() string {
	if addr := strings.TrimSpace(c.Admin.Addr); addr != "" {
		return addr
	}
	return DefaultAdminAddr
}

// Location returns the scheduler's default zone, or UTC.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Durations holds the resolved scheduler durations.
type Durations struct {
	Tick          time.Duration
	Grace         time.Duration
	ForecastRetry time.Duration
	Stop          time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	s := c.Scheduler
	if d.Tick, err = ParseDurationOrDefault("scheduler.tick_interval", s.TickInterval, DefaultTickInterval); err != nil {
		return d, err
	}
	if d.Grace, err = ParseDurationField("scheduler.default_overdue_grace", s.DefaultOverdueGrace); err != nil {
		return d, err
	}
	if d.ForecastRetry, err = ParseDurationOrDefault("scheduler.forecast_retry_interval", s.ForecastRetryInterval, DefaultForecastRetryInterval); err != nil {
		return d, err
	}
	if d.Stop, err = ParseDurationOrDefault("scheduler.stop_timeout", s.StopTimeout, DefaultStopTimeout); err != nil {
		return d, err
	}
	return d, nil
}

// Engine returns the task engine sizes with defaults applied.
func (c *Config) Engine() TaskEngineConfig {
	out := TaskEngineConfig{Workers: DefaultWorkers, QueueSize: DefaultQueueSize, HistorySize: DefaultHistorySize}
	if te := c.TaskEngine; te != nil {
		if te.Workers > 0 {
			out.Workers = te.Workers
		}
		if te.QueueSize > 0 {
			out.QueueSize = te.QueueSize
		}
		if te.HistorySize > 0 {
			out.HistorySize = te.HistorySize
		}
	}
	return out
}

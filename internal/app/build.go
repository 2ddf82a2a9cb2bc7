package app

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"greensched/internal/admin"
	"greensched/internal/config"
	"greensched/internal/forecast"
	"greensched/internal/jobs"
	"greensched/internal/notifier"
	"greensched/internal/storage"
	"greensched/internal/task/engine"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

const defaultBusyTimeout = time.Second

func storageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, true, nil
}

func adminConfig(cfg *config.Config) (admin.Config, error) {
	rt, err := config.ParseDurationField("admin.read_timeout", cfg.Admin.ReadTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	wt, err := config.ParseDurationField("admin.write_timeout", cfg.Admin.WriteTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:      cfg.Admin.Enabled,
		Addr:         cfg.AdminAddr(),
		Token:        cfg.Admin.Token,
		Pprof:        cfg.Admin.Pprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, nil
}

func notifyConfig(cfg *config.Config, client *http.Client) (notifier.Config, notifier.Sender, error) {
	n := cfg.Notify
	dedup, err := config.ParseDurationField("notify.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	timeout, err := config.ParseDurationField("notify.timeout", n.Timeout)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	nc := notifier.Config{
		Enabled:     n.Enabled,
		Events:      n.NotifyEvents(),
		RatePerSec:  n.RatePerSec,
		RetryMax:    n.RetryMax,
		SendTimeout: timeout,
		DedupWindow: dedup,
	}
	return nc, &notifier.Webhook{URL: strings.TrimSpace(n.URL), Headers: n.Headers, Client: client}, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	e := cfg.Engine()
	return engine.Config{Workers: e.Workers, QueueSize: e.QueueSize, HistorySize: e.HistorySize}
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, config.Durations, error) {
	d, err := cfg.Durations()
	if err != nil {
		return scheduler.Config{}, d, err
	}
	return scheduler.Config{
		Enabled:               cfg.Scheduler.Enabled,
		Paused:                cfg.Scheduler.Paused,
		TickInterval:          d.Tick,
		ForecastRetryInterval: d.ForecastRetry,
	}, d, nil
}

// forecastSource builds the configured carbon-intensity provider.
func forecastSource(cfg *config.Config) (forecast.Source, error) {
	fc := cfg.Forecast
	switch strings.ToLower(strings.TrimSpace(fc.Driver)) {
	case "", "none":
		return forecast.Disabled{}, nil
	case "static":
		series := make(map[string][]forecast.Sample, len(fc.Series))
		for zone, samples := range fc.Series {
			out := make([]forecast.Sample, 0, len(samples))
			for i, s := range samples {
				t, err := time.Parse(time.RFC3339, s.Time)
				if err != nil {
					return nil, fmt.Errorf("forecast.series.%s[%d].time: %w", zone, i, err)
				}
				out = append(out, forecast.Sample{Time: t, Value: s.Value})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
			series[zone] = out
		}
		return forecast.Static{Series: series}, nil
	case "profile":
		pc := fc.Profile
		if pc == nil {
			return nil, errors.New("forecast.profile: required for the profile driver")
		}
		loc := cfg.Location()
		if pc.Timezone != "" {
			l, err := time.LoadLocation(pc.Timezone)
			if err != nil {
				return nil, fmt.Errorf("forecast.profile.timezone: %w", err)
			}
			loc = l
		}
		step, err := config.ParseDurationField("forecast.profile.step", pc.Step)
		if err != nil {
			return nil, err
		}
		p := forecast.Profile{Location: loc, Step: step, Base: pc.Base, Zones: pc.Zones}
		for i, b := range pc.Bands {
			from, err := config.ParseClock(b.From)
			if err != nil {
				return nil, fmt.Errorf("forecast.profile.bands[%d].from: %w", i, err)
			}
			to, err := config.ParseClock(b.To)
			if err != nil {
				return nil, fmt.Errorf("forecast.profile.bands[%d].to: %w", i, err)
			}
			p.Bands = append(p.Bands, forecast.Band{Start: from, End: to, Value: b.Value})
		}
		return p, nil
	case "http":
		hc := fc.HTTP
		if hc == nil {
			return nil, errors.New("forecast.http.base_url: required for the http driver")
		}
		timeout, err := config.ParseDurationField("forecast.http.timeout", hc.Timeout)
		if err != nil {
			return nil, err
		}
		ttl, err := config.ParseDurationField("forecast.http.cache_ttl", hc.CacheTTL)
		if err != nil {
			return nil, err
		}
		return forecast.NewHTTP(forecast.HTTPConfig{
			BaseURL:    hc.BaseURL,
			Token:      hc.Token,
			Timeout:    timeout,
			RatePerSec: float64(hc.RatePerSec),
			CacheTTL:   ttl,
		})
	default:
		return nil, fmt.Errorf("forecast.driver: unknown driver %q", fc.Driver)
	}
}

// BuildJobs turns every configured job into a registration unit. Problems
// of all jobs are joined so an operator sees them at once.
func BuildJobs(cfg *config.Config, client *http.Client, log logx.Logger, now func() time.Time) ([]scheduler.Job, error) {
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	opts := scheduler.BuildOptions{Now: now, DefaultGrace: d.Grace, DefaultLocation: cfg.Location()}

	var (
		out  []scheduler.Job
		errs []error
	)
	for _, jc := range cfg.Jobs {
		job, err := buildJob(jc, client, log, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, job)
	}
	return out, errors.Join(errs...)
}

func buildJob(jc config.JobConfig, client *http.Client, log logx.Logger, opts scheduler.BuildOptions) (scheduler.Job, error) {
	inv, err := jobs.Invoker(jc, client, log.With(logx.String("job", jc.ID)))
	if err != nil {
		return scheduler.Job{}, err
	}
	return scheduler.BuildJob(jobs.Definition(jc), inv, nil, opts)
}

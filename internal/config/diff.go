package config

import (
	"reflect"
	"sort"
	"strings"

	logx "greensched/pkg/logx"
)

// JobDiff lists job ids by how they changed between two configs.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
	// PauseOnly are changed jobs whose only difference is the paused flag.
	PauseOnly []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// SummarizeConfigChange returns the changed section names, log fields that
// are safe to emit (tokens and URLs with secrets are reduced to booleans),
// and the per-job diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, JobDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Bool("scheduler.paused", newCfg.Scheduler.Paused),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.tick_interval", newCfg.Scheduler.TickInterval),
		)
	}

	if oldCfg.Engine() != newCfg.Engine() {
		te := newCfg.Engine()
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
		)
	}

	if hashJSON(oldCfg.Forecast) != hashJSON(newCfg.Forecast) {
		changed = append(changed, "forecast")
		attrs = append(attrs, logx.String("forecast.driver", newCfg.Forecast.Driver))
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.AdminAddr()),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	if hashJSON(oldCfg.Notify) != hashJSON(newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.enabled", newCfg.Notify.Enabled),
			logx.Bool("notify.url_set", strings.TrimSpace(newCfg.Notify.URL) != ""),
			logx.Any("notify.events", newCfg.Notify.Events),
		)
	}

	jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jobs.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(jobs.Added)),
			logx.Int("jobs.removed", len(jobs.Removed)),
			logx.Int("jobs.changed", len(jobs.Changed)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobs
}

func diffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.ID)] = j
		}
		return m
	}
	oldM, newM := index(oldJobs), index(newJobs)

	var d JobDiff
	for id, n := range newM {
		o, ok := oldM[id]
		if !ok {
			d.Added = append(d.Added, id)
			continue
		}
		if hashJSON(o) == hashJSON(n) {
			continue
		}
		d.Changed = append(d.Changed, id)
		o.Paused = n.Paused
		if hashJSON(o) == hashJSON(n) {
			d.PauseOnly = append(d.PauseOnly, id)
		}
	}
	for id := range oldM {
		if _, ok := newM[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	sort.Strings(d.PauseOnly)
	return d
}

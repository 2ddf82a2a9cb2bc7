package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"greensched/internal/config"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

// restartSections are applied only at startup.
var restartSections = map[string]bool{
	"forecast":    true,
	"storage":     true,
	"task_engine": true,
}

// reloadLoop applies each published config as a diff against last.
func (a *App) reloadLoop(ctx context.Context, last *config.Config, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig moves the running app from prev to next without a restart
// where possible.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, diff := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(next.LogConfig())

	rebuildAll := false
	if prev != nil && prev.Scheduler != next.Scheduler {
		p, n := prev.Scheduler, next.Scheduler
		if p.Paused != n.Paused {
			var err error
			if n.Paused {
				err = a.sched.Pause()
			} else {
				err = a.sched.Resume()
			}
			if err != nil {
				a.log.Warn("scheduler pause not applied", logx.Err(err))
			}
		}
		// Jobs inherit the zone and grace defaults.
		rebuildAll = p.Timezone != n.Timezone || p.DefaultOverdueGrace != n.DefaultOverdueGrace
		p.Paused, p.Timezone, p.DefaultOverdueGrace, p.StopTimeout = n.Paused, n.Timezone, n.DefaultOverdueGrace, n.StopTimeout
		if p != n {
			a.log.Warn("scheduler settings changed; restart required for changes to take effect",
				logx.Bool("enabled", n.Enabled), logx.String("tick_interval", n.TickInterval))
		}
	}

	if slices.Contains(sections, "notify") {
		a.applyNotify(ctx, next)
	}

	if acfg, err := adminConfig(next); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(ctx, acfg)
	}

	a.applyJobs(next, diff, rebuildAll)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyJobs(next *config.Config, diff config.JobDiff, rebuildAll bool) {
	byID := make(map[string]config.JobConfig, len(next.Jobs))
	for _, jc := range next.Jobs {
		byID[strings.TrimSpace(jc.ID)] = jc
	}

	pauseOnly := make(map[string]bool, len(diff.PauseOnly))
	for _, id := range diff.PauseOnly {
		pauseOnly[id] = true
	}

	var rebuild []string
	if rebuildAll {
		rebuild = append(rebuild, diff.Added...)
		for id := range byID {
			if !slices.Contains(diff.Added, id) {
				rebuild = append(rebuild, id)
			}
		}
	} else {
		rebuild = append(rebuild, diff.Added...)
		for _, id := range diff.Changed {
			if pauseOnly[id] {
				a.setJobPaused(id, byID[id].Paused)
				continue
			}
			rebuild = append(rebuild, id)
		}
	}

	for _, id := range diff.Removed {
		if a.sched.Unregister(id) {
			a.log.Info("job removed", logx.String("job", id))
		}
	}
	if len(rebuild) == 0 {
		return
	}

	d, err := next.Durations()
	if err != nil {
		a.log.Warn("invalid scheduler durations; jobs not updated", logx.Err(err))
		return
	}
	opts := scheduler.BuildOptions{Now: time.Now, DefaultGrace: d.Grace, DefaultLocation: next.Location()}
	log := a.log.With(logx.String("comp", "jobs"))
	for _, id := range rebuild {
		job, err := buildJob(byID[id], a.client, log, opts)
		if err != nil {
			// The validator already rejected broken configs; keep the old job.
			a.log.Warn("job rebuild failed; keeping previous", logx.String("job", id), logx.Err(err))
			continue
		}
		replaced := a.sched.Unregister(id)
		if err := a.sched.Register(job); err != nil {
			a.log.Warn("job register failed", logx.String("job", id), logx.Err(err))
			continue
		}
		if replaced {
			a.log.Info("job updated", logx.String("job", id))
		} else {
			a.log.Info("job added", logx.String("job", id))
		}
	}
}

func (a *App) applyNotify(ctx context.Context, next *config.Config) {
	ncfg, sender, err := notifyConfig(next, a.client)
	if err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg, sender)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

func (a *App) setJobPaused(id string, paused bool) {
	var err error
	if paused {
		err = a.sched.PauseJob(id)
	} else {
		err = a.sched.ResumeJob(id)
	}
	if err != nil {
		a.log.Warn("job pause change failed", logx.String("job", id), logx.Err(err))
		return
	}
	a.log.Info("job pause changed", logx.String("job", id), logx.Bool("paused", paused))
}

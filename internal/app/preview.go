package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"greensched/internal/clock"
	"greensched/internal/config"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

// Preview plans the next occurrence of every configured job at now without
// running anything. It backs the plan command.
func Preview(ctx context.Context, cfg *config.Config, now time.Time) ([]scheduler.JobInfo, error) {
	src, err := forecastSource(cfg)
	if err != nil {
		return nil, err
	}
	jobs, err := BuildJobs(cfg, http.DefaultClient, logx.Nop(), func() time.Time { return now })
	if err != nil {
		return nil, err
	}

	// Globally paused: occurrences are planned but never fire.
	sched := scheduler.New(scheduler.Config{Enabled: true, Paused: true}, scheduler.Deps{
		Clock:    clock.Func(func() time.Time { return now }),
		Forecast: src,
		Log:      logx.Nop(),
	})
	var errs []error
	for _, job := range jobs {
		errs = append(errs, sched.Register(job))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sched.Start(ctx)
	defer func() { _ = sched.Stop(context.WithoutCancel(ctx)) }()
	sched.Evaluate(now)

	infos := sched.Jobs()
	// Report the job's own pause flag, not the preview's global pause.
	for i := range infos {
		infos[i].Paused, _ = sched.IsPaused(infos[i].ID)
	}
	return infos, nil
}

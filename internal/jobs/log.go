package jobs

import (
	"context"

	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

// Log only records the execution. It is useful for dry runs and demos.
type Log struct {
	Log     logx.Logger
	Message string
}

var _ scheduler.Invoker = Log{}

func (l Log) Blocking() bool { return false }

func (l Log) Invoke(_ context.Context, e scheduler.Execution) <-chan error {
	msg := l.Message
	if msg == "" {
		msg = "job executed"
	}
	l.Log.Info(msg,
		logx.String("job", e.JobID),
		logx.String("execution", e.ID),
		logx.Time("scheduled", e.ScheduledFireTime),
		logx.Bool("fallback", e.Fallback),
		logx.Bool("manual", e.Manual),
	)
	return nil
}

package jobs

import (
	"context"
	"time"

	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

type timeoutInvoker struct {
	scheduler.Delegate
	timeout time.Duration
}

// WithTimeout bounds each execution of inv. d <= 0 returns inv unchanged.
func WithTimeout(inv scheduler.Invoker, d time.Duration) scheduler.Invoker {
	if d <= 0 {
		return inv
	}
	return timeoutInvoker{Delegate: scheduler.Delegate{Next: inv}, timeout: d}
}

func (t timeoutInvoker) Invoke(ctx context.Context, e scheduler.Execution) <-chan error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	ch := t.Next.Invoke(ctx, e)
	if ch == nil {
		cancel()
		return nil
	}
	out := make(chan error, 1)
	go func() {
		defer close(out)
		defer cancel()
		select {
		case err, ok := <-ch:
			if ok {
				out <- err
			}
		case <-ctx.Done():
			out <- ctx.Err()
		}
	}()
	return out
}

type loggingInvoker struct {
	scheduler.Delegate
	log logx.Logger
}

// WithLogging logs the start and outcome of every execution of inv.
func WithLogging(inv scheduler.Invoker, log logx.Logger) scheduler.Invoker {
	return loggingInvoker{Delegate: scheduler.Delegate{Next: inv}, log: log}
}

func (l loggingInvoker) Invoke(ctx context.Context, e scheduler.Execution) <-chan error {
	log := l.log.With(logx.String("job", e.JobID), logx.String("execution", e.ID))
	log.Debug("job run starting", logx.Bool("manual", e.Manual))
	start := time.Now()

	ch := l.Next.Invoke(ctx, e)
	out := make(chan error, 1)
	report := func(err error) {
		if err != nil {
			log.Warn("job run failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		} else {
			log.Info("job run finished", logx.Duration("took", time.Since(start)))
		}
		out <- err
		close(out)
	}
	if ch == nil {
		report(nil)
		return out
	}
	if l.Blocking() {
		// Blocking invokers have finished by the time Invoke returns.
		report(<-ch)
		return out
	}
	go func() { report(<-ch) }()
	return out
}

package engine

import (
	"context"
	"runtime/debug"
	"time"

	"greensched/internal/eventbus"
	logx "greensched/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}
	t := qt.task

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.started", Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay}})
	}

	err := s.run(ctx, t)

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Error = item.Error
		s.failed.Add(1)
		s.log.Debug("task.failed", logx.String("task", t.Name), logx.Err(err), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "task.failed", Time: time.Now(), Data: ev})
		}
	} else {
		s.completed.Add(1)
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "task.finished", Time: time.Now(), Data: ev})
		}
	}
	s.record(item)
	s.finish(t, err)
}

// run converts a panic into *PanicError so one bad task cannot kill a worker.
func (s *Service) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = &PanicError{Value: r, Stack: stack}
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(stack))
		}
	}()
	return t.Run(ctx)
}

func (s *Service) finish(t Task, err error) {
	if t.OnDone == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task.on_done panic", logx.String("task", t.Name), logx.Any("panic", r))
		}
	}()
	t.OnDone(err)
}

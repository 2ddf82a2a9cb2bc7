package app

import (
	"context"
	"time"

	"greensched/internal/eventbus"
	"greensched/internal/storage"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

const appendTimeout = 5 * time.Second

// recordable lists the job events kept in history. Planning is transient
// and is only exposed through snapshots and metrics.
var recordable = map[string]bool{
	scheduler.EventFired:     true,
	scheduler.EventSkipped:   true,
	scheduler.EventDropped:   true,
	scheduler.EventMissed:    true,
	scheduler.EventCompleted: true,
	scheduler.EventFailed:    true,
}

// toRecord maps a job event to a history record. ok is false for events
// that are not kept.
func toRecord(e eventbus.Event) (storage.Record, bool) {
	ev, isJob := e.Data.(scheduler.JobEvent)
	if !isJob || !recordable[e.Type] {
		return storage.Record{}, false
	}
	rec := storage.Record{
		At:                e.Time,
		Event:             e.Type,
		JobID:             ev.JobID,
		ExecutionID:       ev.ExecutionID,
		FireTime:          ev.FireTime,
		ScheduledFireTime: ev.ScheduledFireTime,
		Fallback:          ev.Fallback,
		Manual:            ev.Manual,
		TookMS:            ev.Duration.Milliseconds(),
		Error:             ev.Error,
	}
	if p := ev.Period; p != nil {
		rec.Zone = p.Zone
		rec.WindowStart = p.WindowStart
		rec.WindowEnd = p.WindowEnd
		rec.Intensity = p.Intensity
	}
	return rec, true
}

// recordHistory appends job events to store until ctx is done. Events
// already buffered when ctx ends are still written.
func recordHistory(ctx context.Context, bus eventbus.Bus, store storage.Store, log logx.Logger) {
	events, unsub := bus.Subscribe(256, "job.")
	defer unsub()

	write := func(e eventbus.Event) {
		rec, keep := toRecord(e)
		if !keep {
			return
		}
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
		err := store.Append(actx, rec)
		cancel()
		if err != nil {
			log.Warn("history append failed", logx.String("job", rec.JobID), logx.String("event", rec.Event), logx.Err(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					write(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			write(e)
		}
	}
}

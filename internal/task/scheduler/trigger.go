package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"greensched/internal/forecast"
	"greensched/internal/planner"
)

// occurrence is the next instant a trigger intends to fire.
type occurrence struct {
	fireAt   time.Time
	deadline time.Time
	// end is where the next search starts once this occurrence is consumed.
	end      time.Time
	period   *planner.Period
	fallback bool
	req      planner.Request
}

type triggerCounters struct {
	fired     atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
	missed    atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

type trigger struct {
	job Job

	mu            sync.Mutex
	occ           *occurrence
	consumedUntil time.Time
	// anchor is the start of the previous run for successive constraints.
	anchor       time.Time
	lastFire     time.Time
	lastAttempt  time.Time
	lastPlanErr  error
	lastWarnAt   time.Time
	paused       bool
	terminal     bool
	planFailures uint64

	running atomic.Int32
	n       triggerCounters
}

func newTrigger(job Job) *trigger {
	return &trigger{job: job, paused: job.Paused}
}

// outcome is what one evaluation decided. At most one of the execution
// fields is set.
type outcome struct {
	planned *occurrence
	// next is the occurrence planned right after this one was consumed.
	next     *occurrence
	missed   []*occurrence
	dispatch *Execution
	skipped  *Execution
	dropped  *Execution
	planErr  error
	warn     bool
	// skipErr is a panic recovered from the skip predicate.
	skipErr error
}

// maxStepsPerTick bounds abandon-then-replan rounds in a single evaluation.
const maxStepsPerTick = 8

// evaluate advances the trigger to now. The caller acts on the outcome
// after the trigger lock is released.
func (tr *trigger) evaluate(ctx context.Context, src forecast.Source, now time.Time, globalPaused bool, cfg Config) outcome {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var out outcome
	if tr.terminal {
		return out
	}

	for step := 0; step < maxStepsPerTick; step++ {
		if tr.occ == nil {
			occ, err := tr.plan(ctx, src, now)
			if err != nil {
				out.planErr = err
				out.warn = tr.shouldWarn(now, cfg.PlanWarnEvery)
			}
			if occ == nil {
				return out
			}
			out.planned = occ
		} else if tr.occ.fallback && now.Before(tr.occ.fireAt) && tr.retryDue(now, cfg.ForecastRetryInterval) {
			if occ := tr.replan(ctx, src, now); occ != nil {
				out.planned = occ
			}
		}

		occ := tr.occ
		if now.Before(occ.fireAt) {
			return out
		}
		if now.After(occ.deadline) {
			tr.n.missed.Add(1)
			out.missed = append(out.missed, occ)
			tr.consume(occ, now, false)
			continue
		}
		if tr.paused || globalPaused {
			return out
		}

		exec := tr.execution(occ, now)
		skip, err := tr.skip(exec)
		out.skipErr = err
		switch {
		case skip:
			tr.n.skipped.Add(1)
			tr.consume(occ, now, true)
			out.skipped = &exec
		case tr.job.Policy == Skip && tr.running.Load() > 0:
			tr.n.dropped.Add(1)
			tr.consume(occ, now, false)
			out.dropped = &exec
		default:
			tr.running.Add(1)
			tr.n.fired.Add(1)
			tr.consume(occ, now, true)
			out.dispatch = &exec
		}

		// Plan ahead so the next instant is known; it fires on a later tick.
		next, err := tr.plan(ctx, src, now)
		if err != nil && out.planErr == nil {
			out.planErr = err
			out.warn = tr.shouldWarn(now, cfg.PlanWarnEvery)
		}
		out.next = next
		return out
	}
	return out
}

func (tr *trigger) request(now time.Time) planner.Request {
	after := now.Add(-tr.job.Grace)
	if tr.consumedUntil.After(after) {
		after = tr.consumedUntil
	}
	return planner.Request{Now: now, After: after, LastStart: tr.anchor}
}

// plan computes a fresh occurrence. A forecast problem yields a fallback
// occurrence together with the planning error.
func (tr *trigger) plan(ctx context.Context, src forecast.Source, now time.Time) (*occurrence, error) {
	req := tr.request(now)
	tr.lastAttempt = now

	p, err := tr.callPlan(ctx, src, req)
	if err == nil {
		err = p.Validate()
		if err != nil {
			err = errors.Mark(err, planner.ErrCannotPlan)
		}
	}
	if err == nil {
		tr.occ = tr.planned(p, req)
		tr.lastPlanErr = nil
		return tr.occ, nil
	}

	tr.planFailures++
	tr.lastPlanErr = err
	if !errors.Is(err, planner.ErrCannotPlan) {
		return nil, err
	}
	at, ok := tr.job.Constraints.Fallback(req)
	if !ok {
		return nil, err
	}
	tr.occ = &occurrence{
		fireAt:   at,
		deadline: at.Add(tr.job.Grace),
		end:      tr.job.Constraints.FallbackEnd(at),
		fallback: true,
		req:      req,
	}
	return tr.occ, err
}

// replan retries the forecast for a waiting fallback occurrence.
func (tr *trigger) replan(ctx context.Context, src forecast.Source, now time.Time) *occurrence {
	req := tr.occ.req
	req.Now = now
	tr.lastAttempt = now

	p, err := tr.callPlan(ctx, src, req)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		return nil
	}
	tr.occ = tr.planned(p, req)
	tr.lastPlanErr = nil
	return tr.occ
}

// callPlan turns a panic in the constraints or the forecast source into a
// planning error, so the fallback takes over.
func (tr *trigger) callPlan(ctx context.Context, src forecast.Source, req planner.Request) (p planner.Period, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = planner.Period{}, errors.Mark(recovered("planner", r), planner.ErrCannotPlan)
		}
	}()
	return tr.job.Constraints.Plan(ctx, src, req)
}

// skip asks the predicate. A panicking predicate does not skip.
func (tr *trigger) skip(exec Execution) (skip bool, err error) {
	if tr.job.Skip == nil {
		return false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			skip, err = false, recovered("skip predicate", r)
		}
	}()
	return tr.job.Skip.Skip(exec), nil
}

func (tr *trigger) planned(p planner.Period, req planner.Request) *occurrence {
	return &occurrence{
		fireAt:   p.Start,
		deadline: p.WindowEnd.Add(tr.job.Grace),
		end:      p.WindowEnd,
		period:   &p,
		req:      req,
	}
}

func (tr *trigger) retryDue(now time.Time, every time.Duration) bool {
	return every <= 0 || !now.Before(tr.lastAttempt.Add(every))
}

// consume clears the occurrence. Nothing at or before max(occ.end, now)
// is planned again, so a late run does not also catch up on the instants it
// overlapped. fired marks a run that counts as started (dispatched or
// skipped). Successive constraints re-anchor at now in every case, which
// keeps the cadence after a missed or dropped run.
func (tr *trigger) consume(occ *occurrence, now time.Time, fired bool) {
	until := occ.end
	if now.After(until) {
		until = now
	}
	if until.After(tr.consumedUntil) {
		tr.consumedUntil = until
	}
	if fired {
		tr.lastFire = now
	}
	if tr.job.Constraints.Kind() == planner.KindSuccessive {
		tr.anchor = now
	}
	tr.occ = nil
}

func (tr *trigger) execution(occ *occurrence, now time.Time) Execution {
	return Execution{
		ID:                uuid.NewString(),
		JobID:             tr.job.ID,
		FireTime:          now,
		ScheduledFireTime: occ.fireAt,
		Period:            occ.period,
		Fallback:          occ.fallback,
	}
}

func (tr *trigger) shouldWarn(now time.Time, every time.Duration) bool {
	if !tr.lastWarnAt.IsZero() && now.Sub(tr.lastWarnAt) < every {
		return false
	}
	tr.lastWarnAt = now
	return true
}

func (tr *trigger) setPaused(p bool) {
	tr.mu.Lock()
	tr.paused = p
	tr.mu.Unlock()
}

func (tr *trigger) isPaused() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.paused
}

func (tr *trigger) stop() {
	tr.mu.Lock()
	tr.terminal = true
	tr.occ = nil
	tr.mu.Unlock()
}

func (tr *trigger) info(globalPaused bool) JobInfo {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	info := JobInfo{
		ID:          tr.job.ID,
		Kind:        string(tr.job.Constraints.Kind()),
		Constraints: tr.job.Constraints.String(),
		Zone:        tr.job.Constraints.Zone(),
		Policy:      tr.job.Policy,
		Grace:       tr.job.Grace,
		Blocking:    tr.job.Invoker.Blocking(),
		Paused:      tr.paused || globalPaused,
		Running:     int(tr.running.Load()),
		LastFire:    tr.lastFire,
		Fired:       tr.n.fired.Load(),
		Skipped:     tr.n.skipped.Load(),
		Dropped:     tr.n.dropped.Load(),
		Missed:      tr.n.missed.Load(),
		Completed:   tr.n.completed.Load(),
		Failed:      tr.n.failed.Load(),

		PlanFailures: tr.planFailures,
	}
	if tr.lastPlanErr != nil {
		info.LastPlanError = tr.lastPlanErr.Error()
	}
	if occ := tr.occ; occ != nil {
		info.NextFire = occ.fireAt
		info.Deadline = occ.deadline
		info.Fallback = occ.fallback
		if occ.period != nil {
			p := *occ.period
			info.Period = &p
		}
	}
	return info
}

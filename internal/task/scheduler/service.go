package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"greensched/internal/clock"
	"greensched/internal/eventbus"
	"greensched/internal/forecast"
	"greensched/internal/planner"
	rtsup "greensched/internal/runtime/supervisor"
	"greensched/internal/task/engine"
	logx "greensched/pkg/logx"
)

// ErrNotStarted is returned by Execute before Start.
var ErrNotStarted = errors.New("scheduler: not started")

const dropWarnEvery = 5 * time.Second

type Service struct {
	mu   sync.Mutex
	cfg  Config
	clk  clock.Clock
	src  forecast.Source
	disp *engine.Service
	log  logx.Logger
	bus  eventbus.Bus

	jobs []*trigger
	byID map[string]*trigger

	// tickMu serializes evaluations with Stop and Execute.
	tickMu   sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sup      *rtsup.Supervisor
	started  bool
	shutdown bool

	paused   atomic.Bool
	running  atomic.Int64
	inflight sync.WaitGroup

	lastDropWarnAt atomic.Int64
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}
	src := deps.Forecast
	if src == nil {
		src = forecast.Disabled{}
	}
	s := &Service{
		cfg:  cfg.withDefaults(),
		clk:  clk,
		src:  src,
		disp: deps.Dispatcher,
		log:  log.With(logx.String("comp", "scheduler")),
		bus:  deps.Bus,
		byID: map[string]*trigger{},
		ctx:  context.Background(),
	}
	s.paused.Store(cfg.Paused)
	return s
}

// Register adds a job. Jobs are evaluated in registration order.
func (s *Service) Register(job Job) error {
	if job.Skip == nil {
		job.Skip = NeverSkip{}
	}
	if job.Policy == "" {
		job.Policy = Proceed
	}
	job.ID = strings.TrimSpace(job.ID)
	if err := job.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrShutdown
	}
	if _, ok := s.byID[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	tr := newTrigger(job)
	s.jobs = append(s.jobs, tr)
	s.byID[job.ID] = tr
	s.log.Debug("job registered", logx.String("job", job.ID), logx.String("constraints", job.Constraints.String()))
	return nil
}

// Unregister removes a job. Runs already dispatched are not affected. It
// reports false for unknown jobs and after Stop.
func (s *Service) Unregister(id string) bool {
	s.mu.Lock()
	tr, ok := s.byID[id]
	ok = ok && !s.shutdown
	if ok {
		delete(s.byID, id)
		for i, t := range s.jobs {
			if t == tr {
				s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if ok {
		tr.stop()
	}
	return ok
}

// Start is idempotent. It starts the dispatcher and, with a positive
// TickInterval, a supervised tick loop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started || s.shutdown {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	cfg := s.cfg
	runCtx := s.ctx
	if cfg.Enabled && cfg.TickInterval > 0 {
		s.sup = rtsup.NewSupervisor(runCtx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	}
	sup := s.sup
	n := len(s.jobs)
	s.mu.Unlock()

	if s.disp != nil {
		s.disp.Start(runCtx)
	}
	if !cfg.Enabled {
		s.log.Info("scheduler disabled", logx.Int("jobs", n))
		return
	}
	if sup != nil {
		sup.GoRestart("scheduler.tick", func(c context.Context) error {
			return s.tickLoop(c, cfg.TickInterval)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("scheduler started",
		logx.Int("jobs", n),
		logx.Duration("tick", cfg.TickInterval),
		logx.Bool("paused", s.paused.Load()),
	)
}

func (s *Service) tickLoop(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	s.Evaluate(s.clk.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Evaluate(s.clk.Now())
		}
	}
}

// Stop ends ticking and waits for in-flight runs until ctx is done. Running
// invocations are never canceled. The Service cannot be restarted.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	// Aborts a forecast fetch that holds the tick.
	if cancel != nil {
		cancel()
	}

	s.tickMu.Lock()
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.tickMu.Unlock()
		return nil
	}
	s.shutdown = true
	sup := s.sup
	trs := append([]*trigger(nil), s.jobs...)
	s.mu.Unlock()
	s.tickMu.Unlock()

	s.log.Info("stop requested", logx.Int64("in_flight", s.running.Load()))
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	for _, tr := range trs {
		tr.stop()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn("stop timed out waiting for running jobs", logx.Int64("in_flight", s.running.Load()), logx.Err(err))
	}

	if s.disp != nil {
		if derr := s.disp.Stop(ctx); derr != nil && err == nil {
			err = derr
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	return err
}

// Evaluate runs one tick at now. Calls are serialized; triggers are
// evaluated in registration order and a failing job does not affect others.
func (s *Service) Evaluate(now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	ok := s.started && !s.shutdown && s.cfg.Enabled
	trs := append([]*trigger(nil), s.jobs...)
	ctx, cfg := s.ctx, s.cfg
	s.mu.Unlock()
	if !ok {
		return
	}

	paused := s.paused.Load()
	for _, tr := range trs {
		s.evaluateOne(ctx, tr, now, paused, cfg)
	}
}

// evaluateOne keeps a panic in one job's tick from reaching the others.
func (s *Service) evaluateOne(ctx context.Context, tr *trigger, now time.Time, paused bool, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job evaluation panicked", logx.String("job", tr.job.ID), logx.Any("panic", r))
		}
	}()
	out := tr.evaluate(ctx, s.src, now, paused, cfg)
	s.apply(tr, out, now)
}

func (s *Service) apply(tr *trigger, out outcome, now time.Time) {
	id := tr.job.ID
	var pe *PanicError
	if err := out.planErr; err != nil {
		if errors.As(err, &pe) {
			if out.warn {
				s.log.Warn("planning panicked, using fallback", logx.String("job", id), logx.Err(err), logx.String("stack", pe.Stack))
			}
		} else if planner.IsCannotPlan(err) {
			s.log.Debug("planning unavailable, using fallback", logx.String("job", id), logx.Err(err))
		} else if out.warn {
			s.log.Warn("planning failed", logx.String("job", id), logx.Err(err))
		}
	}
	if err := out.skipErr; err != nil {
		s.log.Warn("skip predicate panicked, running anyway", logx.String("job", id), logx.Err(err))
	}
	for _, occ := range out.missed {
		s.log.Info("occurrence missed", logx.String("job", id), logx.Time("fire_at", occ.fireAt), logx.Time("deadline", occ.deadline))
		s.publish(EventMissed, now, JobEvent{JobID: id, ScheduledFireTime: occ.fireAt, Period: occ.period, Fallback: occ.fallback})
	}
	if occ := out.planned; occ != nil {
		s.log.Debug("occurrence planned", logx.String("job", id), logx.Time("fire_at", occ.fireAt), logx.Bool("fallback", occ.fallback))
		s.publish(EventPlanned, now, JobEvent{JobID: id, ScheduledFireTime: occ.fireAt, Period: occ.period, Fallback: occ.fallback})
	}
	switch {
	case out.skipped != nil:
		s.log.Debug("execution skipped", logx.String("job", id), logx.String("execution", out.skipped.ID))
		s.publish(EventSkipped, now, execEvent(*out.skipped))
	case out.dropped != nil:
		s.log.Debug("execution dropped: still running", logx.String("job", id), logx.String("execution", out.dropped.ID))
		s.publish(EventDropped, now, execEvent(*out.dropped))
	case out.dispatch != nil:
		_ = s.dispatch(tr, *out.dispatch)
	}
	if occ := out.next; occ != nil {
		s.log.Debug("occurrence planned", logx.String("job", id), logx.Time("fire_at", occ.fireAt), logx.Bool("fallback", occ.fallback))
		s.publish(EventPlanned, now, JobEvent{JobID: id, ScheduledFireTime: occ.fireAt, Period: occ.period, Fallback: occ.fallback})
	}
}

// dispatch starts exec. tr.running is already incremented.
func (s *Service) dispatch(tr *trigger, exec Execution) error {
	s.running.Add(1)
	s.inflight.Add(1)
	s.publish(EventFired, exec.FireTime, execEvent(exec))
	s.log.Debug("execution fired",
		logx.String("job", exec.JobID),
		logx.String("execution", exec.ID),
		logx.Time("scheduled", exec.ScheduledFireTime),
		logx.Bool("fallback", exec.Fallback),
		logx.Bool("manual", exec.Manual),
	)

	s.mu.Lock()
	runCtx := context.WithoutCancel(s.ctx)
	s.mu.Unlock()
	inv := tr.job.Invoker
	started := time.Now()
	finish := func(err error) { s.finish(tr, exec, started, err) }

	if !inv.Blocking() {
		ch, err := invoke(runCtx, inv, exec)
		if err != nil {
			finish(err)
			return nil
		}
		go func() { finish(await(ch)) }()
		return nil
	}

	if s.disp == nil {
		finish(errors.New("scheduler: no dispatcher for blocking invoker"))
		return nil
	}
	err := s.disp.Enqueue(engine.Task{
		ID:   exec.ID,
		Name: exec.JobID,
		Run: func(context.Context) error {
			ch, err := invoke(runCtx, inv, exec)
			if err != nil {
				return err
			}
			return await(ch)
		},
		OnDone: finish,
	})
	if err == nil {
		return nil
	}

	// Not accepted: the occurrence is dropped.
	tr.running.Add(-1)
	tr.n.fired.Add(^uint64(0))
	tr.n.dropped.Add(1)
	s.running.Add(-1)
	s.publish(EventDropped, exec.FireTime, JobEvent{JobID: exec.JobID, ExecutionID: exec.ID, FireTime: exec.FireTime, ScheduledFireTime: exec.ScheduledFireTime, Error: err.Error()})
	if s.shouldWarnDrop(time.Now()) {
		s.log.Warn("execution dropped: dispatcher rejected it", logx.String("job", exec.JobID), logx.Err(err))
	}
	s.inflight.Done()
	return err
}

func (s *Service) finish(tr *trigger, exec Execution, started time.Time, err error) {
	tr.running.Add(-1)
	s.running.Add(-1)
	ev := execEvent(exec)
	ev.Duration = time.Since(started)
	if err != nil {
		tr.n.failed.Add(1)
		ev.Error = err.Error()
		s.log.Warn("execution failed", logx.String("job", exec.JobID), logx.String("execution", exec.ID), logx.Duration("took", ev.Duration), logx.Err(err))
		s.publish(EventFailed, s.clk.Now(), ev)
	} else {
		tr.n.completed.Add(1)
		s.log.Debug("execution completed", logx.String("job", exec.JobID), logx.String("execution", exec.ID), logx.Duration("took", ev.Duration))
		s.publish(EventCompleted, s.clk.Now(), ev)
	}
	s.inflight.Done()
}

// Execute runs a job now, outside its plan. Pause and the skip predicate do
// not apply; the SKIP policy does.
func (s *Service) Execute(ctx context.Context, id string) (Execution, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return Execution{}, err
		}
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	shutdown, started := s.shutdown, s.started
	tr, ok := s.byID[id]
	s.mu.Unlock()
	switch {
	case shutdown:
		return Execution{}, ErrShutdown
	case !ok:
		return Execution{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	case !started:
		return Execution{}, ErrNotStarted
	}

	now := s.clk.Now()
	tr.mu.Lock()
	if tr.terminal {
		tr.mu.Unlock()
		return Execution{}, ErrShutdown
	}
	if tr.job.Policy == Skip && tr.running.Load() > 0 {
		tr.mu.Unlock()
		return Execution{}, fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	tr.running.Add(1)
	tr.n.fired.Add(1)
	tr.mu.Unlock()

	exec := Execution{ID: uuid.NewString(), JobID: id, FireTime: now, ScheduledFireTime: now, Manual: true}
	if err := s.dispatch(tr, exec); err != nil {
		return exec, err
	}
	return exec, nil
}

// Pause stops firing for every job. Due occurrences wait for Resume while
// their grace lasts.
func (s *Service) Pause() error {
	if s.isShutdown() {
		return ErrShutdown
	}
	if !s.paused.Swap(true) {
		s.log.Info("scheduler paused")
	}
	return nil
}

func (s *Service) Resume() error {
	if s.isShutdown() {
		return ErrShutdown
	}
	if s.paused.Swap(false) {
		s.log.Info("scheduler resumed")
	}
	return nil
}

func (s *Service) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// IsRunning reports whether the engine is started, enabled and not paused.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.shutdown && s.cfg.Enabled && !s.paused.Load()
}

func (s *Service) PauseJob(id string) error { return s.setJobPaused(id, true) }

func (s *Service) ResumeJob(id string) error { return s.setJobPaused(id, false) }

func (s *Service) IsPaused(id string) (bool, error) {
	tr, err := s.trigger(id)
	if err != nil {
		return false, err
	}
	return tr.isPaused(), nil
}

func (s *Service) setJobPaused(id string, p bool) error {
	if s.isShutdown() {
		return ErrShutdown
	}
	tr, err := s.trigger(id)
	if err != nil {
		return err
	}
	tr.setPaused(p)
	s.log.Debug("job pause changed", logx.String("job", id), logx.Bool("paused", p))
	return nil
}

func (s *Service) trigger(id string) (*trigger, error) {
	s.mu.Lock()
	tr, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return tr, nil
}

func (s *Service) publish(typ string, at time.Time, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}

func (s *Service) shouldWarnDrop(now time.Time) bool {
	prev := s.lastDropWarnAt.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(dropWarnEvery) {
		return false
	}
	return s.lastDropWarnAt.CompareAndSwap(prev, n)
}

func execEvent(e Execution) JobEvent {
	return JobEvent{
		JobID:             e.JobID,
		ExecutionID:       e.ID,
		FireTime:          e.FireTime,
		ScheduledFireTime: e.ScheduledFireTime,
		Period:            e.Period,
		Fallback:          e.Fallback,
		Manual:            e.Manual,
	}
}

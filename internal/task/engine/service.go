package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"greensched/internal/eventbus"
	rtsup "greensched/internal/runtime/supervisor"
	logx "greensched/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a bounded worker pool. The scheduler routes blocking
// invocations here so they never run on the tick goroutine.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	inFlight         atomic.Int32
	completed        atomic.Uint64
	failed           atomic.Uint64
	droppedQueueFull atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem

	lastQueueFullWarnAt int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "dispatcher")),
		bus: bus,
	}
}

// Start is idempotent. A Start during a pending Stop waits for it first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup, stopCh, queue := s.sup, s.stopCh, s.q
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("dispatcher started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop lets running tasks finish, then reports ErrStopped to every task
// still queued. It returns ctx.Err() when ctx ends first; the drain still
// completes in the background.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return nil
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	go func() {
		// Workers observe stopCh between tasks. The supervisor context is
		// not canceled so in-flight Run calls keep theirs.
		_ = sup.Wait(context.Background())
		sup.Cancel()
		s.drain(queue)

		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Service) drain(queue chan queuedTask) {
	for {
		select {
		case qt := <-queue:
			s.finish(qt.task, ErrStopped)
		default:
			return
		}
	}
}

// Enqueue adds t without blocking. A full queue returns ErrQueueFull and
// OnDone is not called.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	now := time.Now()

	// The send happens under mu so nothing lands in the queue after Stop
	// has closed stopCh; drain then sees every accepted task.
	s.mu.Lock()
	q := s.q
	switch {
	case q == nil || s.stopCh == nil:
		s.mu.Unlock()
		return ErrStopped
	case s.stopDone != nil:
		s.mu.Unlock()
		return ErrStopping
	}
	select {
	case q <- queuedTask{task: t, enqueuedAt: now}:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		s.onQueueFullDropped(now, t, q)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:          running,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) onQueueFullDropped(now time.Time, t Task, q chan queuedTask) {
	s.droppedQueueFull.Add(1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.dropped", Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"}})
	}
	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", s.droppedQueueFull.Load()),
		)
	}
}

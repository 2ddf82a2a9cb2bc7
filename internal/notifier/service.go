package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"slices"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"greensched/internal/eventbus"
	rtsup "greensched/internal/runtime/supervisor"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type queued struct {
	n   Notification
	key string
}

// Service queues notifications and delivers them from a worker pool with a
// shared rate limit, retries and dedup. It is safe for concurrent use.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	seen    *lru.Cache // dedup key -> suppress-until time.Time

	run *pipeline // nil while stopped
}

// pipeline is one Start..Stop cycle.
type pipeline struct {
	queue     chan queued
	sup       *rtsup.Supervisor
	enqueues  sync.WaitGroup
	accepting bool
	stopped   chan struct{} // non-nil once Stop began
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, sender: sender}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the config and sender. Workers pick them up on their next send.
func (s *Service) Apply(cfg Config, sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(cfg)
	if sender != nil {
		s.sender = sender
	}
}

func (s *Service) applyLocked(cfg Config) {
	cfg = withDefaults(cfg)
	s.cfg = cfg
	// burst = rate so a short spike is not throttled
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	if s.seen == nil {
		s.seen, _ = lru.New(cfg.DedupMaxEntries)
	} else {
		s.seen.Resize(cfg.DedupMaxEntries)
	}
}

func withDefaults(cfg Config) Config {
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&cfg.Workers, 2)
	setInt(&cfg.QueueSize, 256)
	setInt(&cfg.RatePerSec, 3)
	setInt(&cfg.DedupMaxEntries, 2000)
	setDur(&cfg.RetryBase, 500*time.Millisecond)
	setDur(&cfg.RetryMaxDelay, 10*time.Second)
	setDur(&cfg.SendTimeout, 10*time.Second)
	cfg.RetryMax = max(cfg.RetryMax, 0)
	cfg.DedupWindow = max(cfg.DedupWindow, 0)
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	return cfg
}

// Wants reports whether a job event of type typ produces a notification.
func (s *Service) Wants(typ string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && slices.Contains(s.cfg.Events, typ)
}

// Start is idempotent and a no-op when disabled. A Start during a pending
// Stop waits for it to finish.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if p := s.run; p != nil && p.stopped != nil {
		s.mu.Unlock()
		select {
		case <-p.stopped:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.run != nil || !s.cfg.Enabled {
		return
	}

	p := &pipeline{
		queue:     make(chan queued, s.cfg.QueueSize),
		accepting: true,
		// alerts are best-effort and never cancel anything else
		sup: rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	s.run = p
	for i := 0; i < s.cfg.Workers; i++ {
		p.sup.GoRestart(fmt.Sprintf("notify.worker.%d", i), func(c context.Context) error {
			return s.work(c, p.queue)
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Any("events", s.cfg.Events))
}

// Stop closes intake and lets the workers drain the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	if p.stopped != nil {
		s.mu.Unlock()
		select {
		case <-p.stopped:
		case <-ctx.Done():
		}
		return
	}
	p.accepting = false
	p.stopped = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(p.stopped)
		p.enqueues.Wait()
		close(p.queue)
		_ = p.sup.Wait(context.Background())

		s.mu.Lock()
		if s.run == p {
			s.run = nil
		}
		s.mu.Unlock()
	}()

	select {
	case <-p.stopped:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// Run turns job events from bus into notifications until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	events, unsub := s.bus.Subscribe(256, "job.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ev, isJob := e.Data.(scheduler.JobEvent)
			if !isJob || !s.Wants(e.Type) {
				continue
			}
			n := Notification{Event: e.Type, JobID: ev.JobID, Text: Format(e.Type, ev), At: e.Time, Job: ev}
			if err := s.Notify(ctx, n); err != nil && !errors.Is(err, ErrDisabled) && !errors.Is(err, ErrStopped) {
				s.log.Warn("notification not queued", logx.String("job", ev.JobID), logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

// Notify queues n without blocking. A duplicate inside DedupWindow is
// dropped silently.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	p := s.run
	if p == nil || !p.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	p.enqueues.Add(1)
	window := s.cfg.DedupWindow
	s.mu.Unlock()
	defer p.enqueues.Done()

	key := dedupKey(n)
	if window > 0 && s.duplicate(key, window) {
		s.publish(EventDeduped, n, key, nil)
		return nil
	}
	select {
	case p.queue <- queued{n: n, key: key}:
		s.publish(EventQueued, n, key, nil)
		return nil
	default:
		s.publish(EventDropped, n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// duplicate reports whether key was seen inside window, and records it
// otherwise. The cache bounds memory by evicting the least recent keys.
func (s *Service) duplicate(key string, window time.Duration) bool {
	s.mu.Lock()
	seen := s.seen
	s.mu.Unlock()

	now := time.Now()
	if v, ok := seen.Get(key); ok && now.Before(v.(time.Time)) {
		return true
	}
	seen.Add(key, now.Add(window))
	return false
}

func (s *Service) publish(typ string, n Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Event: n.Event, JobID: n.JobID, Key: key, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

// work drains q. A closed queue is a clean stop.
func (s *Service) work(ctx context.Context, q <-chan queued) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-q:
			if !ok {
				return nil
			}
			s.deliver(ctx, item)
		}
	}
}

func (s *Service) deliver(ctx context.Context, item queued) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(retryDelay(cfg, attempt-1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
		if lim.Wait(ctx) != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err = sender.Send(callCtx, item.n)
		cancel()
		if err == nil {
			s.publish(EventSent, item.n, item.key, nil)
			return
		}
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
	}
	s.log.Warn("notification failed", logx.String("job", item.n.JobID), logx.String("event", item.n.Event), logx.Err(err))
	s.publish(EventFailed, item.n, item.key, err)
}

func dedupKey(n Notification) string {
	h := fnv.New64a()
	for _, part := range []string{n.Event, n.JobID, n.Text} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// retryDelay is the wait after the given failed attempt: RetryBase doubled
// per attempt, capped at RetryMaxDelay, with 30% jitter.
func retryDelay(cfg Config, failed int) time.Duration {
	d := cfg.RetryMaxDelay
	if shift := failed - 1; shift < 20 {
		d = min(cfg.RetryBase<<shift, cfg.RetryMaxDelay)
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

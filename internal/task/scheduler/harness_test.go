package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/clock"
	"greensched/internal/eventbus"
	"greensched/internal/forecast"
	"greensched/internal/task/engine"
	logx "greensched/pkg/logx"
)

func amsterdam(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	return loc
}

// greenFrom serves 300 everywhere except 100 for one hour from tod,
// sampled every minute.
func greenFrom(loc *time.Location, tod time.Duration) forecast.Source {
	return forecast.Profile{
		Location: loc,
		Step:     time.Minute,
		Base:     300,
		Bands:    []forecast.Band{{Start: tod, End: (tod + time.Hour) % (24 * time.Hour), Value: 100}},
	}
}

func hm(h, m int) time.Duration { return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute }

// recorder is a non-blocking invoker that remembers every execution.
type recorder struct {
	mu    sync.Mutex
	execs []Execution
	// hold keeps results pending until release is called.
	hold    bool
	pending []chan error
}

func (r *recorder) Invoke(_ context.Context, e Execution) <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, e)
	ch := make(chan error, 1)
	if r.hold {
		r.pending = append(r.pending, ch)
		return ch
	}
	close(ch)
	return ch
}

func (r *recorder) Blocking() bool { return false }

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.execs)
}

func (r *recorder) fireTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, 0, len(r.execs))
	for _, e := range r.execs {
		out = append(out, e.FireTime)
	}
	return out
}

func (r *recorder) jobIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.execs))
	for _, e := range r.execs {
		out = append(out, e.JobID)
	}
	return out
}

func (r *recorder) release(err error) {
	r.mu.Lock()
	ps := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, ch := range ps {
		ch <- err
		close(ch)
	}
}

type harness struct {
	t   *testing.T
	clk *clock.Manual
	svc *Service
	bus eventbus.Bus
	loc *time.Location
}

type harnessOpt func(*Config, *Deps)

func withDispatcher() harnessOpt {
	return func(_ *Config, d *Deps) {
		d.Dispatcher = engine.New(engine.Config{Workers: 2, QueueSize: 8}, logx.Nop(), d.Bus)
	}
}

func withConfig(fn func(*Config)) harnessOpt {
	return func(c *Config, _ *Deps) { fn(c) }
}

// newHarness starts a Service driven by a manual clock: every clock move
// runs one tick.
func newHarness(t *testing.T, start time.Time, src forecast.Source, opts ...harnessOpt) *harness {
	t.Helper()
	clk := clock.NewManual(start)
	bus := eventbus.New()
	cfg := Config{Enabled: true}
	deps := Deps{Clock: clk, Forecast: src, Log: logx.Nop(), Bus: bus}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	svc := New(cfg, deps)
	h := &harness{t: t, clk: clk, svc: svc, bus: bus, loc: start.Location()}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return h
}

// start begins ticking at the current clock time.
func (h *harness) start() {
	h.svc.Start(context.Background())
	h.clk.OnChange(h.svc.Evaluate)
	h.svc.Evaluate(h.clk.Now())
}

func (h *harness) register(def Definition, inv Invoker, skip SkipPredicate) {
	h.t.Helper()
	job, err := BuildJob(def, inv, skip, BuildOptions{Now: h.clk.Now, DefaultLocation: h.loc})
	require.NoError(h.t, err)
	require.NoError(h.t, h.svc.Register(job))
}

func (h *harness) at(day, hour, minute int) time.Time {
	now := h.clk.Now()
	return time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, h.loc)
}

func (h *harness) job(id string) JobInfo {
	h.t.Helper()
	info, err := h.svc.Job(id)
	require.NoError(h.t, err)
	return info
}

func assertInstant(t *testing.T, want, got time.Time) {
	t.Helper()
	assert.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func assertInstants(t *testing.T, want, got []time.Time) {
	t.Helper()
	if !assert.Len(t, got, len(want)) {
		return
	}
	for i := range want {
		assertInstant(t, want[i], got[i])
	}
}

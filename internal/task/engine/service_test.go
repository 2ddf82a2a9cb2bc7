package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/eventbus"
	logx "greensched/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, bus
}

func TestEnqueueRunsAndReportsDone(t *testing.T) {
	t.Parallel()

	s, _ := startEngine(t, Config{Workers: 2})
	done := make(chan error, 2)

	require.NoError(t, s.Enqueue(Task{Name: "ok", Run: func(context.Context) error { return nil }, OnDone: func(err error) { done <- err }}))
	require.NoError(t, s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }, OnDone: func(err error) { done <- err }}))

	var errs []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			errs = append(errs, err)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for tasks")
		}
	}
	assert.Len(t, errs, 2)

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.EqualValues(t, 1, snap.Completed)
	assert.EqualValues(t, 1, snap.Failed)
	for _, h := range snap.History {
		assert.NotEmpty(t, h.ID)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s, _ := startEngine(t, Config{Workers: 1})
	done := make(chan error, 1)
	require.NoError(t, s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("oops") }, OnDone: func(err error) { done <- err }}))

	err := <-done
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "oops", pe.Value)

	// The worker survived.
	require.NoError(t, s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }, OnDone: func(err error) { done <- err }}))
	assert.NoError(t, <-done)
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()

	s, bus := startEngine(t, Config{Workers: 1, QueueSize: 1})
	dropped, unsub := bus.Subscribe(4, "task.dropped")
	defer unsub()

	release := make(chan struct{})
	started := make(chan struct{})
	block := func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	require.NoError(t, s.Enqueue(Task{Name: "blocker", Run: block}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, s.Enqueue(Task{Name: "overflow", Run: func(context.Context) error { return nil }}), ErrQueueFull)
	close(release)

	select {
	case e := <-dropped:
		assert.Equal(t, "overflow", e.Data.(TaskEvent).Name)
	case <-time.After(time.Second):
		t.Fatal("no task.dropped event")
	}
	assert.EqualValues(t, 1, s.Snapshot().DroppedQueueFull)
}

func TestStopLetsRunningFinishAndDrainsQueue(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), nil)
	s.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	results := map[string]error{}
	onDone := func(name string) func(error) {
		return func(err error) {
			mu.Lock()
			results[name] = err
			mu.Unlock()
		}
	}

	require.NoError(t, s.Enqueue(Task{Name: "running", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return ctx.Err()
	}, OnDone: onDone("running")}))
	<-started
	require.NoError(t, s.Enqueue(Task{Name: "queued", Run: func(context.Context) error { return nil }, OnDone: onDone("queued")}))

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		return errors.Is(s.Enqueue(Task{Name: "late", Run: func(context.Context) error { return nil }}), ErrStopping)
	}, time.Second, time.Millisecond)

	close(release)
	require.NoError(t, <-stopped)

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, results["running"], "running task keeps a live context")
	assert.ErrorIs(t, results["queued"], ErrStopped)
	assert.ErrorIs(t, s.Enqueue(Task{Name: "after", Run: func(context.Context) error { return nil }}), ErrStopped)
}

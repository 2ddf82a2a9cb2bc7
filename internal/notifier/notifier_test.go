package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/eventbus"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

func capture() (Sender, <-chan Notification) {
	ch := make(chan Notification, 16)
	return SenderFunc(func(_ context.Context, n Notification) error {
		ch <- n
		return nil
	}), ch
}

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("no notification delivered")
		return Notification{}
	}
}

func startService(t *testing.T, cfg Config, sender Sender, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop(), bus)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		s.Stop(stopCtx)
		cancel()
	})
	return s
}

func TestFormat(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 6, 3, 2, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		typ  string
		ev   scheduler.JobEvent
		want string
	}{
		{name: "failed", typ: scheduler.EventFailed, ev: scheduler.JobEvent{JobID: "backup", Duration: time.Second, Error: "exit code 2"},
			want: "job backup failed: exit code 2"},
		{name: "missed", typ: scheduler.EventMissed, ev: scheduler.JobEvent{JobID: "report", ScheduledFireTime: at, Fallback: true},
			want: "job report missed (planned 2024-06-03T02:00:00Z) [cron fallback]"},
		{name: "completed", typ: scheduler.EventCompleted, ev: scheduler.JobEvent{JobID: "backup", Duration: 1500 * time.Millisecond},
			want: "job backup completed after 1.5s"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Format(tc.typ, tc.ev))
		})
	}
}

func TestDisabledRejectsNotify(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop(), nil)
	s.Start(context.Background())
	assert.ErrorIs(t, s.Notify(context.Background(), Notification{JobID: "a"}), ErrDisabled)
	assert.False(t, s.Wants(scheduler.EventFailed))
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	deduped, unsub := bus.Subscribe(8, EventDeduped)
	defer unsub()
	sender, ch := capture()
	s := startService(t, Config{Enabled: true, DedupWindow: time.Hour, DedupMaxEntries: 1}, sender, bus)

	n := Notification{Event: scheduler.EventFailed, JobID: "backup", Text: "job backup failed"}
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), n))
	require.NoError(t, s.Notify(context.Background(), Notification{Event: scheduler.EventFailed, JobID: "report", Text: "job report failed"}))

	got := []string{receive(t, ch).JobID, receive(t, ch).JobID}
	assert.ElementsMatch(t, []string{"backup", "report"}, got)
	select {
	case extra := <-ch:
		t.Fatalf("duplicate delivered: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case e := <-deduped:
		assert.Equal(t, "backup", e.Data.(NotificationEvent).JobID)
	case <-time.After(time.Second):
		t.Fatal("no notify.deduped event")
	}

	// With room for one key, "report" evicted "backup".
	require.NoError(t, s.Notify(context.Background(), n))
	assert.Equal(t, "backup", receive(t, ch).JobID)
}

func TestRetryDelayIsCapped(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second})
	for failed, want := range map[int]time.Duration{1: 100 * time.Millisecond, 3: 400 * time.Millisecond, 10: time.Second, 64: time.Second} {
		got := retryDelay(cfg, failed)
		assert.LessOrEqual(t, got, min(want*13/10, time.Second), failed)
		assert.GreaterOrEqual(t, got, want*7/10, failed)
	}
}

func TestSendIsRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	done := make(chan struct{})
	sender := SenderFunc(func(context.Context, Notification) error {
		if calls.Add(1) < 3 {
			return errors.New("temporarily unavailable")
		}
		close(done)
		return nil
	})
	s := startService(t, Config{Enabled: true, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond, RatePerSec: 100}, sender, nil)
	require.NoError(t, s.Notify(context.Background(), Notification{JobID: "backup", Text: "x"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send never succeeded")
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestRunFiltersJobEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sender, ch := capture()
	s := startService(t, Config{Enabled: true, Events: []string{scheduler.EventFailed}}, sender, bus)

	sent, unsub := bus.Subscribe(8, "notify.sent")
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	running := make(chan struct{})
	go func() {
		close(running)
		_ = s.Run(ctx)
	}()
	<-running

	// Run subscribes asynchronously; publish until the failure gets through.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: scheduler.EventCompleted, Time: time.Now(), Data: scheduler.JobEvent{JobID: "backup"}})
		bus.Publish(eventbus.Event{Type: scheduler.EventFailed, Time: time.Now(), Data: scheduler.JobEvent{JobID: "backup", Error: "boom"}})
		select {
		case n := <-ch:
			assert.Equal(t, scheduler.EventFailed, n.Event)
			assert.Equal(t, "job backup failed: boom", n.Text)
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 5*time.Second, time.Millisecond)

	select {
	case e := <-sent:
		assert.Equal(t, "backup", e.Data.(NotificationEvent).JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("no notify.sent event")
	}
}

func TestWebhookSender(t *testing.T) {
	t.Parallel()

	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.JobID == "bad" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	w := &Webhook{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}}
	require.NoError(t, w.Send(context.Background(), Notification{Event: scheduler.EventFailed, JobID: "backup", Text: "t"}))
	assert.Equal(t, "backup", got.JobID)

	err := w.Send(context.Background(), Notification{JobID: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	assert.Error(t, (&Webhook{}).Send(context.Background(), Notification{}))
}

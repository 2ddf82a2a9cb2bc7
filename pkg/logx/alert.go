package logx

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// alertSink posts selected log records to a webhook as raw zerolog JSON.
//
// Writes never block logging: records are rate limited and queued, and the
// queue drops when full.
type alertSink struct {
	mu       sync.Mutex
	url      string
	minLevel zerolog.Level
	limiter  *rate.Limiter
	client   *http.Client

	queue  chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAlertSink() *alertSink {
	ctx, cancel := context.WithCancel(context.Background())
	a := &alertSink{
		queue:  make(chan []byte, 256),
		cancel: cancel,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.worker(ctx)
	}()
	return a
}

func (a *alertSink) configure(cfg AlertConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a.mu.Lock()
	a.url = cfg.URL
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Timeout > 0 {
		a.client = &http.Client{Timeout: cfg.Timeout}
	}
	a.mu.Unlock()
}

func (a *alertSink) close() {
	a.cancel()
	a.wg.Wait()
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	min := a.minLevel
	lim := a.limiter
	a.mu.Unlock()

	if level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	// zerolog reuses p after Write returns.
	buf := append([]byte(nil), p...)
	select {
	case a.queue <- buf:
	default:
	}
	return len(p), nil
}

func (a *alertSink) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case body := <-a.queue:
			a.post(ctx, body)
		}
	}
}

func (a *alertSink) post(ctx context.Context, body []byte) {
	a.mu.Lock()
	url := a.url
	client := a.client
	a.mu.Unlock()
	if url == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

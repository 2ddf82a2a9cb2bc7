package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"greensched/internal/planner"
	"greensched/internal/task/scheduler"
)

// Webhook sends the execution as JSON to URL. Any non-2xx status fails the
// run.
//
// A synchronous webhook is a blocking invoker. An async one sends from its
// own goroutine and does not occupy a worker.
type Webhook struct {
	URL     string
	Method  string
	Headers map[string]string
	Async   bool
	Client  *http.Client
}

var _ scheduler.Invoker = (*Webhook)(nil)

type webhookPayload struct {
	JobID             string          `json:"job_id"`
	ExecutionID       string          `json:"execution_id"`
	FireTime          time.Time       `json:"fire_time"`
	ScheduledFireTime time.Time       `json:"scheduled_fire_time"`
	Fallback          bool            `json:"fallback"`
	Manual            bool            `json:"manual"`
	Period            *planner.Period `json:"period,omitempty"`
}

func (w *Webhook) Blocking() bool { return !w.Async }

func (w *Webhook) Invoke(ctx context.Context, e scheduler.Execution) <-chan error {
	ch := make(chan error, 1)
	if !w.Async {
		ch <- w.send(ctx, e)
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		ch <- w.send(ctx, e)
	}()
	return ch
}

func (w *Webhook) send(ctx context.Context, e scheduler.Execution) error {
	body, err := json.Marshal(webhookPayload{
		JobID:             e.JobID,
		ExecutionID:       e.ID,
		FireTime:          e.FireTime,
		ScheduledFireTime: e.ScheduledFireTime,
		Fallback:          e.Fallback,
		Manual:            e.Manual,
		Period:            e.Period,
	})
	if err != nil {
		return err
	}

	method := strings.ToUpper(strings.TrimSpace(w.Method))
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer res.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("webhook: %s %s: status %d: %s", method, w.URL, res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

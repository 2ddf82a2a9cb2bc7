package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// Webhook posts each notification as JSON to URL.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func (w *Webhook) Send(ctx context.Context, n Notification) error {
	if w.URL == "" {
		return errors.New("notify webhook: url is empty")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify webhook: status %d", resp.StatusCode)
	}
	return nil
}

// Package notify dispatches task lifecycle notifications. Delivery
// mechanics beyond a single webhook POST (push fan-out, retries) live
// outside this process.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yazinsai/mic-worker/internal/task"
)

// Event names the transition that triggered a notification.
type Event string

const (
	EventCompleted        Event = "completed"
	EventFailed           Event = "failed"
	EventAwaitingFeedback Event = "awaiting-feedback"
)

// Notification is the outbound payload, keyed by task id/title/type.
type Notification struct {
	TaskID string    `json:"taskId"`
	Title  string    `json:"title"`
	Type   task.Type `json:"type"`
	Event  Event     `json:"event"`
}

// Notifier delivers one notification. Implementations must not block
// task finalization on delivery problems.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications; used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Webhook posts each notification as JSON to a single URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook builds a webhook notifier with a bounded request timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the payload. Non-2xx responses are reported as errors so
// the caller can log them; callers never fail the task over delivery.
func (w *Webhook) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post %s: %w", w.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify: post %s: status %s", w.URL, resp.Status)
	}
	return nil
}

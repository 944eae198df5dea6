// Package notify delivers care messages to the user, best-effort. A
// failed delivery is reported as false, never as an error the dispatch
// pipeline has to handle.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Notifier is the delivery capability.
type Notifier interface {
	Notify(ctx context.Context, title, body string) bool
}

// LogNotifier writes notifications to the process log. Used when no
// delivery channel is configured.
type LogNotifier struct{}

// Notify logs the notification and reports success.
func (LogNotifier) Notify(ctx context.Context, title, body string) bool {
	log.Printf("通知：%s - %s", title, body)
	return true
}

// WebhookNotifier POSTs notifications as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier.
func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify delivers the notification. Any transport or status failure is
// logged and reported as false.
func (w *WebhookNotifier) Notify(ctx context.Context, title, body string) bool {
	payload, err := json.Marshal(map[string]string{
		"title":   title,
		"message": body,
	})
	if err != nil {
		log.Printf("发送通知失败: %v", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("发送通知失败: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		log.Printf("发送通知失败: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("发送通知失败: status %d", resp.StatusCode)
		return false
	}
	return true
}

// MockNotifier records notifications for tests.
type MockNotifier struct {
	Titles []string
	Bodies []string
	Result bool
}

// Notify records the call and returns the configured result.
func (m *MockNotifier) Notify(ctx context.Context, title, body string) bool {
	m.Titles = append(m.Titles, title)
	m.Bodies = append(m.Bodies, body)
	return m.Result
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Reminder is what the dispatch engine hands to the notification transport.
// How it reaches the user (chat message, push, email) is the transport's
// concern, not the engine's.
type Reminder struct {
	EventID     string    `json:"event_id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	EventTime   time.Time `json:"event_time"`
}

// Notifier delivers one reminder and reports the outcome synchronously.
// A returned error schedules a retry; nil finalizes the delivery.
type Notifier interface {
	Send(ctx context.Context, r Reminder) error
}

// LogNotifier writes reminders to the process log. Default transport for
// development and for deployments where a downstream agent tails the log.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, r Reminder) error {
	slog.Info("[Notify] Reminder",
		"event_id", r.EventID,
		"owner_id", r.OwnerID,
		"title", r.Title,
		"event_time", r.EventTime)
	return nil
}

// WebhookNotifier POSTs the reminder as JSON to a configured endpoint.
// Any non-2xx response counts as a failed attempt.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook transport with the given per-send timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, r Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

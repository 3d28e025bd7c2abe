package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sinkResponseReadLimit int64 = 512

// WebhookSink posts JSON to the internal notification endpoint.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink returns nil when url is empty so callers can skip the task.
func NewWebhookSink(url string, timeout time.Duration, client *http.Client) *WebhookSink {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookSink{url: url, httpClient: client}
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Send posts {type, data} and expects a 2xx.
func (s *WebhookSink) Send(ctx context.Context, eventType string, data any) error {
	if s == nil {
		return errors.New("webhook sink not configured")
	}
	payload, err := json.Marshal(webhookEnvelope{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, sinkResponseReadLimit))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

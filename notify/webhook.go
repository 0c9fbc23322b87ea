package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// webhookPayload is the JSON body POSTed to the mail relay.
type webhookPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Webhook hands messages to an HTTP mail relay. A 5xx response or transport
// error is retried once; a 4xx response is not.
type Webhook struct {
	url        string
	authHeader string // "Header: Value" format, e.g., "Authorization: Bearer xxx"
	client     *http.Client
	retryDelay time.Duration
}

var _ Sender = (*Webhook)(nil)

// NewWebhook returns a Webhook sender posting to url.
func NewWebhook(url, authHeader string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return &Webhook{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
	}, nil
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{To: msg.To, Subject: msg.Subject, HTML: msg.HTML, Text: msg.Text})
	if err != nil {
		return fmt.Errorf("webhook marshal: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Budgetkeeper-Notify/1.0")
		if w.authHeader != "" {
			parts := strings.SplitN(w.authHeader, ":", 2)
			if len(parts) == 2 {
				req.Header.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("webhook request failed: %w", err)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("webhook server error: status %d", resp.StatusCode)
			continue
		default:
			return fmt.Errorf("webhook client error: status %d", resp.StatusCode)
		}
	}
	return lastErr
}

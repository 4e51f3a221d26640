// Package notify delivers out-of-band escalations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	terrors "github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/errors"
	"github.com/SonOfSamuel1/My-Workspace-TB--sub005/internal/logging"
)

// DefaultMaxLen keeps a message inside ten SMS segments.
const DefaultMaxLen = 1600

// Webhook posts {"channel": ..., "text": ...} as JSON to URL.
type Webhook struct {
	URL    string
	MaxLen int
	Client *http.Client
}

// NewWebhook returns a Webhook with a 10s client timeout.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		MaxLen: DefaultMaxLen,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// Notify posts message. A non-2xx answer is returned as NOTIFY_FAILED with
// the status, so 5xx and 429 stay retryable.
func (w *Webhook) Notify(ctx context.Context, channel, message string) error {
	payload, err := json.Marshal(webhookPayload{Channel: channel, Text: Truncate(message, w.MaxLen)})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return terrors.NewNotifyFailed(channel, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Log writes escalations to the log instead of sending them. run --dry-run
// uses it in place of the webhook.
type Log struct {
	Log *logging.Logger
}

// Notify always succeeds.
func (l Log) Notify(_ context.Context, channel, message string) error {
	if l.Log != nil {
		l.Log.Warn("escalation", "channel", channel, "message", message)
	}
	return nil
}

// Truncate shortens s to at most max bytes, ending with "..." when cut.
// max <= 0 means no limit.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	cut := max - 3
	// Back up to a rune boundary.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}

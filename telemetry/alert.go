// CLAUDE:SUMMARY Diagnostic alert boundary — Alert payload, Alerter interface, webhook implementation.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Alert is the diagnostic event raised when a measurement is both invalid
// and low-confidence. Evidence is an optional page capture (PNG) supplied
// by the scraping collaborator; failing to capture it never fails the alert.
type Alert struct {
	PostID      string          `json:"post_id"`
	Phase       string          `json:"phase"`
	Measurement *RawMeasurement `json:"measurement"`
	Anomalies   []string        `json:"anomalies"`
	Confidence  float64         `json:"confidence"`
	RaisedAt    int64           `json:"raised_at"`
	Evidence    []byte          `json:"evidence,omitempty"`
}

// Alerter delivers diagnostic alerts. Implementations must be safe for
// concurrent use.
type Alerter interface {
	Send(ctx context.Context, a *Alert) error
}

// NopAlerter drops alerts. Useful when no sink is configured.
type NopAlerter struct{}

func (NopAlerter) Send(context.Context, *Alert) error { return nil }

// WebhookAlerter POSTs alerts as JSON to a fixed URL with a short timeout.
type WebhookAlerter struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookAlerter creates a webhook alert sink. A zero timeout defaults
// to 10s.
func NewWebhookAlerter(url string, timeout time.Duration, logger *slog.Logger) *WebhookAlerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookAlerter{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send delivers the alert. Non-2xx responses are errors so the caller's
// best-effort logging sees them.
func (w *WebhookAlerter) Send(ctx context.Context, a *Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("alert: POST %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("alert: HTTP %d from %s: %s", resp.StatusCode, w.url, string(respBody))
	}
	return nil
}

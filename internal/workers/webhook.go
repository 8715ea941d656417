package workers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/walofficial/wal-server/internal/broker"
)

// WebhookOptions configures the webhook worker.
type WebhookOptions struct {
	// URL is the endpoint envelopes are POSTed to.
	URL string

	// Secret signs the payload; empty disables signing.
	Secret string

	// Timeout bounds each request. Defaults to 5s.
	Timeout time.Duration
}

// WebhookWorker delivers envelopes to an HTTP endpoint. 4xx responses are
// fatal (the payload will never be accepted), 5xx and transport errors are
// retryable via backend redelivery.
type WebhookWorker struct {
	client *http.Client
	url    string
	secret string
}

// NewWebhookWorker creates a worker posting to opts.URL.
func NewWebhookWorker(opts WebhookOptions) *WebhookWorker {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookWorker{
		client: &http.Client{Timeout: timeout},
		url:    opts.URL,
		secret: opts.Secret,
	}
}

// Process posts the envelope to the configured endpoint.
func (w *WebhookWorker) Process(ctx context.Context, env *Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return &broker.FatalError{Err: fmt.Errorf("failed to marshal envelope: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return &broker.FatalError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wal-server/1.0")

	if w.secret != "" {
		timestamp := time.Now().Unix()
		req.Header.Set("X-Wal-Signature", signPayload(payload, w.secret, timestamp))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &broker.FatalError{Err: fmt.Errorf("webhook rejected payload with status %d", resp.StatusCode)}
	}
	return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
}

// signPayload computes the signature header: t={ts},v1={hex(hmac)}.
func signPayload(body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

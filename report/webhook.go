package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/vgrid/connectivity"
)

// Webhook POSTs JSON to a URL with retry and exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the wait before the first retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting the given URL.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendCheck(ctx context.Context, res CheckResult) error {
	return w.post(ctx, "check", res)
}

func (w *Webhook) SendRender(ctx context.Context, res RenderResult) error {
	return w.post(ctx, "render", res)
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) post(ctx context.Context, typ string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	policy := connectivity.RetryPolicy{
		MaxRetries: w.maxRetries,
		Backoff:    w.backoff,
		Logger:     w.logger,
	}
	err = connectivity.Retry(ctx, policy, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return connectivity.Permanent(fmt.Errorf("webhook: new request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return &connectivity.StatusError{Method: http.MethodPost, URL: w.url, Code: resp.StatusCode}
	})
	if err != nil {
		return fmt.Errorf("webhook: all retries exhausted: %w", err)
	}
	return nil
}

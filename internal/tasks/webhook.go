// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// WEBHOOK
// =============================================================================

// DefaultWebhookTimeout bounds one webhook delivery when none is configured.
const DefaultWebhookTimeout = 5 * time.Second

// WebhookSignaler posts each signal as JSON to an engine endpoint. Any
// non-2xx response is a delivery failure.
type WebhookSignaler struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhookSignaler creates a signaler for url. A zero timeout uses
// DefaultWebhookTimeout.
func NewWebhookSignaler(url string, timeout time.Duration) *WebhookSignaler {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookSignaler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// WithToken sets a bearer token sent with every delivery.
func (w *WebhookSignaler) WithToken(token string) *WebhookSignaler {
	w.token = token
	return w
}

// Signal implements Signaler.
func (w *WebhookSignaler) Signal(ctx context.Context, sig Signal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver signal for %s: %w", sig.StatusID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver signal for %s: webhook answered %s", sig.StatusID, resp.Status)
	}
	return nil
}
